// Package models defines the core domain models for chain-based approval routing.
package models

import "time"

// SectionKind distinguishes data-collection sections from approval sections.
type SectionKind string

const (
	SectionKindForm     SectionKind = "form"     // Data collection by an initiator
	SectionKindApproval SectionKind = "approval" // Ordered role-bound approvals
)

// RoleScope controls how a role reference resolves to users.
type RoleScope string

const (
	RoleScopeOrg          RoleScope = "org"           // Resolves across the whole organization
	RoleScopeBusinessUnit RoleScope = "business_unit" // Resolves only within the request's business unit
)

// RoleRef is a scoped reference to a role in the identity directory.
type RoleRef struct {
	Role  string    `json:"role"  validate:"required"`
	Scope RoleScope `json:"scope" validate:"required,oneof=org business_unit"`
}

// Step is a single required approval within an approval section.
// StepNumber is 1-based and defines the approval order inside the section.
type Step struct {
	StepNumber   int     `json:"step_number"   validate:"required,min=1"`
	ApproverRole RoleRef `json:"approver_role" validate:"required"`
}

// Section is one stage of a chain. Approval sections carry ordered steps;
// form sections carry a template reference and the roles allowed to initiate.
type Section struct {
	Order          int         `json:"order"`
	Kind           SectionKind `json:"kind" validate:"required,oneof=form approval"`
	Name           string      `json:"name" validate:"required"`
	Steps          []Step      `json:"steps,omitempty"`
	TemplateRef    string      `json:"template_ref,omitempty"`
	InitiatorRoles []RoleRef   `json:"initiator_roles,omitempty"`

	// HardFork forces a new linked request for this section even when the
	// previous initiator would be eligible to continue.
	HardFork bool `json:"hard_fork,omitempty"`
}

// Chain is an ordered sequence of sections defining a complete approval path.
// A chain version is immutable once referenced by a live request; edits
// produce a new version.
type Chain struct {
	ID        string    `json:"id"      validate:"required"`
	Name      string    `json:"name"    validate:"required,min=3"`
	Version   int       `json:"version" validate:"min=1"`
	Sections  []Section `json:"sections" validate:"required,min=1,dive"`
	CreatedAt time.Time `json:"created_at"`
}

// SectionCount returns the number of sections in the chain.
func (c *Chain) SectionCount() int {
	return len(c.Sections)
}

// SectionAt returns the section with the given order, or nil when the order
// is out of range.
func (c *Chain) SectionAt(order int) *Section {
	if order < 0 || order >= len(c.Sections) {
		return nil
	}

	return &c.Sections[order]
}

// IsLastSection reports whether the given order is the chain's final section.
func (c *Chain) IsLastSection(order int) bool {
	return order == len(c.Sections)-1
}

// StepAt returns the step with the given 1-based number, or nil when absent.
func (s *Section) StepAt(number int) *Step {
	for i := range s.Steps {
		if s.Steps[i].StepNumber == number {
			return &s.Steps[i]
		}
	}

	return nil
}

// PermitsInitiator reports whether any of the section's initiator roles is
// held by the given user according to the supplied role membership check.
// Form sections without initiator roles permit nobody explicitly; callers
// decide the fallback policy.
func (s *Section) PermitsInitiator(held func(RoleRef) bool) bool {
	for _, ref := range s.InitiatorRoles {
		if held(ref) {
			return true
		}
	}

	return false
}
