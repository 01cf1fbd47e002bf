// Package config provides the chain configuration store used by the
// advancement engine. Chain definitions are immutable per version; the store
// rejects structurally invalid configurations on write.
package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/approvia/approvia/pkg/models"
)

// Standard configuration store error types.
var (
	// ErrChainNotFound indicates no chain exists for the given identifier.
	ErrChainNotFound = errors.New("chain not found")

	// ErrSectionNotFound indicates the section order is out of range for the chain.
	ErrSectionNotFound = errors.New("section not found")
)

// ConfigurationError indicates malformed chain, section or step data. It is
// fatal for the chain it names: callers must halt processing rather than
// guess intent.
type ConfigurationError struct {
	ChainID string
	Detail  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for chain %s: %s", e.ChainID, e.Detail)
}

// IsConfigurationError reports whether err is a fatal configuration error.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError

	return errors.As(err, &cfgErr)
}

// ChainStore provides read access to chain definitions. It is read-only for
// the advancement engine; writes go through the admission path which
// validates invariants.
type ChainStore interface {
	// Chain returns the latest version of a chain.
	Chain(ctx context.Context, chainID string) (*models.Chain, error)

	// ChainVersion returns a specific pinned version of a chain.
	ChainVersion(ctx context.Context, chainID string, version int) (*models.Chain, error)

	// Section returns the section of the latest chain version at the given
	// order, failing with ErrSectionNotFound when out of range.
	Section(ctx context.Context, chainID string, order int) (*models.Section, error)

	// PutChain validates and admits a chain definition as a new immutable
	// version, returning the stored copy.
	PutChain(ctx context.Context, chain *models.Chain) (*models.Chain, error)
}

// ValidateChain checks the structural invariants every admitted chain must
// satisfy: at least one section, contiguous zero-based section orders, and
// per-section step numbering that is 1-based, contiguous and ordered.
func ValidateChain(chain *models.Chain) error {
	if chain.ID == "" {
		return &ConfigurationError{ChainID: chain.ID, Detail: "chain id is required"}
	}

	if len(chain.Sections) == 0 {
		return &ConfigurationError{ChainID: chain.ID, Detail: "chain has no sections"}
	}

	for i, section := range chain.Sections {
		if section.Order != i {
			return &ConfigurationError{
				ChainID: chain.ID,
				Detail:  fmt.Sprintf("section %q has order %d, want %d (orders must be contiguous from 0)", section.Name, section.Order, i),
			}
		}

		if err := validateSection(chain.ID, &section); err != nil {
			return err
		}
	}

	return nil
}

func validateSection(chainID string, section *models.Section) error {
	switch section.Kind {
	case models.SectionKindApproval:
		if len(section.Steps) == 0 {
			return &ConfigurationError{
				ChainID: chainID,
				Detail:  fmt.Sprintf("approval section %d has no steps", section.Order),
			}
		}

		for i, step := range section.Steps {
			if step.StepNumber != i+1 {
				return &ConfigurationError{
					ChainID: chainID,
					Detail: fmt.Sprintf("section %d step at index %d has number %d, want %d (steps must be contiguous from 1)",
						section.Order, i, step.StepNumber, i+1),
				}
			}

			if step.ApproverRole.Role == "" {
				return &ConfigurationError{
					ChainID: chainID,
					Detail:  fmt.Sprintf("section %d step %d has no approver role", section.Order, step.StepNumber),
				}
			}
		}
	case models.SectionKindForm:
		if len(section.Steps) > 0 {
			return &ConfigurationError{
				ChainID: chainID,
				Detail:  fmt.Sprintf("form section %d must not declare approval steps", section.Order),
			}
		}

		if section.TemplateRef == "" {
			return &ConfigurationError{
				ChainID: chainID,
				Detail:  fmt.Sprintf("form section %d has no template reference", section.Order),
			}
		}
	default:
		return &ConfigurationError{
			ChainID: chainID,
			Detail:  fmt.Sprintf("section %d has unknown kind %q", section.Order, section.Kind),
		}
	}

	return nil
}
