package directory

import (
	"context"
	"sync"

	"github.com/approvia/approvia/pkg/models"
)

// StaticDirectory is an in-memory role directory for tests and single-node
// deployments. Membership is configured up front or mutated at runtime; all
// methods are safe for concurrent use.
type StaticDirectory struct {
	mu        sync.RWMutex
	roleUsers map[string]map[string]struct{} // role -> user ids
	unitUsers map[string]map[string]struct{} // business unit -> user ids
}

// NewStaticDirectory creates an empty static directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		roleUsers: make(map[string]map[string]struct{}),
		unitUsers: make(map[string]map[string]struct{}),
	}
}

// AddMember registers a user as holding a role, optionally bound to a
// business unit. An empty businessUnitID records only the role membership.
func (d *StaticDirectory) AddMember(userID, role, businessUnitID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.roleUsers[role] == nil {
		d.roleUsers[role] = make(map[string]struct{})
	}

	d.roleUsers[role][userID] = struct{}{}

	if businessUnitID != "" {
		if d.unitUsers[businessUnitID] == nil {
			d.unitUsers[businessUnitID] = make(map[string]struct{})
		}

		d.unitUsers[businessUnitID][userID] = struct{}{}
	}
}

// RemoveMember removes a user's role membership.
func (d *StaticDirectory) RemoveMember(userID, role string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.roleUsers[role], userID)
}

// ResolveApprovers returns the users holding the referenced role, restricted
// to the business unit for business-unit scoped roles. The result is sorted
// for deterministic auto-assignment.
func (d *StaticDirectory) ResolveApprovers(_ context.Context, ref models.RoleRef, businessUnitID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	holders := d.roleUsers[ref.Role]
	if len(holders) == 0 {
		return []string{}, nil
	}

	if ref.Scope == models.RoleScopeOrg {
		return sortedKeys(holders), nil
	}

	unit := d.unitUsers[businessUnitID]
	matched := make(map[string]struct{})

	for id := range holders {
		if _, ok := unit[id]; ok {
			matched[id] = struct{}{}
		}
	}

	return sortedKeys(matched), nil
}
