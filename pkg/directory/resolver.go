// Package directory resolves role references to concrete user identities.
// Resolution is scope-aware: org roles resolve across the whole organization,
// business-unit roles only to holders who also belong to the request's unit.
package directory

import (
	"context"
	"sort"

	"github.com/approvia/approvia/pkg/models"
)

// Resolver resolves a scoped role reference to the set of eligible users.
//
// An empty result is not an error: a role nobody currently holds is a valid
// stalled state that the engine surfaces to operators instead of blocking.
type Resolver interface {
	ResolveApprovers(ctx context.Context, ref models.RoleRef, businessUnitID string) ([]string, error)
}

// Contains reports whether userID appears in a resolved approver set.
func Contains(approvers []string, userID string) bool {
	for _, id := range approvers {
		if id == userID {
			return true
		}
	}

	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}
