package directory_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/models"
)

// Requires a running Redis; set REDIS_URL to enable.
func TestRedisDirectory(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis directory tests")
	}

	ctx := t.Context()

	dir, err := directory.NewRedisDirectoryFromURL(ctx, redisURL)
	require.NoError(t, err)

	t.Cleanup(func() { _ = dir.Close() })

	members, err := dir.ResolveApprovers(ctx, models.RoleRef{
		Role:  "nonexistent-role",
		Scope: models.RoleScopeOrg,
	}, "")
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = dir.ResolveApprovers(ctx, models.RoleRef{
		Role:  "any",
		Scope: models.RoleScope("bogus"),
	}, "")
	require.Error(t, err)
}

func TestRedisDirectoryFromURLRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := directory.NewRedisDirectoryFromURL(t.Context(), "not-a-url")
	require.Error(t, err)
}
