package directory

import (
	"context"
	"fmt"
	"sort"

	"github.com/approvia/approvia/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	roleMembersKeyFormat = "approvia:role:%s:members"
	unitMembersKeyFormat = "approvia:unit:%s:members"
)

// RedisDirectory resolves role membership from Redis sets maintained by the
// identity synchronization job:
//
//	approvia:role:<role>:members  — user ids holding the role
//	approvia:unit:<unit>:members  — user ids belonging to the business unit
//
// Business-unit scoped roles resolve as the intersection of the two sets.
type RedisDirectory struct {
	client redis.UniversalClient
}

// NewRedisDirectory creates a directory backed by the given Redis client.
func NewRedisDirectory(client redis.UniversalClient) *RedisDirectory {
	return &RedisDirectory{client: client}
}

// NewRedisDirectoryFromURL connects to Redis using a redis:// URL.
func NewRedisDirectoryFromURL(ctx context.Context, url string) (*RedisDirectory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisDirectory{client: client}, nil
}

// ResolveApprovers implements Resolver.
func (d *RedisDirectory) ResolveApprovers(ctx context.Context, ref models.RoleRef, businessUnitID string) ([]string, error) {
	roleKey := fmt.Sprintf(roleMembersKeyFormat, ref.Role)

	var (
		members []string
		err     error
	)

	switch ref.Scope {
	case models.RoleScopeOrg:
		members, err = d.client.SMembers(ctx, roleKey).Result()
	case models.RoleScopeBusinessUnit:
		unitKey := fmt.Sprintf(unitMembersKeyFormat, businessUnitID)
		members, err = d.client.SInter(ctx, roleKey, unitKey).Result()
	default:
		return nil, fmt.Errorf("unknown role scope %q", ref.Scope)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to resolve approvers for role %s: %w", ref.Role, err)
	}

	sort.Strings(members)

	return members, nil
}

// Close releases the underlying Redis connection.
func (d *RedisDirectory) Close() error {
	return d.client.Close()
}
