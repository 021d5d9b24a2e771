package entity

import (
	"context"
	"time"

	"github.com/halcyon-labs/entitycore/internal/repositories"
	"github.com/halcyon-labs/entitycore/pkg/cache"
)

const movedCacheTTL = time.Hour

// movedCache memoizes merge redirects per (account, type, id). A
// "not moved" answer is never cached; the entity may still move later
// and the next lookup must see it.
type movedCache struct {
	repo  repositories.EntityRepository
	cache cache.Cache
}

func newMovedCache(repo repositories.EntityRepository, c cache.Cache) *movedCache {
	return &movedCache{repo: repo, cache: c}
}

func movedKey(accountID, objType, entityID string) string {
	return "moved:" + accountID + ":" + objType + ":" + entityID
}

// lookup returns the redirect target for an id, or "" when the entity
// has not moved
func (m *movedCache) lookup(ctx context.Context, accountID, objType, entityID string) (string, error) {
	key := movedKey(accountID, objType, entityID)
	if m.cache != nil {
		if v, ok := m.cache.Get(ctx, key); ok {
			if target, ok := v.(string); ok {
				return target, nil
			}
		}
	}

	target, err := m.repo.GetMovedTo(ctx, accountID, objType, entityID)
	if err != nil {
		return "", err
	}
	if target != "" && m.cache != nil {
		_ = m.cache.Set(ctx, key, target, movedCacheTTL)
	}
	return target, nil
}

// record stores a redirect and primes the memo
func (m *movedCache) record(ctx context.Context, accountID, objType, oldID, newID string) error {
	if err := m.repo.SetMovedTo(ctx, accountID, objType, oldID, newID); err != nil {
		return err
	}
	if m.cache != nil {
		_ = m.cache.Set(ctx, movedKey(accountID, objType, oldID), newID, movedCacheTTL)
	}
	return nil
}
