package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentctl/controlplane/internal/apperr"
)

// projectLockTTL bounds how long a per-project lock survives a crashed
// holder; it must exceed the longest operation the engine serializes
// (activation, budgeted at activationBudget) with headroom.
const projectLockTTL = 5 * time.Minute

// lockProject acquires a per-project mutex so two concurrent transitions on
// the same project collapse per §5: "two concurrent activate calls on the
// same project collapse via a per-project mutex — the second call ...
// returns Conflict." Returns a release function; the caller must defer it.
func lockProject(ctx context.Context, rdb *redis.Client, projectID string) (func(), error) {
	key := fmt.Sprintf("agentctl:lock:project:%s", projectID)
	token := uuid.New().String()

	ok, err := rdb.SetNX(ctx, key, token, projectLockTTL).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "acquiring project lock", err)
	}
	if !ok {
		return nil, apperr.New(apperr.Conflict, "a transition is already in progress for this project")
	}

	release := func() {
		// Only release if we still hold it (best-effort; a stale lock just
		// expires via TTL if this check races a retry).
		if val, err := rdb.Get(ctx, key).Result(); err == nil && val == token {
			rdb.Del(ctx, key)
		}
	}
	return release, nil
}
