package status

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"judgeflow/internal/job"
	appErr "judgeflow/pkg/errors"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "submission:status:"

// Repository persists the latest status per token so a client that
// reconnects after missing the pub/sub delivery can still fetch its result.
// At-least-once queue delivery can produce duplicate terminal publishes for
// one token; the repository applies a latest-terminal-wins rule so a late
// Running can never shadow a terminal result.
type Repository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRepository creates a status repository. ttl bounds how long results
// stay queryable; 0 selects one hour.
func NewRepository(client *redis.Client, ttl time.Duration) (*Repository, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Repository{client: client, ttl: ttl}, nil
}

// saveRetries bounds optimistic-lock retries for a contended Running save.
const saveRetries = 3

// Save stores the update as the token's current status. A Running update
// never overwrites an already-stored terminal status, even when the two
// writers race: the check and the write run inside WATCH/MULTI so a
// concurrent Set on the key invalidates the transaction.
func (r *Repository) Save(ctx context.Context, token string, update job.SubmissionUpdate) error {
	if token == "" {
		return appErr.ValidationError("token", "required")
	}
	data, err := json.Marshal(update)
	if err != nil {
		return appErr.Wrapf(err, appErr.StatusPersistFailed, "marshal status failed")
	}
	key := keyPrefix + token

	// Terminal updates always win and need no guard.
	if update.Status != job.StatusRunning {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			return appErr.Wrapf(err, appErr.StatusPersistFailed, "store status failed")
		}
		return nil
	}

	save := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var existing job.SubmissionUpdate
			if json.Unmarshal([]byte(val), &existing) == nil && isTerminal(existing.Status) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < saveRetries; i++ {
		err := r.client.Watch(ctx, save, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.StatusPersistFailed, "store status failed")
		}
		return nil
	}
	return appErr.New(appErr.StatusPersistFailed).WithMessage("store status failed: key contention")
}

// Get returns the token's current status.
func (r *Repository) Get(ctx context.Context, token string) (job.SubmissionUpdate, error) {
	if token == "" {
		return job.SubmissionUpdate{}, appErr.ValidationError("token", "required")
	}
	val, err := r.client.Get(ctx, keyPrefix+token).Result()
	if errors.Is(err, redis.Nil) || val == "" {
		return job.SubmissionUpdate{}, appErr.New(appErr.StatusNotFound)
	}
	if err != nil {
		return job.SubmissionUpdate{}, appErr.Wrapf(err, appErr.ServiceUnavailable, "load status failed")
	}
	var update job.SubmissionUpdate
	if err := json.Unmarshal([]byte(val), &update); err != nil {
		return job.SubmissionUpdate{}, appErr.Wrapf(err, appErr.InternalServerError, "decode status failed")
	}
	return update, nil
}

func isTerminal(status string) bool {
	return status == job.StatusCompleted || status == job.StatusFailed
}
