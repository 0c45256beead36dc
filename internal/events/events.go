// Package events fans job lifecycle updates out to subscribers. Delivery is
// at-most-once and best-effort: late subscribers miss prior events and fall
// back to polling the job store.
package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, jobID string, payload any)
}

// Redis publishes each event on the job's own channel.
type Redis struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedis(rdb *redis.Client, log *zap.Logger) *Redis {
	return &Redis{rdb: rdb, log: log}
}

func channelFor(jobID string) string { return "job:" + jobID }

func (p *Redis) Publish(ctx context.Context, jobID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("event marshal failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	// publish failures are logged and dropped; the job row stays the
	// source of truth
	if err := p.rdb.Publish(ctx, channelFor(jobID), body).Err(); err != nil {
		p.log.Warn("event publish failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Nop drops every event. Used in tests and when redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) {}
