package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/pondok-erp/pondok-erp/internal/jobs"
)

// Expirer revokes stale sessions.
type Expirer interface {
	ExpireOlderThan(ctx context.Context, ttl time.Duration) (int, error)
}

// SessionsExpireJob revokes active sessions past their lifetime.
type SessionsExpireJob struct {
	expirer Expirer
	ttl     time.Duration
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewSessionsExpireJob constructs the job. A zero ttl disables expiry.
func NewSessionsExpireJob(expirer Expirer, ttl time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionsExpireJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionsExpireJob{expirer: expirer, ttl: ttl, logger: logger, metrics: metrics}
}

// Handle processes TaskSessionsExpire tasks.
func (j *SessionsExpireJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SessionsExpirePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	ttl := j.ttl
	if payload.TTL > 0 {
		ttl = payload.TTL
	}
	tracker := j.metrics.Track(TaskSessionsExpire)
	n, err := j.expirer.ExpireOlderThan(ctx, ttl)
	j.metrics.AddAffected(TaskSessionsExpire, n)
	if err != nil {
		j.logger.Error("expire sessions", slog.Int("expired", n), slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("sessions expired", slog.String("job", TaskSessionsExpire), slog.Int("expired", n), slog.Duration("ttl", ttl))
	return tracker.End(nil)
}
