package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/pondok-erp/pondok-erp/internal/jobs"
	"github.com/pondok-erp/pondok-erp/internal/schema"
)

// Converger provisions tables.
type Converger interface {
	EnsureAll(ctx context.Context) error
	EnsureTable(ctx context.Context, et *schema.EntityType) error
}

// SchemaConvergeJob keeps every registered table in line with the registry.
type SchemaConvergeJob struct {
	registry  *schema.Registry
	converger Converger
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewSchemaConvergeJob constructs the job.
func NewSchemaConvergeJob(registry *schema.Registry, converger Converger, logger *slog.Logger, metrics *jobmetrics.Metrics) *SchemaConvergeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaConvergeJob{registry: registry, converger: converger, logger: logger, metrics: metrics}
}

// Handle processes TaskSchemaConverge tasks.
func (j *SchemaConvergeJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SchemaConvergePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	tracker := j.metrics.Track(TaskSchemaConverge)
	return tracker.End(j.run(ctx, payload))
}

func (j *SchemaConvergeJob) run(ctx context.Context, payload SchemaConvergePayload) error {
	if len(payload.Types) == 0 {
		if err := j.converger.EnsureAll(ctx); err != nil {
			return err
		}
		j.metrics.AddAffected(TaskSchemaConverge, len(j.registry.Names()))
		j.logger.Info("schema converged", slog.String("job", TaskSchemaConverge), slog.Int("types", len(j.registry.Names())))
		return nil
	}
	for _, name := range payload.Types {
		et, err := j.registry.Lookup(name)
		if err != nil {
			j.logger.Warn("skip unknown entity type", slog.String("type", name))
			continue
		}
		if err := j.converger.EnsureTable(ctx, et); err != nil {
			return err
		}
		j.metrics.AddAffected(TaskSchemaConverge, 1)
	}
	j.logger.Info("schema converged", slog.String("job", TaskSchemaConverge), slog.Any("types", payload.Types))
	return nil
}
