package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/pondok-erp/pondok-erp/internal/jobs"
	"github.com/pondok-erp/pondok-erp/internal/schema"
)

type stubConverger struct {
	all    int
	tables []string
	err    error
}

func (s *stubConverger) EnsureAll(ctx context.Context) error {
	s.all++
	return s.err
}

func (s *stubConverger) EnsureTable(ctx context.Context, et *schema.EntityType) error {
	s.tables = append(s.tables, et.Name())
	return s.err
}

type stubExpirer struct {
	ttl time.Duration
	n   int
	err error
}

func (s *stubExpirer) ExpireOlderThan(ctx context.Context, ttl time.Duration) (int, error) {
	s.ttl = ttl
	return s.n, s.err
}

func TestSchemaConvergeAll(t *testing.T) {
	reg, err := schema.LoadRegistry("")
	require.NoError(t, err)
	conv := &stubConverger{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewSchemaConvergeJob(reg, conv, nil, metrics)

	task, err := NewSchemaConvergeTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, conv.all)
	assert.Empty(t, conv.tables)
}

func TestSchemaConvergeSelectedTypes(t *testing.T) {
	reg, err := schema.LoadRegistry("")
	require.NoError(t, err)
	conv := &stubConverger{}
	job := NewSchemaConvergeJob(reg, conv, nil, nil)

	task, err := NewSchemaConvergeTask("kamar", "tidak_ada", "santri")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []string{"kamar", "santri"}, conv.tables)
	assert.Zero(t, conv.all)
}

func TestSchemaConvergeBadPayloadSkipsRetry(t *testing.T) {
	reg, err := schema.LoadRegistry("")
	require.NoError(t, err)
	job := NewSchemaConvergeJob(reg, &stubConverger{}, nil, nil)
	err = job.Handle(context.Background(), asynq.NewTask(TaskSchemaConverge, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSessionsExpire(t *testing.T) {
	exp := &stubExpirer{n: 3}
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewSessionsExpireJob(exp, 12*time.Hour, nil, metrics)

	task, err := NewSessionsExpireTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 12*time.Hour, exp.ttl)

	task, err = NewSessionsExpireTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, time.Hour, exp.ttl)

	exp.err = errors.New("db down")
	assert.Error(t, job.Handle(context.Background(), task))

	count, err := testutil.GatherAndCount(registry, "pondok_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "success and failure series")
}
