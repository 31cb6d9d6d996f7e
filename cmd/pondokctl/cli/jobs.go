package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/pondok-erp/pondok-erp/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI connects the helpers to redisAddr.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// BuildTask prepares a supported job. args narrow schema:converge to some
// entity types; for sessions:expire the first arg is an optional TTL.
func BuildTask(name string, args []string) (*asynq.Task, error) {
	switch name {
	case jobs.TaskSchemaConverge:
		return jobs.NewSchemaConvergeTask(args...)
	case jobs.TaskSessionsExpire:
		var ttl time.Duration
		if len(args) > 0 {
			parsed, err := time.ParseDuration(args[0])
			if err != nil {
				return nil, fmt.Errorf("jobs cli: ttl: %w", err)
			}
			ttl = parsed
		}
		return jobs.NewSessionsExpireTask(ttl)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, args []string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := BuildTask(name, args)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the metrics of the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = int(info.Pending)
		stats.Active = int(info.Active)
		stats.Scheduled = int(info.Scheduled)
		stats.Retry = int(info.Retry)
	}
	return stats, nil
}

func newJobsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "trigger JOB [ARGS...]",
		Short:     "Enqueue schema:converge [TYPE...] or sessions:expire [TTL]",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{jobs.TaskSchemaConverge, jobs.TaskSessionsExpire},
		RunE: func(cmd *cobra.Command, args []string) error {
			helper := NewJobsCLI(a.redisAddr)
			defer helper.Close()
			info, err := helper.Trigger(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			helper := NewJobsCLI(a.redisAddr)
			defer helper.Close()
			stats, err := helper.InspectQueue()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY")
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return tw.Flush()
		},
	})
	return cmd
}
