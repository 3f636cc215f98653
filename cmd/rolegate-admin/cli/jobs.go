package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/rolegate/rolegate/jobs"
)

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual inspection helpers for the Asynq queue.
type JobsCLI struct {
	inspector queueInspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis options.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{inspector: asynq.NewInspector(redisOpts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	if c == nil || c.inspector == nil {
		return nil
	}
	return c.inspector.Close()
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string   `json:"queue"`
	Pending   int      `json:"pending"`
	Active    int      `json:"active"`
	Scheduled int      `json:"scheduled"`
	Retry     int      `json:"retry"`
	Upcoming  []string `json:"upcoming,omitempty"`
}

// InspectQueue reports the metrics of the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// QueueOptions configures the queue command.
type QueueOptions struct {
	Output
	Scheduled int
}

// QueueCommand prints queue statistics and, optionally, upcoming tasks.
func (c *JobsCLI) QueueCommand(ctx context.Context, opts QueueOptions) int {
	out := opts.Output.withDefaults()
	stats, err := c.InspectQueue(ctx)
	if err != nil {
		return out.fail("queue", err)
	}
	if opts.Scheduled > 0 {
		tasks, err := c.ListScheduled(ctx, opts.Scheduled)
		if err != nil {
			return out.fail("queue", err)
		}
		for _, t := range tasks {
			stats.Upcoming = append(stats.Upcoming, fmt.Sprintf("%s %s at %s", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00")))
		}
	}
	err = out.write(stats, func(w io.Writer) {
		fmt.Fprintf(w, "queue %s: pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		for _, line := range stats.Upcoming {
			fmt.Fprintf(w, "  %s\n", line)
		}
	})
	if err != nil {
		return out.fail("queue", err)
	}
	return 0
}
