package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/rolegate/rolegate/internal/jobs"
	"github.com/rolegate/rolegate/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSnapshotInvalidate drops cached RBAC snapshots after grant changes.
	TaskSnapshotInvalidate = "rbac:snapshot:invalidate"
)

// NewSnapshotInvalidateTask constructs an Asynq task for inv.
func NewSnapshotInvalidateTask(inv rbac.Invalidation) (*asynq.Task, error) {
	if !inv.All && inv.Role == "" && len(inv.UserIDs) == 0 {
		return nil, errors.New("jobs: empty invalidation")
	}
	data, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSnapshotInvalidate, data), nil
}

// SnapshotApplier applies an invalidation to the snapshot cache.
type SnapshotApplier interface {
	ApplyInvalidation(ctx context.Context, inv rbac.Invalidation) error
}

// SnapshotInvalidateJob processes TaskSnapshotInvalidate tasks.
type SnapshotInvalidateJob struct {
	applier SnapshotApplier
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewSnapshotInvalidateJob wires the job dependencies.
func NewSnapshotInvalidateJob(applier SnapshotApplier, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotInvalidateJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotInvalidateJob{applier: applier, logger: logger, metrics: metrics}
}

// Handle decodes the payload and applies the invalidation. Malformed payloads
// are not retried.
func (j *SnapshotInvalidateJob) Handle(ctx context.Context, task *asynq.Task) error {
	var inv rbac.Invalidation
	if err := json.Unmarshal(task.Payload(), &inv); err != nil {
		j.logger.Warn("snapshot invalidate: bad payload", slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics.Track(TaskSnapshotInvalidate)
	if err := j.applier.ApplyInvalidation(ctx, inv); err != nil {
		j.logger.Error("snapshot invalidate", slog.Any("error", err))
		return tracker.End(err)
	}
	switch {
	case inv.All:
		j.metrics.AddInvalidations("all", 1)
	default:
		j.metrics.AddInvalidations("user", len(inv.UserIDs))
		if inv.Role != "" {
			j.metrics.AddInvalidations("role", 1)
		}
	}
	j.logger.Info("snapshot invalidated",
		slog.Bool("all", inv.All),
		slog.String("role", string(inv.Role)),
		slog.Int("users", len(inv.UserIDs)),
	)
	return tracker.End(nil)
}

// enqueuer is the slice of *asynq.Client used by Client.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits jobs to the queue. It satisfies rbac.Invalidator.
type Client struct {
	client enqueuer
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueInvalidation schedules inv on the default queue.
func (c *Client) EnqueueInvalidation(ctx context.Context, inv rbac.Invalidation) error {
	task, err := NewSnapshotInvalidateTask(inv)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
