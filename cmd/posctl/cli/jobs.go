package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/franchisepos/inventory/internal/shared"
	"github.com/franchisepos/inventory/jobs"
)

// Enqueuer submits tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Inspector reads queue state.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
	stdout    io.Writer
	stderr    io.Writer
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return NewJobsCLIWith(asynq.NewClient(opts), asynq.NewInspector(opts), os.Stdout, os.Stderr)
}

// NewJobsCLIWith builds a JobsCLI over explicit collaborators.
func NewJobsCLIWith(client Enqueuer, inspector Inspector, stdout, stderr io.Writer) *JobsCLI {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &JobsCLI{client: client, inspector: inspector, stdout: stdout, stderr: stderr}
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

// SeedOptions defines the flags of the seed command.
type SeedOptions struct {
	Date       string
	LocationID int64
}

// SeedCommand enqueues a report seeding run and returns the exit code.
func (c *JobsCLI) SeedCommand(ctx context.Context, opts SeedOptions) int {
	date := strings.TrimSpace(opts.Date)
	if date != "" {
		if _, err := shared.ParseDate(date); err != nil {
			_, _ = fmt.Fprintf(c.stderr, "seed: invalid date %q (expected YYYY-MM-DD)\n", opts.Date)
			return 1
		}
	}
	if opts.LocationID < 0 {
		_, _ = fmt.Fprintln(c.stderr, "seed: --location must be positive")
		return 1
	}
	task, err := jobs.NewSeedDailyTask(jobs.SeedDailyPayload{Date: date, LocationID: opts.LocationID})
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "seed: %v\n", err)
		return 1
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "seed: enqueue: %v\n", err)
		return 1
	}
	scope := "all locations"
	if opts.LocationID > 0 {
		scope = fmt.Sprintf("location %d", opts.LocationID)
	}
	if date == "" {
		date = "today"
	}
	_, _ = fmt.Fprintf(c.stdout, "enqueued %s (%s, %s) id=%s\n", jobs.TaskInventorySeedDaily, date, scope, info.ID)
	return 0
}

// CleanupCommand enqueues an idempotency key purge.
func (c *JobsCLI) CleanupCommand(ctx context.Context, retention time.Duration) int {
	if retention < time.Hour {
		_, _ = fmt.Fprintln(c.stderr, "cleanup: --retention must be at least 1h")
		return 1
	}
	task, err := jobs.NewIdempotencyCleanupTask(retention)
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "cleanup: %v\n", err)
		return 1
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "cleanup: enqueue: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(c.stdout, "enqueued %s retention=%s id=%s\n", jobs.TaskIdempotencyCleanup, retention, info.ID)
	return 0
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
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
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// QueueCommand prints the default queue state.
func (c *JobsCLI) QueueCommand() int {
	stats, err := c.InspectQueue()
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "queue: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(c.stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	return 0
}

// ScheduledCommand lists upcoming scheduled tasks.
func (c *JobsCLI) ScheduledCommand(size int) int {
	if size <= 0 {
		size = 10
	}
	tasks, err := c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "scheduled: %v\n", err)
		return 1
	}
	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(c.stdout, "no scheduled tasks")
		return 0
	}
	for _, t := range tasks {
		_, _ = fmt.Fprintf(c.stdout, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
	}
	return 0
}
