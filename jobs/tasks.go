package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/franchisepos/inventory/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventorySeedDaily seeds the daily report rows of every location.
	TaskInventorySeedDaily = "inventory:seed_daily"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"

	// DefaultKeyRetention is how long idempotency keys are kept.
	DefaultKeyRetention = 7 * 24 * time.Hour
)

// SeedDailyPayload narrows a seeding run. An empty date means today in the
// report timezone; a zero location means every active location.
type SeedDailyPayload struct {
	Date       string `json:"date,omitempty"`
	LocationID int64  `json:"location_id,omitempty"`
}

// NewSeedDailyTask constructs an Asynq task for report seeding.
func NewSeedDailyTask(payload SeedDailyPayload) (*asynq.Task, error) {
	if payload.Date != "" {
		if _, err := shared.ParseDate(payload.Date); err != nil {
			return nil, err
		}
	}
	if payload.LocationID < 0 {
		return nil, fmt.Errorf("seed task: invalid location %d", payload.LocationID)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventorySeedDaily, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload overrides the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewIdempotencyCleanupTask builds the purge task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	payload := IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
