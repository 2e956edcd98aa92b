package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/franchisepos/inventory/internal/inventory"
	jobmetrics "github.com/franchisepos/inventory/internal/jobs"
	"github.com/franchisepos/inventory/internal/masterdata"
	"github.com/franchisepos/inventory/internal/shared"
)

const (
	outcomeSeeded  = "seeded"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"

	defaultSeedConcurrency = 4
	defaultSeedLockTTL     = 2 * time.Minute
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Seeder creates the missing report rows of one location and day.
type Seeder interface {
	SeedRows(ctx context.Context, locationID int64, date time.Time) (int64, error)
}

// LocationLister enumerates the locations a nightly run covers.
type LocationLister interface {
	ListLocations(ctx context.Context) ([]masterdata.Location, error)
}

// SeedDailyConfig collects the seeding job dependencies.
type SeedDailyConfig struct {
	Seeder      Seeder
	Locations   LocationLister
	Locker      *redislock.Client
	Concurrency int
	LockTTL     time.Duration
	Clock       shared.Clock
	Location    *time.Location
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// SeedDailyJob seeds report rows for a day across locations.
type SeedDailyJob struct {
	cfg SeedDailyConfig
}

// SeedSummary reports what a run did.
type SeedSummary struct {
	Date      time.Time
	Locations int
	Seeded    int
	Skipped   int
	Failed    int
	RowsAdded int64
}

// NewSeedDailyJob initialises the seeding handler.
func NewSeedDailyJob(cfg SeedDailyConfig) *SeedDailyJob {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultSeedConcurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultSeedLockTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = shared.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Metrics == nil {
		cfg.Metrics = defaultJobMetrics
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With(slog.String("job", TaskInventorySeedDaily))
	return &SeedDailyJob{cfg: cfg}
}

// Handle executes a seeding task.
func (j *SeedDailyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.cfg.Seeder == nil {
		return errors.New("seed daily: handler not configured")
	}
	var payload SeedDailyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	day := shared.Today(j.cfg.Clock, j.cfg.Location)
	if payload.Date != "" {
		parsed, err := shared.ParseDate(payload.Date)
		if err != nil {
			return asynq.SkipRetry
		}
		day = parsed
	}

	tracker := j.cfg.Metrics.Track(TaskInventorySeedDaily)
	summary, err := j.Run(ctx, day, payload.LocationID)
	if err == nil {
		j.cfg.Logger.Info("seeding complete",
			slog.String("date", shared.FormatDate(day)),
			slog.Int("locations", summary.Locations),
			slog.Int("skipped", summary.Skipped),
			slog.Int64("rows_added", summary.RowsAdded),
		)
	}
	return tracker.End(err)
}

// Run seeds day for one location, or for every active location when
// locationID is zero. Locations are processed concurrently up to the
// configured limit; one failing location does not stop the others.
func (j *SeedDailyJob) Run(ctx context.Context, day time.Time, locationID int64) (SeedSummary, error) {
	summary := SeedSummary{Date: day}
	ids, err := j.targets(ctx, locationID)
	if err != nil {
		return summary, err
	}
	summary.Locations = len(ids)

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(j.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			added, outcome, err := j.seedLocation(ctx, id, day)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSeeded:
				summary.Seeded++
				summary.RowsAdded += added
			case outcomeSkipped:
				summary.Skipped++
			default:
				summary.Failed++
				errs = append(errs, fmt.Errorf("location %d: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	j.cfg.Metrics.AddLocationsSeeded(outcomeSeeded, summary.Seeded)
	j.cfg.Metrics.AddLocationsSeeded(outcomeSkipped, summary.Skipped)
	j.cfg.Metrics.AddLocationsSeeded(outcomeFailed, summary.Failed)
	if len(errs) > 0 {
		return summary, fmt.Errorf("seed daily: %w", errors.Join(errs...))
	}
	return summary, nil
}

func (j *SeedDailyJob) targets(ctx context.Context, locationID int64) ([]int64, error) {
	if locationID > 0 {
		return []int64{locationID}, nil
	}
	if j.cfg.Locations == nil {
		return nil, errors.New("seed daily: no location source configured")
	}
	locations, err := j.cfg.Locations.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed daily: list locations: %w", err)
	}
	ids := make([]int64, 0, len(locations))
	for _, loc := range locations {
		if loc.IsActive {
			ids = append(ids, loc.ID)
		}
	}
	return ids, nil
}

func (j *SeedDailyJob) seedLocation(ctx context.Context, locationID int64, day time.Time) (int64, string, error) {
	logger := j.cfg.Logger.With(slog.Int64("location_id", locationID), slog.String("date", shared.FormatDate(day)))
	if j.cfg.Locker != nil {
		lock, err := j.cfg.Locker.Obtain(ctx, shared.SeedLockKey(locationID, day), j.cfg.LockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.Info("seeding already in progress")
			return 0, outcomeSkipped, nil
		}
		if err != nil {
			logger.Error("obtain seed lock", slog.Any("error", err))
			return 0, outcomeFailed, err
		}
		defer func() {
			_ = lock.Release(context.WithoutCancel(ctx))
		}()
	}

	added, err := j.cfg.Seeder.SeedRows(ctx, locationID, day)
	if errors.Is(err, inventory.ErrNothingToReport) {
		return 0, outcomeSkipped, nil
	}
	if err != nil {
		logger.Error("seed rows", slog.Any("error", err))
		return 0, outcomeFailed, err
	}
	return added, outcomeSeeded, nil
}
