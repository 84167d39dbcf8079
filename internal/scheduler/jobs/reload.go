package jobs

import (
	"context"
	"fmt"

	"github.com/sibylquant/sibyl/internal/modelpool"
	"github.com/sibylquant/sibyl/pkg/logger"
)

// ReloadJob refreshes the model pool from the registry on a fixed
// schedule, bounding snapshot staleness to one interval. A failed run
// leaves the previous snapshot serving; the health tracker records it.
type ReloadJob struct {
	reloader *modelpool.Reloader
	schedule string
	logger   *logger.Logger
}

// NewReloadJob creates a new reload job.
func NewReloadJob(reloader *modelpool.Reloader, schedule string, log *logger.Logger) *ReloadJob {
	return &ReloadJob{
		reloader: reloader,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name.
func (j *ReloadJob) Name() string {
	return "model_reload"
}

// Schedule returns the cron schedule from config.
func (j *ReloadJob) Schedule() string {
	return j.schedule
}

// Run executes one reload cycle.
func (j *ReloadJob) Run(ctx context.Context) error {
	snap, err := j.reloader.Reload(ctx)
	if err != nil {
		return fmt.Errorf("scheduled reload: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"generation": snap.Generation(),
		"models":     snap.Len(),
	}).Info("Scheduled reload completed")

	return nil
}
