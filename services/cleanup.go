package services

import (
	"context"
	"os"
	"time"

	"github.com/go-co-op/gocron"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
)

// CleanupService periodically purges terminal jobs past their retention
// window, removing both the database records and the on-disk artifacts.
type CleanupService struct {
	config    *config.Config
	store     JobStore
	scheduler *gocron.Scheduler
}

func NewCleanupService(cfg *config.Config, store JobStore) *CleanupService {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &CleanupService{
		config:    cfg,
		store:     store,
		scheduler: s,
	}
}

// Start schedules the hourly purge and runs the scheduler in the
// background.
func (c *CleanupService) Start() error {
	_, err := c.scheduler.Every(1 * time.Hour).Tag("job-cleanup").Do(c.runOnce)
	if err != nil {
		return err
	}
	c.scheduler.StartAsync()
	logger.Info("Job cleanup scheduler started", "ttl", c.config.JobTTL.String())
	return nil
}

func (c *CleanupService) Stop() {
	c.scheduler.Stop()
}

func (c *CleanupService) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-c.config.JobTTL)
	ids, err := c.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error("Job purge failed", "error", err)
		return
	}

	for _, id := range ids {
		if err := os.RemoveAll(c.config.JobDir(id)); err != nil {
			logger.Warn("Removing job artifacts failed", "job_id", id, "error", err)
		}
	}

	if len(ids) > 0 {
		logger.Info("Purged expired jobs", "count", len(ids))
	}
}
