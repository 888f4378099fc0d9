package task

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/code-100-precent/TrunkEcho/internal/models"
	"github.com/code-100-precent/TrunkEcho/pkg/config"
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
)

// StartHistoryCleaner starts the call-history retention task.
func StartHistoryCleaner(db *gorm.DB) {
	c := cron.New()

	schedule := config.GlobalConfig.HistoryCleanupSchedule
	if schedule == "" {
		schedule = "0 3 * * *"
	}

	_, err := c.AddFunc(schedule, func() {
		if err := CleanExpiredHistory(db); err != nil {
			logger.Error("History cleaner task failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Error("Failed to add history cleaner cron job", zap.Error(err))
		return
	}

	c.Start()
	logger.Info("History cleaner started", zap.String("schedule", schedule))
}

// CleanExpiredHistory deletes call histories older than the retention window.
func CleanExpiredHistory(db *gorm.DB) error {
	cutoff := models.RetentionCutoff(config.GlobalConfig.HistoryRetentionDays)
	deleted, err := models.CleanupCallHistoriesBefore(db, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.Info("Cleaned expired call histories",
			zap.Int64("deletedCount", deleted),
			zap.Time("cutoff", cutoff))
	}
	return nil
}
