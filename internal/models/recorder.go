package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/code-100-precent/TrunkEcho/pkg/call"
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"go.uber.org/zap"
)

// DBRecorder 将已完成通话写入数据库，实现呼叫核心的 Recorder 接口。
type DBRecorder struct {
	db *gorm.DB
}

// NewDBRecorder creates a recorder backed by db.
func NewDBRecorder(db *gorm.DB) *DBRecorder {
	return &DBRecorder{db: db}
}

// RecordCall persists one finished call with its transmission history.
// Open segments never reach the database: any segment with a negative
// duration is clamped, a defect in the caller rather than valid data.
func (r *DBRecorder) RecordCall(rec call.CompletedCall) error {
	record := CallHistory{
		Class:        rec.Class.String(),
		Priority:     rec.Priority,
		Duplex:       rec.Duplex,
		CallingParty: rec.CallingPartyName,
		CalledParty:  rec.CalledPartyName,
		DurationSec:  rec.Duration.Seconds(),
		Failure:      CallFailure(rec.FailureCause),
	}
	if !rec.StartTime.IsZero() {
		start := rec.StartTime
		record.StartTime = &start
	}

	for _, seg := range rec.PTTHistory {
		dur := seg.Duration
		if dur < 0 {
			logger.Warn("open segment reached the recorder, clamping",
				zap.String("txParty", seg.TxParty),
				zap.Float64("startOffset", seg.StartOffset))
			dur = 0
		}
		record.Segments = append(record.Segments, PTTSegment{
			TxParty:     seg.TxParty,
			StartOffset: seg.StartOffset,
			DurationSec: dur,
		})
	}

	return r.db.Create(&record).Error
}

// RetentionCutoff 根据保留天数计算清理截止时间
func RetentionCutoff(days int) time.Time {
	if days <= 0 {
		days = 90
	}
	return time.Now().AddDate(0, 0, -days)
}
