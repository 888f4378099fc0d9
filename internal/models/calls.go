package models

import (
	"time"

	"gorm.io/gorm"
)

// CallFailure 通话失败原因
type CallFailure string

const (
	CallFailureNone              CallFailure = ""                   // 正常结束
	CallFailureTimeout           CallFailure = "timeout"            // 建立超时
	CallFailureBusy              CallFailure = "busy"               // 对方忙
	CallFailureRejected          CallFailure = "rejected"           // 被拒绝
	CallFailurePreempted         CallFailure = "preempted"          // 被高优先级抢占
	CallFailureServerUnavailable CallFailure = "server_unavailable" // 信令链路中断
)

// CallHistory 已完成通话记录表
type CallHistory struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"autoUpdateTime"`
	DeletedAt *time.Time `json:"-" gorm:"index"`

	// 通话基本信息
	Class    string `json:"class" gorm:"size:32;index"` // 呼叫类别
	Priority int    `json:"priority" gorm:"default:0"`
	Duplex   bool   `json:"duplex"`

	// 主被叫
	CallingParty string `json:"callingParty" gorm:"size:128;index"`
	CalledParty  string `json:"calledParty" gorm:"size:128;index"`

	// 时间信息
	StartTime   *time.Time `json:"startTime,omitempty" gorm:"index"` // 接通时间；未接通为空
	DurationSec float64    `json:"durationSec" gorm:"default:0"`

	Failure CallFailure `json:"failure,omitempty" gorm:"size:32;index"`

	// 传输历史，按开始偏移升序
	Segments []PTTSegment `json:"segments,omitempty" gorm:"foreignKey:CallHistoryID;constraint:OnDelete:CASCADE"`
}

func (CallHistory) TableName() string {
	return "call_histories"
}

// PTTSegment 通话内单次传输记录
type PTTSegment struct {
	ID            uint `json:"id" gorm:"primaryKey"`
	CallHistoryID uint `json:"callHistoryId" gorm:"index;not null"`

	TxParty     string  `json:"txParty" gorm:"size:128"`
	StartOffset float64 `json:"startOffset"` // 相对接通时间的秒数
	DurationSec float64 `json:"durationSec"` // 持久化前必须闭合，不允许负值
}

func (PTTSegment) TableName() string {
	return "ptt_segments"
}

// CallHistoryFilter 历史查询条件
type CallHistoryFilter struct {
	Party   string
	Class   string
	Failure *CallFailure
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Offset  int
}

// QueryCallHistories 按条件分页查询通话历史
func QueryCallHistories(db *gorm.DB, filter CallHistoryFilter) ([]CallHistory, int64, error) {
	query := db.Model(&CallHistory{})

	if filter.Party != "" {
		query = query.Where("calling_party = ? OR called_party = ?", filter.Party, filter.Party)
	}
	if filter.Class != "" {
		query = query.Where("class = ?", filter.Class)
	}
	if filter.Failure != nil {
		query = query.Where("failure = ?", *filter.Failure)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("created_at < ?", *filter.Until)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var records []CallHistory
	err := query.Preload("Segments", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("start_offset ASC")
	}).
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&records).Error
	return records, total, err
}

// GetCallHistory 按 ID 获取单条通话历史
func GetCallHistory(db *gorm.DB, id uint) (*CallHistory, error) {
	var record CallHistory
	err := db.Preload("Segments", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("start_offset ASC")
	}).First(&record, id).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// CleanupCallHistoriesBefore 删除 cutoff 之前的通话历史及其传输记录
func CleanupCallHistoriesBefore(db *gorm.DB, cutoff time.Time) (int64, error) {
	var ids []uint
	if err := db.Model(&CallHistory{}).
		Where("created_at < ?", cutoff).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := db.Where("call_history_id IN ?", ids).
		Delete(&PTTSegment{}).Error; err != nil {
		return 0, err
	}
	result := db.Unscoped().Where("id IN ?", ids).Delete(&CallHistory{})
	return result.RowsAffected, result.Error
}
