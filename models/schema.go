package models

import (
	"time"

	"gorm.io/gorm"
)

// OutcomeKind 上报结果类型
type OutcomeKind string

const (
	OutcomeSuccess       OutcomeKind = "success"
	OutcomeRateLimited   OutcomeKind = "rate_limited"
	OutcomeFailure       OutcomeKind = "failure"
	OutcomeBillingHit    OutcomeKind = "billing_hit"
	OutcomeBillingLimit  OutcomeKind = "billing_limit"
	OutcomeSelected      OutcomeKind = "selected"
	OutcomeLimitsCleared OutcomeKind = "limits_cleared"
)

// OutcomeLog 单条结果日志 (只保存脱敏后的 Key)
type OutcomeLog struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time   `gorm:"index" json:"created_at"`
	AccountIndex int         `json:"account_index"`
	AccountName  string      `json:"account_name"`
	MaskedKey    string      `gorm:"index" json:"masked_key"`
	Kind         OutcomeKind `gorm:"index" json:"kind"`
	Reason       string      `json:"reason,omitempty"`
	Duration     int64       `json:"duration"` // 毫秒
	HealthScore  int         `json:"health_score"`
}

// AccountUsage 按账号聚合的统计 (一账号一行)
type AccountUsage struct {
	gorm.Model
	MaskedKey    string  `gorm:"uniqueIndex;not null" json:"masked_key"`
	AccountName  string  `json:"account_name"`
	Selected     int64   `gorm:"default:0" json:"selected"`
	Success      int64   `gorm:"default:0" json:"success"`
	RateLimited  int64   `gorm:"default:0" json:"rate_limited"`
	Failure      int64   `gorm:"default:0" json:"failure"`
	BillingHits  int64   `gorm:"default:0" json:"billing_hits"`
	TotalLatency float64 `gorm:"default:0" json:"total_latency"` // 毫秒
	LatencyCount int64   `gorm:"default:0" json:"latency_count"`
}

// AutoMigrate 自动迁移日志库结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&OutcomeLog{},
		&AccountUsage{},
	)
}
