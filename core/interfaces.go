package core

import (
	"context"

	"account-rotator/models"
)

// Store 引擎依赖的持久化接口。
// 每个方法都必须是一个独立的原子临界区，引擎不会跨两次调用持有锁。
type Store interface {
	Load(ctx context.Context) (models.RotationConfig, error)
	Update(ctx context.Context, mutate func(*models.RotationConfig) error) (models.RotationConfig, error)
	AddAccount(ctx context.Context, key, name string) (models.Account, error)
	RemoveAccount(ctx context.Context, index int) (models.Account, error)
	UpdateAccount(ctx context.Context, index int, mutate func(*models.Account) error) (models.Account, error)
	GetAndIncrementActiveIndex(ctx context.Context, candidates []int) (int, error)
	AtomicSetActiveIndex(ctx context.Context, preferred int) (int, error)
}

// Strategy 选择策略
// Select 只能通过 Store 的原子原语修改 activeIndex
type Strategy interface {
	Name() models.RotationStrategy
	Select(ctx context.Context, e *Engine, cfg *models.RotationConfig, forceRotation bool) (*Selection, error)
}

// OutcomeRecorder 结果流水的接收方 (例如 OutcomeJournal)，必须是非阻塞的
type OutcomeRecorder interface {
	Record(entry *models.OutcomeLog)
}

// BillingClassifier 判断一个非 2xx 响应是否属于账单额度耗尽
type BillingClassifier func(statusCode int, body string) bool

var _ Store = (*FileStore)(nil)
