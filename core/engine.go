package core

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"account-rotator/models"
)

const (
	MinHealthScore         = 30
	StickyBonus            = 50
	SuccessScoreDelta      = 2
	RateLimitScoreDelta    = -15
	FailureScoreDelta      = -20
	BillingLimitScoreDelta = -30
	RefreshScoreDelta      = 10
	MaxFreshnessBonus      = 20
	BillingConfirmHits     = 2

	// DefaultRateLimitBackoff 429 未携带 Retry-After 时使用
	DefaultRateLimitBackoff = 60 * time.Second
)

// SelectionReason 选择结果的原因
type SelectionReason string

const (
	ReasonSingleAccount  SelectionReason = "single-account"
	ReasonRoundRobin     SelectionReason = "round-robin"
	ReasonSticky         SelectionReason = "sticky"
	ReasonStickyRotation SelectionReason = "sticky-rotation"
	ReasonHealthSticky   SelectionReason = "health-sticky"
	ReasonHealthBased    SelectionReason = "health-based"
	ReasonAllRateLimited SelectionReason = "all-rate-limited"
)

// Selection 一次选择的结果
type Selection struct {
	Account models.Account  `json:"account"`
	Index   int             `json:"index"`
	Reason  SelectionReason `json:"reason"`
}

// Engine 轮换引擎。只保存行为常量与依赖，所有状态都在 Store 中
type Engine struct {
	store      Store
	clock      Clock
	logger     *logrus.Logger
	notifier   Notifier
	recorder   OutcomeRecorder
	classifier BillingClassifier
	strategies map[models.RotationStrategy]Strategy
}

// Option Engine 可选项
type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithRecorder(r OutcomeRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithBillingClassifier(fn BillingClassifier) Option {
	return func(e *Engine) { e.classifier = fn }
}

// NewEngine 构造引擎 (依赖显式注入)
func NewEngine(store Store, logger *logrus.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Engine{
		store:      store,
		clock:      RealClock{},
		logger:     logger,
		notifier:   noopNotifier{},
		classifier: DefaultBillingClassifier,
		strategies: make(map[models.RotationStrategy]Strategy),
	}
	for _, opt := range opts {
		opt(e)
	}

	// 注册默认策略
	e.RegisterStrategy(&RoundRobinStrategy{})
	e.RegisterStrategy(&StickyStrategy{})
	e.RegisterStrategy(&HealthBasedStrategy{})
	return e
}

func (e *Engine) RegisterStrategy(s Strategy) {
	e.strategies[s.Name()] = s
}

// Today 当前本地日期，作为 ReportSuccess 的 dailyRequests 键
func (e *Engine) Today() string {
	return DateKey(e.clock.Now())
}

// SelectAccount 选出下一次调用使用的账号；没有账号时返回 nil, nil
func (e *Engine) SelectAccount(ctx context.Context, forceRotation bool) (*Selection, error) {
	cfg, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(cfg.Accounts) == 0 {
		return nil, nil
	}
	if len(cfg.Accounts) == 1 {
		return e.claim(ctx, 0, ReasonSingleAccount)
	}

	strategy, ok := e.strategies[cfg.RotationStrategy]
	if !ok {
		strategy = e.strategies[models.StrategyHealthBased]
	}

	previous := cfg.ActiveIndex
	sel, err := strategy.Select(ctx, e, &cfg, forceRotation)
	if err != nil || sel == nil {
		return sel, err
	}

	e.logger.WithFields(logrus.Fields{
		"strategy": strategy.Name(),
		"index":    sel.Index,
		"reason":   sel.Reason,
	}).Debug("account selected")

	switch {
	case sel.Reason == ReasonAllRateLimited:
		e.notify(ctx, SeverityWarning, sel.Index, sel.Account.Name,
			fmt.Sprintf("All accounts are limited; using %s (available %s)", sel.Account.Name, formatMillis(sel.Account.AvailableAt())))
	case sel.Index != previous && sel.Reason != ReasonRoundRobin:
		e.notify(ctx, SeverityInfo, sel.Index, sel.Account.Name,
			fmt.Sprintf("Switched to %s (%s)", sel.Account.Name, sel.Reason))
	}
	return sel, nil
}

// CalculateAccountScore 健康分 + 闲置时长奖励 (每小时 1 分，最多 20)，当前账号额外加 StickyBonus
func (e *Engine) CalculateAccountScore(account models.Account, isCurrent bool) float64 {
	return calculateScore(account, isCurrent, nowMillis(e.clock))
}

func calculateScore(account models.Account, isCurrent bool, nowMs int64) float64 {
	hoursSinceLastUse := float64(nowMs-account.LastUsed) / float64(time.Hour/time.Millisecond)
	if hoursSinceLastUse > MaxFreshnessBonus {
		hoursSinceLastUse = MaxFreshnessBonus
	}
	if hoursSinceLastUse < 0 {
		hoursSinceLastUse = 0
	}
	score := float64(account.HealthScore) + hoursSinceLastUse
	if isCurrent {
		score += StickyBonus
	}
	return score
}

// availableIndices 未被限流、未处于账单冷却且健康分不低于下限的账号
func availableIndices(cfg *models.RotationConfig, nowMs int64, exclude int) []int {
	out := make([]int, 0, len(cfg.Accounts))
	for i := range cfg.Accounts {
		if i == exclude {
			continue
		}
		a := &cfg.Accounts[i]
		if a.IsLimited(nowMs) || a.HealthScore < MinHealthScore {
			continue
		}
		out = append(out, i)
	}
	return out
}

// soonestAvailable 所有账号中最早恢复可用的那个
func soonestAvailable(cfg *models.RotationConfig) int {
	best := 0
	for i := 1; i < len(cfg.Accounts); i++ {
		if cfg.Accounts[i].AvailableAt() < cfg.Accounts[best].AvailableAt() {
			best = i
		}
	}
	return best
}

// claim 标记使用 (totalRequests+1, lastUsed=now) 并构造选择结果
func (e *Engine) claim(ctx context.Context, index int, reason SelectionReason) (*Selection, error) {
	now := nowMillis(e.clock)
	account, err := e.store.UpdateAccount(ctx, index, func(a *models.Account) error {
		a.TotalRequests++
		a.LastUsed = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.record(account, index, models.OutcomeSelected, string(reason), 0)
	return &Selection{Account: account, Index: index, Reason: reason}, nil
}

func (e *Engine) notify(ctx context.Context, severity Severity, index int, name, message string) {
	e.notifier.Notify(ctx, Notice{
		Severity: severity,
		Message:  message,
		Index:    index,
		Account:  name,
		Time:     e.clock.Now(),
	})
}

func (e *Engine) record(account models.Account, index int, kind models.OutcomeKind, reason string, duration int64) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(&models.OutcomeLog{
		CreatedAt:    e.clock.Now(),
		AccountIndex: index,
		AccountName:  account.Name,
		MaskedKey:    MaskKey(account.Key),
		Kind:         kind,
		Reason:       reason,
		Duration:     duration,
		HealthScore:  account.HealthScore,
	})
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "now"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
