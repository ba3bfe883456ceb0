package core

import (
	"context"

	"account-rotator/models"
)

// RoundRobinStrategy 轮询策略：在可用账号中按升序原子推进 activeIndex
type RoundRobinStrategy struct{}

func (s *RoundRobinStrategy) Name() models.RotationStrategy { return models.StrategyRoundRobin }

func (s *RoundRobinStrategy) Select(ctx context.Context, e *Engine, cfg *models.RotationConfig, _ bool) (*Selection, error) {
	available := availableIndices(cfg, nowMillis(e.clock), -1)
	if len(available) == 0 {
		// 只读回退：不修改 activeIndex，也不计入使用
		idx := soonestAvailable(cfg)
		return &Selection{Account: cfg.Accounts[idx].Clone(), Index: idx, Reason: ReasonAllRateLimited}, nil
	}

	// 读取与推进必须在同一个临界区内完成
	idx, err := e.store.GetAndIncrementActiveIndex(ctx, available)
	if err != nil {
		return nil, err
	}
	return e.claim(ctx, idx, ReasonRoundRobin)
}

// StickyStrategy 粘滞策略：当前账号未受限时一直使用，受限或强制轮换时切到第一个可用账号
type StickyStrategy struct{}

func (s *StickyStrategy) Name() models.RotationStrategy { return models.StrategySticky }

func (s *StickyStrategy) Select(ctx context.Context, e *Engine, cfg *models.RotationConfig, forceRotation bool) (*Selection, error) {
	now := nowMillis(e.clock)
	current := cfg.ActiveIndex
	if !forceRotation && !cfg.Accounts[current].IsLimited(now) {
		return e.claim(ctx, current, ReasonSticky)
	}

	available := availableIndices(cfg, now, current)
	if len(available) == 0 {
		return e.fallbackToSoonest(ctx, cfg)
	}
	idx, err := e.store.AtomicSetActiveIndex(ctx, available[0])
	if err != nil {
		return nil, err
	}
	return e.claim(ctx, idx, ReasonStickyRotation)
}

// HealthBasedStrategy 健康度策略 (默认)：当前账号健康时保持，否则按评分选最高者
type HealthBasedStrategy struct{}

func (s *HealthBasedStrategy) Name() models.RotationStrategy { return models.StrategyHealthBased }

func (s *HealthBasedStrategy) Select(ctx context.Context, e *Engine, cfg *models.RotationConfig, forceRotation bool) (*Selection, error) {
	now := nowMillis(e.clock)
	current := cfg.ActiveIndex
	currentAccount := &cfg.Accounts[current]
	if !forceRotation && !currentAccount.IsLimited(now) && currentAccount.HealthScore > MinHealthScore {
		return e.claim(ctx, current, ReasonHealthSticky)
	}

	available := availableIndices(cfg, now, -1)
	if len(available) == 0 {
		return e.fallbackToSoonest(ctx, cfg)
	}

	best := available[0]
	bestScore := calculateScore(cfg.Accounts[best], best == current, now)
	for _, idx := range available[1:] {
		// 严格大于才替换，平分时先出现者胜出
		if score := calculateScore(cfg.Accounts[idx], idx == current, now); score > bestScore {
			best, bestScore = idx, score
		}
	}

	idx, err := e.store.AtomicSetActiveIndex(ctx, best)
	if err != nil {
		return nil, err
	}
	return e.claim(ctx, idx, ReasonHealthBased)
}

// fallbackToSoonest 所有账号都受限时，切到最早恢复的账号
func (e *Engine) fallbackToSoonest(ctx context.Context, cfg *models.RotationConfig) (*Selection, error) {
	idx, err := e.store.AtomicSetActiveIndex(ctx, soonestAvailable(cfg))
	if err != nil {
		return nil, err
	}
	return e.claim(ctx, idx, ReasonAllRateLimited)
}
