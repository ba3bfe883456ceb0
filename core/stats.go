package core

import (
	"context"
	"sort"

	"account-rotator/models"
)

// AccountStats 单账号统计视图
type AccountStats struct {
	Index               int     `json:"index"`
	Name                string  `json:"name"`
	MaskedKey           string  `json:"masked_key"`
	Active              bool    `json:"active"`
	Available           bool    `json:"available"`
	HealthScore         int     `json:"health_score"`
	TotalRequests       int64   `json:"total_requests"`
	SuccessfulRequests  int64   `json:"successful_requests"`
	SuccessRate         float64 `json:"success_rate"`
	AvgResponseMs       float64 `json:"avg_response_ms"`
	P95ResponseMs       int64   `json:"p95_response_ms"`
	RequestsToday       int     `json:"requests_today"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LimitedUntil        int64   `json:"limited_until,omitempty"`
}

// PoolStats 账号池汇总
type PoolStats struct {
	Strategy           models.RotationStrategy `json:"strategy"`
	ActiveIndex        int                     `json:"active_index"`
	TotalAccounts      int                     `json:"total_accounts"`
	AvailableAccounts  int                     `json:"available_accounts"`
	TotalRequests      int64                   `json:"total_requests"`
	SuccessfulRequests int64                   `json:"successful_requests"`
	RequestsToday      int                     `json:"requests_today"`
	Accounts           []AccountStats          `json:"accounts"`
}

// Stats 基于当前文档计算统计
func (e *Engine) Stats(ctx context.Context) (PoolStats, error) {
	cfg, err := e.store.Load(ctx)
	if err != nil {
		return PoolStats{}, err
	}
	now := e.clock.Now()
	return buildStats(&cfg, now.UnixMilli(), DateKey(now)), nil
}

func buildStats(cfg *models.RotationConfig, nowMs int64, today string) PoolStats {
	out := PoolStats{
		Strategy:      cfg.RotationStrategy,
		ActiveIndex:   cfg.ActiveIndex,
		TotalAccounts: len(cfg.Accounts),
		Accounts:      make([]AccountStats, 0, len(cfg.Accounts)),
	}
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		st := AccountStats{
			Index:               i,
			Name:                a.Name,
			MaskedKey:           MaskKey(a.Key),
			Active:              i == cfg.ActiveIndex,
			Available:           !a.IsLimited(nowMs) && a.HealthScore >= MinHealthScore,
			HealthScore:         a.HealthScore,
			TotalRequests:       a.TotalRequests,
			SuccessfulRequests:  a.SuccessfulRequests,
			RequestsToday:       a.DailyRequests[today],
			ConsecutiveFailures: a.ConsecutiveFailures,
		}
		if a.TotalRequests > 0 {
			st.SuccessRate = float64(a.SuccessfulRequests) / float64(a.TotalRequests)
		}
		st.AvgResponseMs, st.P95ResponseMs = responseTimeSummary(a.ResponseTimes)
		if a.IsLimited(nowMs) {
			st.LimitedUntil = a.AvailableAt()
		}

		if st.Available {
			out.AvailableAccounts++
		}
		out.TotalRequests += a.TotalRequests
		out.SuccessfulRequests += a.SuccessfulRequests
		out.RequestsToday += st.RequestsToday
		out.Accounts = append(out.Accounts, st)
	}
	return out
}

// responseTimeSummary 平均值与 p95 (最近邻取整)
func responseTimeSummary(samples []int64) (float64, int64) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	rank := (95*len(sorted) + 99) / 100
	return float64(sum) / float64(len(sorted)), sorted[rank-1]
}
