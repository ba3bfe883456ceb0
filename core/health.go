package core

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"account-rotator/models"
)

// BillingLimitResult 账单限额确认结果
type BillingLimitResult struct {
	IsConfirmed bool  `json:"is_confirmed"`
	HitsNeeded  int   `json:"hits_needed"`
	ResetTime   int64 `json:"reset_time,omitempty"`
}

// FailureReport ReportHTTPFailure 的分类结果
type FailureReport struct {
	Kind    models.OutcomeKind  `json:"kind"`
	Billing *BillingLimitResult `json:"billing,omitempty"`
	Account models.Account      `json:"account"`
}

// RefreshDetail 单个账号的被动恢复记录
type RefreshDetail struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	OldScore int    `json:"old_score"`
	NewScore int    `json:"new_score"`
}

// RefreshResult RefreshHealthScores 的汇总
type RefreshResult struct {
	RefreshedCount int             `json:"refreshed_count"`
	Details        []RefreshDetail `json:"details"`
}

// ReportSuccess 成功：+2 分，清零连续失败，记录耗时与按日计数
func (e *Engine) ReportSuccess(ctx context.Context, index int, responseTimeMs *int64, dateKey string) (models.Account, error) {
	if responseTimeMs != nil && *responseTimeMs < 0 {
		return models.Account{}, &models.ValidationError{
			Field:  "responseTimeMs",
			Reason: fmt.Sprintf("must be >= 0, got %d", *responseTimeMs),
		}
	}
	account, err := e.store.UpdateAccount(ctx, index, func(a *models.Account) error {
		applySuccess(a, responseTimeMs, dateKey)
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	var duration int64
	if responseTimeMs != nil {
		duration = *responseTimeMs
	}
	e.record(account, index, models.OutcomeSuccess, "", duration)
	return account, nil
}

// ReportRateLimited 限流：-15 分，rateLimitResetTime = now + retryAfter
func (e *Engine) ReportRateLimited(ctx context.Context, index int, retryAfter time.Duration) (models.Account, error) {
	now := nowMillis(e.clock)
	account, err := e.store.UpdateAccount(ctx, index, func(a *models.Account) error {
		applyRateLimited(a, now, retryAfter)
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	e.record(account, index, models.OutcomeRateLimited, retryAfter.String(), 0)
	e.notify(ctx, SeverityWarning, index, account.Name,
		fmt.Sprintf("%s rate limited until %s", account.Name, formatMillis(account.RateLimitResetTime)))
	return account, nil
}

// ReportFailure 普通失败：-20 分
func (e *Engine) ReportFailure(ctx context.Context, index int) (models.Account, error) {
	account, err := e.store.UpdateAccount(ctx, index, func(a *models.Account) error {
		applyFailure(a)
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	e.record(account, index, models.OutcomeFailure, "", 0)
	return account, nil
}

// ReportBillingLimitHit 账单限额需要连续两次命中才确认，
// 确认后 -30 分并冷却到下一个本地午夜
func (e *Engine) ReportBillingLimitHit(ctx context.Context, index int) (BillingLimitResult, error) {
	now := e.clock.Now()
	var result BillingLimitResult
	account, err := e.store.UpdateAccount(ctx, index, func(a *models.Account) error {
		result = applyBillingHit(a, now)
		return nil
	})
	if err != nil {
		return BillingLimitResult{}, err
	}
	e.recordBilling(ctx, account, index, result)
	return result, nil
}

// ResetBillingLimitHits 非账单类错误时清零确认计数
func (e *Engine) ResetBillingLimitHits(ctx context.Context, index int) error {
	_, err := e.store.UpdateAccount(ctx, index, func(a *models.Account) error {
		a.ConsecutiveBillingLimitHits = 0
		return nil
	})
	return err
}

// ClearLimits 运维强制解除限流与账单冷却
func (e *Engine) ClearLimits(ctx context.Context, index int) (models.Account, error) {
	account, err := e.store.UpdateAccount(ctx, index, func(a *models.Account) error {
		a.RateLimitResetTime = 0
		a.BillingLimitResetTime = 0
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	e.record(account, index, models.OutcomeLimitsCleared, "", 0)
	return account, nil
}

// ReportHTTPFailure 供拦截层上报非 2xx 响应：
// 分类器判定为账单信号时走两次确认；否则清零确认计数，429 记为限流，其余记为失败。
// 整个分类结果在一个临界区内落盘。
func (e *Engine) ReportHTTPFailure(ctx context.Context, index, statusCode int, body string, retryAfter time.Duration) (FailureReport, error) {
	now := e.clock.Now()
	isBilling := e.classifier != nil && e.classifier(statusCode, body)
	if statusCode == 429 && retryAfter <= 0 {
		retryAfter = DefaultRateLimitBackoff
	}

	var report FailureReport
	account, err := e.store.UpdateAccount(ctx, index, func(a *models.Account) error {
		switch {
		case isBilling:
			res := applyBillingHit(a, now)
			report.Billing = &res
			report.Kind = models.OutcomeBillingHit
			if res.IsConfirmed {
				report.Kind = models.OutcomeBillingLimit
			}
		case statusCode == 429:
			a.ConsecutiveBillingLimitHits = 0
			applyRateLimited(a, now.UnixMilli(), retryAfter)
			report.Kind = models.OutcomeRateLimited
		default:
			a.ConsecutiveBillingLimitHits = 0
			applyFailure(a)
			report.Kind = models.OutcomeFailure
		}
		return nil
	})
	if err != nil {
		return FailureReport{}, err
	}
	report.Account = account

	switch report.Kind {
	case models.OutcomeBillingHit, models.OutcomeBillingLimit:
		e.recordBilling(ctx, account, index, *report.Billing)
	case models.OutcomeRateLimited:
		e.record(account, index, report.Kind, fmt.Sprintf("status %d", statusCode), 0)
		e.notify(ctx, SeverityWarning, index, account.Name,
			fmt.Sprintf("%s rate limited until %s", account.Name, formatMillis(account.RateLimitResetTime)))
	default:
		e.record(account, index, report.Kind, fmt.Sprintf("status %d", statusCode), 0)
	}
	return report, nil
}

// RefreshHealthScores 被动恢复：限流窗口结束且超过冷却时间的账号 +10 分
func (e *Engine) RefreshHealthScores(ctx context.Context) (RefreshResult, error) {
	now := nowMillis(e.clock)
	result := RefreshResult{Details: []RefreshDetail{}}

	_, err := e.store.Update(ctx, func(cfg *models.RotationConfig) error {
		if !cfg.AutoRefreshHealth {
			return nil
		}
		cooldown := int64(cfg.HealthRefreshCooldownMinutes) * int64(time.Minute/time.Millisecond)
		for i := range cfg.Accounts {
			a := &cfg.Accounts[i]
			if a.HealthScore >= models.MaxHealthScore {
				continue
			}
			if a.RateLimitResetTime > now || now-a.RateLimitResetTime < cooldown {
				continue
			}
			old := a.HealthScore
			a.AdjustHealth(RefreshScoreDelta)
			a.ConsecutiveFailures = 0
			result.Details = append(result.Details, RefreshDetail{
				Index:    i,
				Name:     a.Name,
				OldScore: old,
				NewScore: a.HealthScore,
			})
		}
		result.RefreshedCount = len(result.Details)
		return nil
	})
	if err != nil {
		return RefreshResult{}, err
	}

	if result.RefreshedCount > 0 {
		e.logger.WithField("refreshed", result.RefreshedCount).Info("health scores refreshed")
	}
	return result, nil
}

func (e *Engine) recordBilling(ctx context.Context, account models.Account, index int, res BillingLimitResult) {
	if !res.IsConfirmed {
		e.record(account, index, models.OutcomeBillingHit, fmt.Sprintf("%d more hit(s) to confirm", res.HitsNeeded), 0)
		e.logger.WithFields(logrus.Fields{
			"index":       index,
			"hits_needed": res.HitsNeeded,
		}).Debug("unconfirmed billing limit signal")
		return
	}
	e.record(account, index, models.OutcomeBillingLimit, "", 0)
	e.notify(ctx, SeverityError, index, account.Name,
		fmt.Sprintf("%s hit its billing limit; cooling down until %s", account.Name, formatMillis(res.ResetTime)))
}

func applySuccess(a *models.Account, responseTimeMs *int64, dateKey string) {
	a.AdjustHealth(SuccessScoreDelta)
	a.SuccessfulRequests++
	if a.SuccessfulRequests > a.TotalRequests {
		// 未经 SelectAccount 直接上报时保持 successful <= total
		a.TotalRequests = a.SuccessfulRequests
	}
	a.ConsecutiveFailures = 0
	if responseTimeMs != nil {
		a.RecordResponseTime(*responseTimeMs)
	}
	if dateKey != "" {
		a.IncrementDaily(dateKey)
	}
}

func applyRateLimited(a *models.Account, nowMs int64, retryAfter time.Duration) {
	a.AdjustHealth(RateLimitScoreDelta)
	a.RateLimitResetTime = nowMs + retryAfter.Milliseconds()
	a.ConsecutiveFailures++
}

func applyFailure(a *models.Account) {
	a.AdjustHealth(FailureScoreDelta)
	a.ConsecutiveFailures++
}

func applyBillingHit(a *models.Account, now time.Time) BillingLimitResult {
	a.ConsecutiveBillingLimitHits++
	if a.ConsecutiveBillingLimitHits < BillingConfirmHits {
		return BillingLimitResult{HitsNeeded: BillingConfirmHits - a.ConsecutiveBillingLimitHits}
	}
	a.AdjustHealth(BillingLimitScoreDelta)
	a.BillingLimitResetTime = nextLocalMidnight(now)
	a.ConsecutiveBillingLimitHits = 0
	return BillingLimitResult{IsConfirmed: true, ResetTime: a.BillingLimitResetTime}
}
