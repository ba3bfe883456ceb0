package models

import "fmt"

const (
	// MaxHealthScore 健康分上限
	MaxHealthScore = 100
	// MinHealthFloor 健康分下限
	MinHealthFloor = 0
	// ResponseTimeWindow responseTimes 最多保留的样本数
	ResponseTimeWindow = 100
)

// Account 单个可轮换凭证及其累计的遥测数据
// 时间字段统一为 epoch 毫秒，0 表示未设置
type Account struct {
	Key                         string         `json:"key"`
	Name                        string         `json:"name"`
	AddedAt                     int64          `json:"addedAt"`
	LastUsed                    int64          `json:"lastUsed"`
	HealthScore                 int            `json:"healthScore"`
	ConsecutiveFailures         int            `json:"consecutiveFailures"`
	ConsecutiveBillingLimitHits int            `json:"consecutiveBillingLimitHits"`
	RateLimitResetTime          int64          `json:"rateLimitResetTime"`
	BillingLimitResetTime       int64          `json:"billingLimitResetTime"`
	TotalRequests               int64          `json:"totalRequests"`
	SuccessfulRequests          int64          `json:"successfulRequests"`
	ResponseTimes               []int64        `json:"responseTimes"`
	DailyRequests               map[string]int `json:"dailyRequests"`
}

// NewAccount 使用默认值构造账号
func NewAccount(key, name string, nowMs int64) Account {
	return Account{
		Key:           key,
		Name:          name,
		AddedAt:       nowMs,
		LastUsed:      0,
		HealthScore:   MaxHealthScore,
		ResponseTimes: []int64{},
		DailyRequests: map[string]int{},
	}
}

// DefaultAccountName 生成 "Account N" 形式的显示名 (N 从 1 开始)
func DefaultAccountName(position int) string {
	return fmt.Sprintf("Account %d", position)
}

// IsRateLimited 当前是否处于限流窗口内
func (a *Account) IsRateLimited(nowMs int64) bool {
	return nowMs < a.RateLimitResetTime
}

// IsBillingLimited 当前是否处于账单冷却期内
func (a *Account) IsBillingLimited(nowMs int64) bool {
	return nowMs < a.BillingLimitResetTime
}

// IsLimited 任一限制生效即不可用
func (a *Account) IsLimited(nowMs int64) bool {
	return a.IsRateLimited(nowMs) || a.IsBillingLimited(nowMs)
}

// AvailableAt 账号重新可用的时间点 (两种限制中较晚者)
func (a *Account) AvailableAt() int64 {
	if a.BillingLimitResetTime > a.RateLimitResetTime {
		return a.BillingLimitResetTime
	}
	return a.RateLimitResetTime
}

// AdjustHealth 饱和加减，结果始终落在 [0,100]
func (a *Account) AdjustHealth(delta int) {
	a.HealthScore = ClampHealth(a.HealthScore + delta)
}

// RecordResponseTime 追加响应耗时，超出窗口时淘汰最旧的样本
func (a *Account) RecordResponseTime(ms int64) {
	a.ResponseTimes = append(a.ResponseTimes, ms)
	if over := len(a.ResponseTimes) - ResponseTimeWindow; over > 0 {
		trimmed := make([]int64, ResponseTimeWindow)
		copy(trimmed, a.ResponseTimes[over:])
		a.ResponseTimes = trimmed
	}
}

// IncrementDaily 按日期累计请求数
func (a *Account) IncrementDaily(dateKey string) {
	if a.DailyRequests == nil {
		a.DailyRequests = map[string]int{}
	}
	a.DailyRequests[dateKey]++
}

// ClampHealth 将分数限制在 [0,100]
func ClampHealth(score int) int {
	if score > MaxHealthScore {
		return MaxHealthScore
	}
	if score < MinHealthFloor {
		return MinHealthFloor
	}
	return score
}

// Clone 深拷贝，避免调用方持有存储层切片/映射的引用
func (a Account) Clone() Account {
	out := a
	if a.ResponseTimes != nil {
		out.ResponseTimes = make([]int64, len(a.ResponseTimes))
		copy(out.ResponseTimes, a.ResponseTimes)
	}
	if a.DailyRequests != nil {
		out.DailyRequests = make(map[string]int, len(a.DailyRequests))
		for k, v := range a.DailyRequests {
			out.DailyRequests[k] = v
		}
	}
	return out
}
