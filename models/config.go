package models

import "fmt"

// RotationStrategy 轮换策略
type RotationStrategy string

const (
	StrategyRoundRobin  RotationStrategy = "round-robin"
	StrategyHealthBased RotationStrategy = "health-based"
	StrategySticky      RotationStrategy = "sticky"
)

const (
	CurrentVersion = 1

	DefaultHealthRefreshCooldownMinutes = 30
	MinHealthRefreshCooldownMinutes     = 1
	MaxHealthRefreshCooldownMinutes     = 1440
)

// Valid 是否为已知策略
func (s RotationStrategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyHealthBased, StrategySticky:
		return true
	}
	return false
}

// ParseStrategy 解析策略名称
func ParseStrategy(name string) (RotationStrategy, error) {
	s := RotationStrategy(name)
	if !s.Valid() {
		return "", invalid("rotationStrategy", "unknown strategy %q", name)
	}
	return s, nil
}

// RotationConfig 持久化文档 (每个存储文件一份)
type RotationConfig struct {
	Version                      int              `json:"version"`
	Accounts                     []Account        `json:"accounts"`
	ActiveIndex                  int              `json:"activeIndex"`
	RotationStrategy             RotationStrategy `json:"rotationStrategy"`
	AutoRefreshHealth            bool             `json:"autoRefreshHealth"`
	HealthRefreshCooldownMinutes int              `json:"healthRefreshCooldownMinutes"`
}

// DefaultRotationConfig 首次访问时写入的默认文档
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		Version:                      CurrentVersion,
		Accounts:                     []Account{},
		ActiveIndex:                  0,
		RotationStrategy:             StrategyHealthBased,
		AutoRefreshHealth:            true,
		HealthRefreshCooldownMinutes: DefaultHealthRefreshCooldownMinutes,
	}
}

// ValidIndex 索引是否落在账号列表内
func (c *RotationConfig) ValidIndex(index int) bool {
	return index >= 0 && index < len(c.Accounts)
}

// ClampActiveIndex 将 activeIndex 收敛到 [0, len-1]，空列表时为 0
func (c *RotationConfig) ClampActiveIndex() {
	c.ActiveIndex = ClampIndex(c.ActiveIndex, len(c.Accounts))
}

// ClampIndex 将 index 限制在 [0, n-1]
func ClampIndex(index, n int) int {
	if n <= 0 || index < 0 {
		return 0
	}
	if index >= n {
		return n - 1
	}
	return index
}

// Clone 深拷贝
func (c RotationConfig) Clone() RotationConfig {
	out := c
	if c.Accounts != nil {
		out.Accounts = make([]Account, len(c.Accounts))
		for i, a := range c.Accounts {
			out.Accounts[i] = a.Clone()
		}
	}
	return out
}

// Validate 校验文档的全部约束
func (c *RotationConfig) Validate() error {
	if c.Version < 1 {
		return invalid("version", "must be >= 1, got %d", c.Version)
	}
	if c.Version > CurrentVersion {
		return invalid("version", "unsupported schema version %d", c.Version)
	}
	if !c.RotationStrategy.Valid() {
		return invalid("rotationStrategy", "unknown strategy %q", c.RotationStrategy)
	}
	if c.HealthRefreshCooldownMinutes < MinHealthRefreshCooldownMinutes ||
		c.HealthRefreshCooldownMinutes > MaxHealthRefreshCooldownMinutes {
		return invalid("healthRefreshCooldownMinutes", "must be in [%d,%d], got %d",
			MinHealthRefreshCooldownMinutes, MaxHealthRefreshCooldownMinutes, c.HealthRefreshCooldownMinutes)
	}
	if len(c.Accounts) == 0 {
		if c.ActiveIndex != 0 {
			return invalid("activeIndex", "must be 0 when there are no accounts, got %d", c.ActiveIndex)
		}
	} else if !c.ValidIndex(c.ActiveIndex) {
		return invalid("activeIndex", "must be in [0,%d), got %d", len(c.Accounts), c.ActiveIndex)
	}

	seen := make(map[string]int, len(c.Accounts))
	for i := range c.Accounts {
		if err := c.Accounts[i].validate(fmt.Sprintf("accounts[%d]", i)); err != nil {
			return err
		}
		if prev, ok := seen[c.Accounts[i].Key]; ok {
			return invalid(fmt.Sprintf("accounts[%d].key", i), "duplicates accounts[%d].key", prev)
		}
		seen[c.Accounts[i].Key] = i
	}
	return nil
}

func (a *Account) validate(path string) error {
	switch {
	case a.Key == "":
		return invalid(path+".key", "must not be empty")
	case a.HealthScore < MinHealthFloor || a.HealthScore > MaxHealthScore:
		return invalid(path+".healthScore", "must be in [0,100], got %d", a.HealthScore)
	case a.ConsecutiveFailures < 0:
		return invalid(path+".consecutiveFailures", "must be >= 0")
	case a.ConsecutiveBillingLimitHits < 0:
		return invalid(path+".consecutiveBillingLimitHits", "must be >= 0")
	case a.RateLimitResetTime < 0:
		return invalid(path+".rateLimitResetTime", "must be >= 0")
	case a.BillingLimitResetTime < 0:
		return invalid(path+".billingLimitResetTime", "must be >= 0")
	case a.TotalRequests < 0 || a.SuccessfulRequests < 0:
		return invalid(path+".totalRequests", "request counters must be >= 0")
	case a.SuccessfulRequests > a.TotalRequests:
		return invalid(path+".successfulRequests", "%d exceeds totalRequests %d", a.SuccessfulRequests, a.TotalRequests)
	case len(a.ResponseTimes) > ResponseTimeWindow:
		return invalid(path+".responseTimes", "holds %d samples, max %d", len(a.ResponseTimes), ResponseTimeWindow)
	}
	for i, ms := range a.ResponseTimes {
		if ms < 0 {
			return invalid(fmt.Sprintf("%s.responseTimes[%d]", path, i), "must be >= 0, got %d", ms)
		}
	}
	for date, n := range a.DailyRequests {
		if n < 0 {
			return invalid(path+".dailyRequests["+date+"]", "must be >= 0")
		}
	}
	return nil
}
