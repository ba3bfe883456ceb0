package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() RotationConfig {
	cfg := DefaultRotationConfig()
	cfg.Accounts = []Account{
		NewAccount("sk-one", "Account 1", 1000),
		NewAccount("sk-two", "Account 2", 2000),
	}
	return cfg
}

func TestDefaultRotationConfigIsValid(t *testing.T) {
	cfg := DefaultRotationConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StrategyHealthBased, cfg.RotationStrategy)
	assert.True(t, cfg.AutoRefreshHealth)
	assert.Equal(t, 30, cfg.HealthRefreshCooldownMinutes)

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"accounts":[]`)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *RotationConfig)
		field  string
	}{
		{"future version", func(c *RotationConfig) { c.Version = CurrentVersion + 1 }, "version"},
		{"zero version", func(c *RotationConfig) { c.Version = 0 }, "version"},
		{"unknown strategy", func(c *RotationConfig) { c.RotationStrategy = "random" }, "rotationStrategy"},
		{"cooldown too low", func(c *RotationConfig) { c.HealthRefreshCooldownMinutes = 0 }, "healthRefreshCooldownMinutes"},
		{"cooldown too high", func(c *RotationConfig) { c.HealthRefreshCooldownMinutes = 1441 }, "healthRefreshCooldownMinutes"},
		{"active out of range", func(c *RotationConfig) { c.ActiveIndex = 2 }, "activeIndex"},
		{"negative active", func(c *RotationConfig) { c.ActiveIndex = -1 }, "activeIndex"},
		{"empty key", func(c *RotationConfig) { c.Accounts[0].Key = "" }, "accounts[0].key"},
		{"health over max", func(c *RotationConfig) { c.Accounts[1].HealthScore = 101 }, "accounts[1].healthScore"},
		{"negative failures", func(c *RotationConfig) { c.Accounts[0].ConsecutiveFailures = -1 }, "accounts[0].consecutiveFailures"},
		{"success over total", func(c *RotationConfig) { c.Accounts[0].SuccessfulRequests = 1 }, "accounts[0].successfulRequests"},
		{"too many samples", func(c *RotationConfig) { c.Accounts[0].ResponseTimes = make([]int64, 101) }, "accounts[0].responseTimes"},
		{"negative sample", func(c *RotationConfig) { c.Accounts[0].ResponseTimes = []int64{120, -5000} }, "accounts[0].responseTimes[1]"},
		{"negative daily", func(c *RotationConfig) { c.Accounts[0].DailyRequests["2026-01-01"] = -1 }, "accounts[0].dailyRequests[2026-01-01]"},
		{"duplicate key", func(c *RotationConfig) { c.Accounts[1].Key = "sk-one" }, "accounts[1].key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateEmptyPoolRequiresZeroActive(t *testing.T) {
	cfg := DefaultRotationConfig()
	cfg.ActiveIndex = 1
	assert.ErrorIs(t, cfg.Validate(), ErrValidation)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("sticky")
	require.NoError(t, err)
	assert.Equal(t, StrategySticky, s)

	_, err = ParseStrategy("least-used")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestClampIndex(t *testing.T) {
	assert.Equal(t, 0, ClampIndex(5, 0))
	assert.Equal(t, 0, ClampIndex(-3, 4))
	assert.Equal(t, 3, ClampIndex(9, 4))
	assert.Equal(t, 2, ClampIndex(2, 4))
}

func TestConfigCloneIsDeep(t *testing.T) {
	cfg := validConfig()
	cfg.Accounts[0].RecordResponseTime(10)
	cfg.Accounts[0].IncrementDaily("2026-03-10")

	clone := cfg.Clone()
	clone.Accounts[0].ResponseTimes[0] = 999
	clone.Accounts[0].DailyRequests["2026-03-10"] = 50
	clone.Accounts[1].Name = "renamed"

	assert.Equal(t, int64(10), cfg.Accounts[0].ResponseTimes[0])
	assert.Equal(t, 1, cfg.Accounts[0].DailyRequests["2026-03-10"])
	assert.Equal(t, "Account 2", cfg.Accounts[1].Name)
}
