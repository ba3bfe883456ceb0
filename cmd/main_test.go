package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-rotator/config"
	"account-rotator/core"
)

type cli struct {
	t          *testing.T
	configPath string
	storePath  string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "accounts.json")
	cfg.Journal.Path = filepath.Join(dir, "journal.db")
	cfg.Log.Level = "error"
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, config.Save(cfg, configPath))
	return &cli{t: t, configPath: configPath, storePath: cfg.Store.Path}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", c.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

func TestInitCreatesStore(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("init")
	assert.Contains(t, out, "Store ready at "+c.storePath)
	assert.FileExists(t, c.storePath)
}

func TestAddListAndRemove(t *testing.T) {
	c := newCLI(t)
	assert.Contains(t, c.mustRun("add", "sk-cli-key-aaaaaaaa0001"), "Added Account 1")
	assert.Contains(t, c.mustRun("add", "sk-cli-key-aaaaaaaa0002", "--name", "backup"), "Added backup")

	_, err := c.run("add", "sk-cli-key-aaaaaaaa0001")
	require.Error(t, err)

	out := c.mustRun("list")
	assert.Contains(t, out, "Account 1")
	assert.Contains(t, out, "backup")
	assert.Contains(t, out, "2/2 available")
	assert.NotContains(t, out, "sk-cli-key-aaaaaaaa0002", "keys are masked")

	assert.Contains(t, c.mustRun("remove", "0"), "Removed Account 1")
	_, err = c.run("remove", "5")
	require.Error(t, err)
	_, err = c.run("remove", "x")
	require.Error(t, err)
}

func TestSelectAndReportFlow(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("select")
	require.Error(t, err, "empty pool")

	c.mustRun("add", "sk-cli-key-aaaaaaaa0001")
	c.mustRun("add", "sk-cli-key-aaaaaaaa0002")

	out := c.mustRun("select")
	assert.Equal(t, "sk-cli-key-aaaaaaaa0001\n", out)

	out = c.mustRun("select", "--force", "--json")
	var sel core.Selection
	require.NoError(t, json.Unmarshal([]byte(out), &sel))
	// 强制重新评分时当前账号仍带 sticky 加成
	assert.Equal(t, core.ReasonHealthBased, sel.Reason)
	assert.Equal(t, 0, sel.Index)

	assert.Contains(t, c.mustRun("report", "success", "1", "--ms", "180"), "health 100")
	assert.Contains(t, c.mustRun("report", "failure", "1"), "health 80")
	assert.Contains(t, c.mustRun("report", "billing", "0"), "1 more to confirm")
	assert.Contains(t, c.mustRun("report", "http", "0", "--status", "402"), "Billing limit confirmed")
	assert.Contains(t, c.mustRun("report", "rate-limited", "1", "--retry-after", "30s"), "rate limited until")

	out = c.mustRun("stats", "--json")
	var stats core.PoolStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalAccounts)
	assert.Zero(t, stats.AvailableAccounts)
	assert.Equal(t, int64(180), stats.Accounts[1].P95ResponseMs)

	assert.Contains(t, c.mustRun("clear", "0"), "Cleared limits on Account 1")

	out = c.mustRun("history", "-n", "50")
	assert.Contains(t, out, "billing_limit")
	assert.Contains(t, out, "rate_limited")
	assert.Contains(t, out, "Usage")
	assert.NotContains(t, out, "sk-cli-key-aaaaaaaa0001")
}

func TestSettingsCommands(t *testing.T) {
	c := newCLI(t)
	c.mustRun("add", "sk-cli-key-aaaaaaaa0001")
	c.mustRun("add", "sk-cli-key-aaaaaaaa0002")

	assert.Equal(t, "health-based\n", c.mustRun("strategy"))
	c.mustRun("strategy", "round-robin")
	assert.Equal(t, "round-robin\n", c.mustRun("strategy"))
	_, err := c.run("strategy", "random")
	require.Error(t, err)

	assert.Equal(t, "on\n", c.mustRun("auto-refresh"))
	c.mustRun("auto-refresh", "off")
	assert.Equal(t, "off\n", c.mustRun("auto-refresh"))
	_, err = c.run("auto-refresh", "maybe")
	require.Error(t, err)

	assert.Equal(t, "30\n", c.mustRun("cooldown"))
	c.mustRun("cooldown", "90")
	assert.Equal(t, "90\n", c.mustRun("cooldown"))
	_, err = c.run("cooldown", "0")
	require.Error(t, err)

	c.mustRun("use", "1")
	_, err = c.run("use", "2")
	require.Error(t, err)

	out := c.mustRun("list")
	lines := strings.Split(out, "\n")
	var activeLine string
	for _, l := range lines {
		if strings.Contains(l, "▶") {
			activeLine = l
		}
	}
	assert.Contains(t, activeLine, "Account 2")

	assert.Contains(t, c.mustRun("refresh"), "Refreshed 0 account(s)")
}

func TestStoreFlagOverridesConfig(t *testing.T) {
	c := newCLI(t)
	other := filepath.Join(t.TempDir(), "elsewhere.json")
	c.mustRun("--store", other, "add", "sk-cli-key-aaaaaaaa0001")
	assert.FileExists(t, other)
	assert.NoFileExists(t, c.storePath)
}
