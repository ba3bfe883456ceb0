package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"account-rotator/core"
	"account-rotator/models"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#D4A853"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7FB069"))
	limitedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E07A5F"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8A8A"))
)

type column struct {
	title string
	width int
}

var accountColumns = []column{
	{"", 2},
	{"#", 3},
	{"NAME", 18},
	{"KEY", 15},
	{"HEALTH", 7},
	{"REQS", 7},
	{"OK%", 6},
	{"P95", 7},
	{"TODAY", 6},
	{"STATUS", 24},
}

func cell(s string, width int, style lipgloss.Style) string {
	if lipgloss.Width(s) > width-1 && width > 1 {
		s = truncate(s, width-1)
	}
	return style.Width(width).Render(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// renderAccounts 账号列表表格
func renderAccounts(stats core.PoolStats) string {
	if stats.TotalAccounts == 0 {
		return "No accounts configured. Add one with `account-rotator add <key>`.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  strategy %s, %d/%d available\n\n",
		headerStyle.Render("Accounts"), stats.Strategy, stats.AvailableAccounts, stats.TotalAccounts)

	header := make([]string, 0, len(accountColumns))
	for _, c := range accountColumns {
		header = append(header, cell(c.title, c.width, headerStyle))
	}
	b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, header...), " "))
	b.WriteString("\n")

	for _, a := range stats.Accounts {
		marker := ""
		if a.Active {
			marker = "▶"
		}
		status, style := accountStatus(a)
		values := []string{
			marker,
			fmt.Sprintf("%d", a.Index),
			a.Name,
			a.MaskedKey,
			fmt.Sprintf("%d", a.HealthScore),
			fmt.Sprintf("%d", a.TotalRequests),
			percent(a),
			latency(a.P95ResponseMs),
			fmt.Sprintf("%d", a.RequestsToday),
			status,
		}
		row := make([]string, 0, len(values))
		for i, v := range values {
			s := lipgloss.NewStyle()
			switch {
			case i == 0 && a.Active:
				s = activeStyle
			case i == len(values)-1:
				s = style
			}
			row = append(row, cell(v, accountColumns[i].width, s))
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, row...), " "))
		b.WriteString("\n")
	}
	return b.String()
}

func accountStatus(a core.AccountStats) (string, lipgloss.Style) {
	switch {
	case a.LimitedUntil > 0:
		return "limited until " + time.UnixMilli(a.LimitedUntil).Format("01-02 15:04"), limitedStyle
	case a.HealthScore < core.MinHealthScore:
		return "unhealthy", limitedStyle
	case a.Active:
		return "active", activeStyle
	}
	return "ready", dimStyle
}

func percent(a core.AccountStats) string {
	if a.TotalRequests == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", a.SuccessRate*100)
}

func latency(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return fmt.Sprintf("%dms", ms)
}

// renderHistory 最近的结果流水
func renderHistory(logs []models.OutcomeLog) string {
	if len(logs) == 0 {
		return "No outcomes recorded yet.\n"
	}
	var b strings.Builder
	for _, l := range logs {
		line := fmt.Sprintf("%s  %-14s %-16s %s",
			l.CreatedAt.Local().Format("2006-01-02 15:04:05"), l.Kind, l.AccountName, l.MaskedKey)
		if l.Duration > 0 {
			line += fmt.Sprintf("  %dms", l.Duration)
		}
		if l.Reason != "" {
			line += "  " + dimStyle.Render(l.Reason)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// renderUsage 按账号聚合的流水统计
func renderUsage(usage []models.AccountUsage) string {
	if len(usage) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("Usage"))
	b.WriteString("\n")
	for _, u := range usage {
		avg := "-"
		if u.LatencyCount > 0 {
			avg = fmt.Sprintf("%.0fms", u.TotalLatency/float64(u.LatencyCount))
		}
		fmt.Fprintf(&b, "  %-16s selected %d, ok %d, rate-limited %d, failed %d, billing %d, avg %s\n",
			u.AccountName, u.Selected, u.Success, u.RateLimited, u.Failure, u.BillingHits, avg)
	}
	return b.String()
}
