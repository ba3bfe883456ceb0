package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"account-rotator/core"
	"account-rotator/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

type addAccountRequest struct {
	Key  string `json:"key" binding:"required"`
	Name string `json:"name"`
}

type selectRequest struct {
	Force bool `json:"force"`
}

type successRequest struct {
	ResponseTimeMs *int64 `json:"response_time_ms"`
}

type rateLimitedRequest struct {
	RetryAfterSeconds float64 `json:"retry_after_seconds"`
}

type httpFailureRequest struct {
	Status            int     `json:"status" binding:"required"`
	Body              string  `json:"body"`
	RetryAfterSeconds float64 `json:"retry_after_seconds"`
}

type settingsRequest struct {
	RotationStrategy             *string `json:"rotation_strategy"`
	AutoRefreshHealth            *bool   `json:"auto_refresh_health"`
	HealthRefreshCooldownMinutes *int    `json:"health_refresh_cooldown_minutes"`
	ActiveIndex                  *int    `json:"active_index"`
}

// parseIndex 解析路径中的账号索引
func parseIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request_error", "index must be a number")
		return 0, false
	}
	return index, true
}

// bindOptionalJSON 请求体可以为空
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return false
	}
	return true
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// masked 管理接口不返回明文 Key (select 除外)
func masked(a models.Account) models.Account {
	a.Key = core.MaskKey(a.Key)
	return a
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"clients":   s.hub.ClientCount(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleListAccounts(c *gin.Context) {
	cfg, err := s.engine.ListAccounts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range cfg.Accounts {
		cfg.Accounts[i] = masked(cfg.Accounts[i])
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleAddAccount(c *gin.Context) {
	var req addAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	account, err := s.engine.AddAccount(c.Request.Context(), req.Key, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, masked(account))
}

func (s *Server) handleRemoveAccount(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	account, err := s.engine.RemoveAccount(c.Request.Context(), index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, masked(account))
}

func (s *Server) handleClearLimits(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	account, err := s.engine.ClearLimits(c.Request.Context(), index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, masked(account))
}

func (s *Server) handleResetBilling(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	if err := s.engine.ResetBillingLimitHits(c.Request.Context(), index); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleSelect 返回明文 Key，调用方需要用它发起上游请求
func (s *Server) handleSelect(c *gin.Context) {
	var req selectRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	sel, err := s.engine.SelectAccount(c.Request.Context(), req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	if sel == nil {
		abortWithError(c, http.StatusNotFound, "no_accounts", "no accounts configured")
		return
	}
	c.JSON(http.StatusOK, sel)
}

func (s *Server) handleReportSuccess(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	var req successRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	account, err := s.engine.ReportSuccess(c.Request.Context(), index, req.ResponseTimeMs, s.engine.Today())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, masked(account))
}

func (s *Server) handleReportRateLimited(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	var req rateLimitedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	account, err := s.engine.ReportRateLimited(c.Request.Context(), index, seconds(req.RetryAfterSeconds))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, masked(account))
}

func (s *Server) handleReportFailure(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	account, err := s.engine.ReportFailure(c.Request.Context(), index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, masked(account))
}

func (s *Server) handleReportBilling(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	res, err := s.engine.ReportBillingLimitHit(c.Request.Context(), index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleReportHTTPFailure(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	var req httpFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	report, err := s.engine.ReportHTTPFailure(c.Request.Context(), index, req.Status, req.Body, seconds(req.RetryAfterSeconds))
	if err != nil {
		respondError(c, err)
		return
	}
	report.Account = masked(report.Account)
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	patch := core.SettingsPatch{
		AutoRefreshHealth:            req.AutoRefreshHealth,
		HealthRefreshCooldownMinutes: req.HealthRefreshCooldownMinutes,
		ActiveIndex:                  req.ActiveIndex,
	}
	if req.RotationStrategy != nil {
		strategy, err := models.ParseStrategy(*req.RotationStrategy)
		if err != nil {
			respondError(c, err)
			return
		}
		patch.RotationStrategy = &strategy
	}
	cfg, err := s.engine.UpdateSettings(c.Request.Context(), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range cfg.Accounts {
		cfg.Accounts[i] = masked(cfg.Accounts[i])
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleRefresh(c *gin.Context) {
	res, err := s.engine.RefreshHealthScores(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.engine.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.journal == nil {
		abortWithError(c, http.StatusNotFound, "journal_disabled", "outcome journal is disabled")
		return
	}
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithError(c, http.StatusBadRequest, "invalid_request_error", "limit must be a positive number")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	recent, err := s.journal.Recent(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	usage, err := s.journal.Usage()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recent": recent,
		"usage":  usage,
	})
}
