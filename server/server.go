package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"account-rotator/core"
)

// Options serve 命令的可选依赖
type Options struct {
	Addr       string
	AdminToken string
	RateLimit  float64 // 每秒请求数，0 表示不限流
	Burst      int
	Journal    *core.OutcomeJournal
	Hub        *Hub
}

// Server 本地管理 API：账号管理、选择与上报、统计以及 websocket 通知
type Server struct {
	engine  *core.Engine
	journal *core.OutcomeJournal
	hub     *Hub
	limiter *IPRateLimiter
	logger  *logrus.Logger
	router  *gin.Engine
	http    *http.Server
}

func New(engine *core.Engine, logger *logrus.Logger, opts Options) *Server {
	s := &Server{
		engine:  engine,
		journal: opts.Journal,
		hub:     opts.Hub,
		logger:  logger,
	}
	if s.hub == nil {
		s.hub = NewHub(logger)
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = NewIPRateLimiter(rate.Limit(opts.RateLimit), burst)
	}

	router := gin.New()
	router.Use(gin.RecoveryWithWriter(logger.Writer()))
	router.Use(CORSMiddleware())
	router.Use(RequestLoggerMiddleware(logger))
	s.router = router
	s.setupRoutes(opts.AdminToken)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 供测试直接驱动
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Start 阻塞直到服务关闭
func (s *Server) Start() error {
	s.logger.Infof("Admin API listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	err := s.http.Shutdown(ctx)
	// 升级后的 websocket 连接不受 http.Server 管理
	s.hub.Close()
	return err
}

func (s *Server) setupRoutes(adminToken string) {
	// 公开路由
	s.router.GET("/health", s.handleHealth)

	auth := AdminAuthMiddleware(adminToken)
	s.router.GET("/ws", auth, func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	admin := s.router.Group("/admin")
	admin.Use(RateLimitMiddleware(s.limiter, s.logger), auth)
	{
		// 账号管理
		admin.GET("/accounts", s.handleListAccounts)
		admin.POST("/accounts", s.handleAddAccount)
		admin.DELETE("/accounts/:index", s.handleRemoveAccount)
		admin.POST("/accounts/:index/clear", s.handleClearLimits)
		admin.POST("/accounts/:index/reset-billing", s.handleResetBilling)

		// 选择与结果上报
		admin.POST("/select", s.handleSelect)
		admin.POST("/accounts/:index/report/success", s.handleReportSuccess)
		admin.POST("/accounts/:index/report/rate-limited", s.handleReportRateLimited)
		admin.POST("/accounts/:index/report/failure", s.handleReportFailure)
		admin.POST("/accounts/:index/report/billing", s.handleReportBilling)
		admin.POST("/accounts/:index/report/http-failure", s.handleReportHTTPFailure)

		// 设置与维护
		admin.PUT("/settings", s.handleUpdateSettings)
		admin.POST("/refresh", s.handleRefresh)

		// 统计
		admin.GET("/stats", s.handleStats)
		admin.GET("/history", s.handleHistory)
	}
}
