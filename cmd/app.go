package main

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"account-rotator/config"
	"account-rotator/core"
	"account-rotator/logging"
	"account-rotator/models"
	"account-rotator/server"
)

// rootOptions 全局参数
type rootOptions struct {
	configPath string
	storePath  string
	logLevel   string
}

// app 一次命令执行所需的依赖
type app struct {
	cfg     config.Config
	logger  *logrus.Logger
	store   *core.FileStore
	engine  *core.Engine
	journal *core.OutcomeJournal
	hub     *server.Hub
	closers []io.Closer
}

// open 读取配置并组装引擎；withHub 时通知同时推送到 websocket
func (o *rootOptions) open(withHub bool) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	log, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, closers: []io.Closer{logCloser}}

	a.store = core.NewFileStore(cfg.Store.Path, log, core.WithLockOptions(cfg.LockOptions()))

	notifiers := core.MultiNotifier{core.NewLogNotifier(log)}
	if withHub {
		a.hub = server.NewHub(log)
		notifiers = append(notifiers, a.hub)
	}
	engineOpts := []core.Option{core.WithNotifier(notifiers)}

	if cfg.Journal.Enabled {
		db, err := openJournalDB(cfg.Journal.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.journal = core.NewOutcomeJournal(db, log, cfg.Journal.Keep)
		engineOpts = append(engineOpts, core.WithRecorder(a.journal))
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB)
		}
	}

	a.engine = core.NewEngine(a.store, log, engineOpts...)
	return a, nil
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.storePath != "" {
		cfg.Store.Path = o.storePath
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// Close 先排空流水队列，再关闭数据库与日志文件
func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}

// openJournalDB 打开流水数据库，只在出错时输出 SQL 日志
func openJournalDB(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	// SQL 日志写 stderr，stdout 留给命令输出 (select 打印的 Key)
	sqlLog := logger.New(stdlog.New(os.Stderr, "\r\n", stdlog.LstdFlags), logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Error,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: sqlLog})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}
	return db, nil
}
