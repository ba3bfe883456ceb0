package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"account-rotator/config"
)

// New 按配置创建 logger。返回的 io.Closer 在写文件时负责关闭日志文件
func New(cfg config.LogConfig) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return log, io.NopCloser(nil), nil
	}

	file, err := NewRotatingFile(cfg.File, cfg.MaxSizeMB)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(file)
	return log, file, nil
}

// Discard 测试与静默场景使用
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
