package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Severity 通知级别
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice 面向用户的状态变化通知
type Notice struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Index    int       `json:"index"`
	Account  string    `json:"account,omitempty"`
	Time     time.Time `json:"time"`
}

// Notifier 通知能力 (toast、日志、websocket 推送等)
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// LogNotifier 把通知写入日志
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notice) {
	entry := l.logger.WithFields(logrus.Fields{
		"index":   n.Index,
		"account": n.Account,
	})
	switch n.Severity {
	case SeverityError:
		entry.Error(n.Message)
	case SeverityWarning:
		entry.Warn(n.Message)
	default:
		entry.Info(n.Message)
	}
}

// MultiNotifier 依次转发给所有 Notifier
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notice) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notice) {}
