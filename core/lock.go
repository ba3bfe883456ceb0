package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"account-rotator/models"
)

// LockOptions 跨进程文件锁参数
type LockOptions struct {
	// StaleAfter 单次尝试等待持有者释放的最长时间
	StaleAfter time.Duration
	// Retries 超过 StaleAfter 后额外重试的次数
	Retries int
	// RetryMinWait / RetryMaxWait 两次尝试之间的退避区间 (指数增长)
	RetryMinWait time.Duration
	RetryMaxWait time.Duration
}

// DefaultLockOptions 默认锁参数
func DefaultLockOptions() LockOptions {
	return LockOptions{
		StaleAfter:   5 * time.Second,
		Retries:      3,
		RetryMinWait: 25 * time.Millisecond,
		RetryMaxWait: 500 * time.Millisecond,
	}
}

func (o LockOptions) normalized() LockOptions {
	def := DefaultLockOptions()
	if o.StaleAfter <= 0 {
		o.StaleAfter = def.StaleAfter
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryMinWait <= 0 {
		o.RetryMinWait = def.RetryMinWait
	}
	if o.RetryMaxWait < o.RetryMinWait {
		o.RetryMaxWait = o.RetryMinWait
	}
	return o
}

// Locker 命名资源锁。Lock 成功后返回释放函数
type Locker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}

// FileLocker 基于 flock(2) 的建议锁。
// 持有者进程崩溃时内核会自动释放锁，磁盘上不会残留过期锁。
type FileLocker struct {
	path   string
	opts   LockOptions
	logger *logrus.Logger
}

func NewFileLocker(path string, opts LockOptions, logger *logrus.Logger) *FileLocker {
	return &FileLocker{
		path:   path,
		opts:   opts.normalized(),
		logger: logger,
	}
}

// Lock 获取锁。每次尝试最多等待 StaleAfter，共尝试 Retries+1 次，
// 全部失败返回 ErrLockTimeout
func (l *FileLocker) Lock(ctx context.Context) (func() error, error) {
	// 每次获取都使用新的文件描述符，同进程内的 goroutine 之间同样互斥
	fl := flock.New(l.path)
	wait := l.opts.RetryMinWait
	attempts := l.opts.Retries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, l.opts.StaleAfter)
		ok, err := fl.TryLockContext(attemptCtx, l.opts.RetryMinWait)
		cancel()
		if ok {
			return fl.Unlock, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrLockTimeout, l.path, ctxErr)
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire lock %s: %w", l.path, err)
		}
		if attempt == attempts {
			break
		}

		l.logger.WithFields(logrus.Fields{
			"lock":    l.path,
			"attempt": attempt,
		}).Debug("store lock busy, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", models.ErrLockTimeout, l.path, ctx.Err())
		}
		wait *= 2
		if wait > l.opts.RetryMaxWait {
			wait = l.opts.RetryMaxWait
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts", models.ErrLockTimeout, l.path, attempts)
}
