package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"account-rotator/models"
)

// FileStore 基于单个 JSON 文件的持久化存储。
// 每个公开方法都是一次完整的 "加锁 -> 读取 -> 修改 -> 写回 -> 解锁" 临界区，
// 不在内存中缓存任何状态。
type FileStore struct {
	path   string
	locker Locker
	clock  Clock
	logger *logrus.Logger
}

// StoreOption FileStore 可选项
type StoreOption func(*FileStore)

func WithLockOptions(opts LockOptions) StoreOption {
	return func(s *FileStore) {
		s.locker = NewFileLocker(s.path+".lock", opts, s.logger)
	}
}

func WithLocker(l Locker) StoreOption {
	return func(s *FileStore) { s.locker = l }
}

func WithStoreClock(c Clock) StoreOption {
	return func(s *FileStore) { s.clock = c }
}

// NewFileStore 创建存储，锁文件为 path + ".lock"
func NewFileStore(path string, logger *logrus.Logger, opts ...StoreOption) *FileStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &FileStore{
		path:   path,
		clock:  RealClock{},
		logger: logger,
	}
	s.locker = NewFileLocker(path+".lock", DefaultLockOptions(), logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) Path() string {
	return s.path
}

// Initialize 确保文件存在且带默认内容；已存在的文件不会被覆盖
func (s *FileStore) Initialize(ctx context.Context) error {
	return s.withLock(ctx, func() error {
		if _, err := os.Stat(s.path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat store %s: %w", s.path, err)
		}
		s.logger.WithField("path", s.path).Info("creating rotation store with defaults")
		return s.writeLocked(models.DefaultRotationConfig())
	})
}

// Load 读取并校验文档；文件不存在时写入并返回默认文档
func (s *FileStore) Load(ctx context.Context) (models.RotationConfig, error) {
	var out models.RotationConfig
	err := s.withLock(ctx, func() error {
		cfg, exists, err := s.readLocked()
		if err != nil {
			return err
		}
		if !exists {
			if err := s.writeLocked(cfg); err != nil {
				return err
			}
		}
		out = cfg
		return nil
	})
	return out, err
}

// Save 校验后整体写入
func (s *FileStore) Save(ctx context.Context, cfg models.RotationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.withLock(ctx, func() error {
		return s.writeLocked(cfg)
	})
}

// Update 通用临界区：mutate 作用在刚读出的文档上，返回写回后的文档
func (s *FileStore) Update(ctx context.Context, mutate func(*models.RotationConfig) error) (models.RotationConfig, error) {
	var out models.RotationConfig
	err := s.withLock(ctx, func() error {
		cfg, _, err := s.readLocked()
		if err != nil {
			return err
		}
		if err := mutate(&cfg); err != nil {
			return err
		}
		if err := s.writeLocked(cfg); err != nil {
			return err
		}
		out = cfg.Clone()
		return nil
	})
	return out, err
}

// AddAccount 追加账号；key 已存在时返回 ErrDuplicateKey
func (s *FileStore) AddAccount(ctx context.Context, key, name string) (models.Account, error) {
	if key == "" {
		return models.Account{}, &models.ValidationError{Field: "key", Reason: "must not be empty"}
	}
	var created models.Account
	_, err := s.Update(ctx, func(cfg *models.RotationConfig) error {
		for i := range cfg.Accounts {
			if cfg.Accounts[i].Key == key {
				return fmt.Errorf("%w: already stored as %q", models.ErrDuplicateKey, cfg.Accounts[i].Name)
			}
		}
		if name == "" {
			name = models.DefaultAccountName(len(cfg.Accounts) + 1)
		}
		created = models.NewAccount(key, name, nowMillis(s.clock))
		cfg.Accounts = append(cfg.Accounts, created)
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	return created.Clone(), nil
}

// RemoveAccount 删除账号并把 activeIndex 收敛回合法范围，返回被删除的账号
func (s *FileStore) RemoveAccount(ctx context.Context, index int) (models.Account, error) {
	var removed models.Account
	_, err := s.Update(ctx, func(cfg *models.RotationConfig) error {
		if !cfg.ValidIndex(index) {
			return indexError(index, len(cfg.Accounts))
		}
		removed = cfg.Accounts[index]
		cfg.Accounts = append(cfg.Accounts[:index], cfg.Accounts[index+1:]...)
		cfg.ClampActiveIndex()
		return nil
	})
	return removed, err
}

// UpdateAccount 在临界区内对指定账号应用 mutate
func (s *FileStore) UpdateAccount(ctx context.Context, index int, mutate func(*models.Account) error) (models.Account, error) {
	var updated models.Account
	_, err := s.Update(ctx, func(cfg *models.RotationConfig) error {
		if !cfg.ValidIndex(index) {
			return indexError(index, len(cfg.Accounts))
		}
		if err := mutate(&cfg.Accounts[index]); err != nil {
			return err
		}
		updated = cfg.Accounts[index].Clone()
		return nil
	})
	return updated, err
}

// GetAndIncrementActiveIndex 在同一临界区内读取 activeIndex 并推进到下一个候选：
// 取严格大于当前值的最小候选，没有则回绕到最小候选
func (s *FileStore) GetAndIncrementActiveIndex(ctx context.Context, candidates []int) (int, error) {
	if len(candidates) == 0 {
		return 0, &models.ValidationError{Field: "candidates", Reason: "must not be empty"}
	}
	sorted := append([]int(nil), candidates...)
	sort.Ints(sorted)

	selected := -1
	_, err := s.Update(ctx, func(cfg *models.RotationConfig) error {
		for _, idx := range sorted {
			if !cfg.ValidIndex(idx) {
				return indexError(idx, len(cfg.Accounts))
			}
		}
		selected = sorted[0]
		for _, idx := range sorted {
			if idx > cfg.ActiveIndex {
				selected = idx
				break
			}
		}
		cfg.ActiveIndex = selected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return selected, nil
}

// AtomicSetActiveIndex 将 preferred 收敛到 [0, len-1] 后设置为 activeIndex
func (s *FileStore) AtomicSetActiveIndex(ctx context.Context, preferred int) (int, error) {
	var actual int
	_, err := s.Update(ctx, func(cfg *models.RotationConfig) error {
		actual = models.ClampIndex(preferred, len(cfg.Accounts))
		cfg.ActiveIndex = actual
		return nil
	})
	return actual, err
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(); err != nil {
			s.logger.WithError(err).WithField("path", s.path).Warn("failed to release store lock")
		}
	}()
	return fn()
}

// readLocked 调用方必须持有锁。文件不存在时返回默认文档与 exists=false
func (s *FileStore) readLocked() (models.RotationConfig, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.DefaultRotationConfig(), false, nil
	}
	if err != nil {
		return models.RotationConfig{}, false, fmt.Errorf("read store %s: %w", s.path, err)
	}

	// 缺省字段保留默认值 (如 autoRefreshHealth=true)
	cfg := models.DefaultRotationConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return models.RotationConfig{}, true, fmt.Errorf("%w: %s: %v", models.ErrCorruptState, s.path, err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return models.RotationConfig{}, true, fmt.Errorf("%w: %s: %w", models.ErrCorruptState, s.path, err)
	}
	return cfg, true, nil
}

// writeLocked 调用方必须持有锁。先写临时文件再 rename，保证不会出现半截文档
func (s *FileStore) writeLocked(cfg models.RotationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

// normalize 为旧文档补齐空集合，保证写回时输出 [] / {} 而不是 null
func normalize(cfg *models.RotationConfig) {
	if cfg.Accounts == nil {
		cfg.Accounts = []models.Account{}
	}
	for i := range cfg.Accounts {
		if cfg.Accounts[i].ResponseTimes == nil {
			cfg.Accounts[i].ResponseTimes = []int64{}
		}
		if cfg.Accounts[i].DailyRequests == nil {
			cfg.Accounts[i].DailyRequests = map[string]int{}
		}
	}
}

func indexError(index, n int) error {
	return fmt.Errorf("%w: %d (have %d accounts)", models.ErrInvalidIndex, index, n)
}
