package core

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"account-rotator/models"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock {
	return &manualClock{now: t}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []*models.OutcomeLog
}

func (m *memoryRecorder) Record(entry *models.OutcomeLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *memoryRecorder) kinds() []models.OutcomeKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.OutcomeKind, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Kind)
	}
	return out
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testLockOptions() LockOptions {
	return LockOptions{
		StaleAfter:   2 * time.Second,
		Retries:      5,
		RetryMinWait: time.Millisecond,
		RetryMaxWait: 10 * time.Millisecond,
	}
}

func newTestStore(t *testing.T, clk Clock) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rotator", "accounts.json")
	return NewFileStore(path, testLogger(), WithLockOptions(testLockOptions()), WithStoreClock(clk))
}

type engineFixture struct {
	engine   *Engine
	store    *FileStore
	clock    *manualClock
	notifier *recordingNotifier
	recorder *memoryRecorder
}

func newEngineFixture(t *testing.T, accounts int) *engineFixture {
	t.Helper()
	clk := newManualClock(baseTime)
	store := newTestStore(t, clk)
	notifier := &recordingNotifier{}
	recorder := &memoryRecorder{}
	engine := NewEngine(store, testLogger(),
		WithClock(clk),
		WithNotifier(notifier),
		WithRecorder(recorder),
	)
	f := &engineFixture{engine: engine, store: store, clock: clk, notifier: notifier, recorder: recorder}
	for i := 0; i < accounts; i++ {
		_, err := store.AddAccount(context.Background(), fmt.Sprintf("sk-test-key-%02d", i), "")
		require.NoError(t, err)
	}
	return f
}

func (f *engineFixture) setStrategy(t *testing.T, s models.RotationStrategy) {
	t.Helper()
	require.NoError(t, f.engine.SetRotationStrategy(context.Background(), s))
}

func (f *engineFixture) mutate(t *testing.T, index int, fn func(a *models.Account)) {
	t.Helper()
	_, err := f.store.UpdateAccount(context.Background(), index, func(a *models.Account) error {
		fn(a)
		return nil
	})
	require.NoError(t, err)
}

func (f *engineFixture) load(t *testing.T) models.RotationConfig {
	t.Helper()
	cfg, err := f.store.Load(context.Background())
	require.NoError(t, err)
	return cfg
}

func (f *engineFixture) nowMs() int64 {
	return f.clock.Now().UnixMilli()
}
