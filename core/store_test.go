package core

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-rotator/models"
)

func TestLoadCreatesDefaultDocument(t *testing.T) {
	store := newTestStore(t, newManualClock(baseTime))

	cfg, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRotationConfig(), cfg)

	_, err = os.Stat(store.Path())
	assert.NoError(t, err, "default document should be persisted")
}

func TestInitializeDoesNotClobberExistingFile(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newManualClock(baseTime))
	require.NoError(t, store.Initialize(ctx))

	_, err := store.AddAccount(ctx, "sk-keep-me", "Keep")
	require.NoError(t, err)

	require.NoError(t, store.Initialize(ctx))
	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "Keep", cfg.Accounts[0].Name)
}

func TestInitializeConcurrently(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newManualClock(baseTime))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Initialize(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, cfg.Accounts)
}

func TestLoadCorruptDocument(t *testing.T) {
	store := newTestStore(t, newManualClock(baseTime))
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o700))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, models.ErrCorruptState)

	data, readErr := os.ReadFile(store.Path())
	require.NoError(t, readErr)
	assert.Equal(t, "{not json", string(data), "corrupt file must not be reset")
}

func TestLoadSchemaViolationIsCorruptState(t *testing.T) {
	store := newTestStore(t, newManualClock(baseTime))
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o700))
	doc := `{"version":1,"accounts":[{"key":"sk-a","name":"A","healthScore":150}],"activeIndex":0,` +
		`"rotationStrategy":"health-based","autoRefreshHealth":true,"healthRefreshCooldownMinutes":30}`
	require.NoError(t, os.WriteFile(store.Path(), []byte(doc), 0o600))

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, models.ErrCorruptState)
	assert.ErrorIs(t, err, models.ErrValidation)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "accounts[0].healthScore", verr.Field)
}

func TestLoadKeepsDefaultsForOmittedFields(t *testing.T) {
	store := newTestStore(t, newManualClock(baseTime))
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o700))
	doc := `{"version":1,"accounts":[],"activeIndex":0,"rotationStrategy":"sticky"}`
	require.NoError(t, os.WriteFile(store.Path(), []byte(doc), 0o600))

	cfg, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StrategySticky, cfg.RotationStrategy)
	assert.True(t, cfg.AutoRefreshHealth)
	assert.Equal(t, models.DefaultHealthRefreshCooldownMinutes, cfg.HealthRefreshCooldownMinutes)
}

func TestSaveRejectsInvalidDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newManualClock(baseTime))
	_, err := store.AddAccount(ctx, "sk-a", "")
	require.NoError(t, err)
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	cfg.Accounts[0].HealthScore = 101
	assert.ErrorIs(t, store.Save(ctx, cfg), models.ErrValidation)

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSaveLoadRoundTripIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	clk := newManualClock(baseTime)
	store := newTestStore(t, clk)
	_, err := store.AddAccount(ctx, "sk-a", "")
	require.NoError(t, err)
	_, err = store.AddAccount(ctx, "sk-b", "Backup")
	require.NoError(t, err)
	_, err = store.UpdateAccount(ctx, 1, func(a *models.Account) error {
		a.RecordResponseTime(120)
		a.IncrementDaily("2026-03-10")
		a.IncrementDaily("2026-03-09")
		a.TotalRequests = 3
		a.SuccessfulRequests = 2
		return nil
	})
	require.NoError(t, err)

	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, cfg))

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestAddAccountDefaultsAndDuplicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newManualClock(baseTime))

	first, err := store.AddAccount(ctx, "sk-a", "")
	require.NoError(t, err)
	assert.Equal(t, "Account 1", first.Name)
	assert.Equal(t, 100, first.HealthScore)
	assert.Equal(t, baseTime.UnixMilli(), first.AddedAt)
	assert.Zero(t, first.LastUsed)
	assert.Empty(t, first.ResponseTimes)

	second, err := store.AddAccount(ctx, "sk-b", "")
	require.NoError(t, err)
	assert.Equal(t, "Account 2", second.Name)

	_, err = store.AddAccount(ctx, "sk-a", "again")
	assert.ErrorIs(t, err, models.ErrDuplicateKey)

	_, err = store.AddAccount(ctx, "", "empty")
	assert.ErrorIs(t, err, models.ErrValidation)

	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, cfg.Accounts, 2)
}

func TestRemoveAccountClampsActiveIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newManualClock(baseTime))
	for _, k := range []string{"sk-a", "sk-b", "sk-c"} {
		_, err := store.AddAccount(ctx, k, "")
		require.NoError(t, err)
	}
	_, err := store.AtomicSetActiveIndex(ctx, 2)
	require.NoError(t, err)

	removed, err := store.RemoveAccount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "sk-c", removed.Key)

	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ActiveIndex)

	for len(cfg.Accounts) > 0 {
		_, err := store.RemoveAccount(ctx, len(cfg.Accounts)-1)
		require.NoError(t, err)
		cfg, err = store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, max(0, len(cfg.Accounts)-1), cfg.ActiveIndex)
	}

	_, err = store.RemoveAccount(ctx, 0)
	assert.ErrorIs(t, err, models.ErrInvalidIndex)
}

func TestUpdateAccountInvalidIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newManualClock(baseTime))
	_, err := store.AddAccount(ctx, "sk-a", "")
	require.NoError(t, err)

	for _, idx := range []int{-1, 1, 5} {
		_, err := store.UpdateAccount(ctx, idx, func(a *models.Account) error { return nil })
		assert.ErrorIs(t, err, models.ErrInvalidIndex)
	}
}

func TestGetAndIncrementActiveIndexWraps(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newManualClock(baseTime))
	for _, k := range []string{"sk-a", "sk-b", "sk-c", "sk-d"} {
		_, err := store.AddAccount(ctx, k, "")
		require.NoError(t, err)
	}

	var got []int
	for i := 0; i < 5; i++ {
		idx, err := store.GetAndIncrementActiveIndex(ctx, []int{3, 0, 2})
		require.NoError(t, err)
		got = append(got, idx)
	}
	assert.Equal(t, []int{2, 3, 0, 2, 3}, got)

	_, err := store.GetAndIncrementActiveIndex(ctx, nil)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = store.GetAndIncrementActiveIndex(ctx, []int{9})
	assert.ErrorIs(t, err, models.ErrInvalidIndex)
}

func TestGetAndIncrementActiveIndexConcurrentClaimsAreDistinct(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newManualClock(baseTime))
	const n = 6
	candidates := make([]int, n)
	for i := 0; i < n; i++ {
		_, err := store.AddAccount(ctx, "sk-"+string(rune('a'+i)), "")
		require.NoError(t, err)
		candidates[i] = i
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen []int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := store.GetAndIncrementActiveIndex(ctx, candidates)
			assert.NoError(t, err)
			mu.Lock()
			seen = append(seen, idx)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(seen)
	assert.Equal(t, candidates, seen)
}

func TestAtomicSetActiveIndexClamps(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newManualClock(baseTime))
	for _, k := range []string{"sk-a", "sk-b", "sk-c"} {
		_, err := store.AddAccount(ctx, k, "")
		require.NoError(t, err)
	}

	idx, err := store.AtomicSetActiveIndex(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	idx, err = store.AtomicSetActiveIndex(ctx, -4)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = store.AtomicSetActiveIndex(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestLockTimeoutWhenHeldElsewhere(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	holder := flock.New(path + ".lock")
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	store := NewFileStore(path, testLogger(), WithLockOptions(LockOptions{
		StaleAfter:   20 * time.Millisecond,
		Retries:      1,
		RetryMinWait: 2 * time.Millisecond,
		RetryMaxWait: 5 * time.Millisecond,
	}))

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, models.ErrLockTimeout)
}

func TestLockHonoursContextCancellation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	holder := flock.New(path + ".lock")
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	store := NewFileStore(path, testLogger(), WithLockOptions(LockOptions{
		StaleAfter: time.Minute,
		Retries:    10,
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, models.ErrLockTimeout)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newManualClock(baseTime))
	_, err := store.AddAccount(ctx, "sk-a", "")
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateAccount(ctx, 0, func(a *models.Account) error {
				a.TotalRequests++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), cfg.Accounts[0].TotalRequests)
}
