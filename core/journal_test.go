package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"account-rotator/models"
)

func openJournalDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func TestOutcomeJournalFlushesOnClose(t *testing.T) {
	db := openJournalDB(t)
	journal := NewOutcomeJournal(db, testLogger(), 0)

	entries := []*models.OutcomeLog{
		{CreatedAt: baseTime, AccountName: "A", MaskedKey: "sk-a***", Kind: models.OutcomeSelected},
		{CreatedAt: baseTime, AccountName: "A", MaskedKey: "sk-a***", Kind: models.OutcomeSuccess, Duration: 100},
		{CreatedAt: baseTime, AccountName: "A", MaskedKey: "sk-a***", Kind: models.OutcomeSuccess, Duration: 300},
		{CreatedAt: baseTime, AccountName: "B", MaskedKey: "sk-b***", Kind: models.OutcomeRateLimited},
		{CreatedAt: baseTime, AccountName: "B", MaskedKey: "sk-b***", Kind: models.OutcomeBillingHit},
	}
	for _, e := range entries {
		journal.Record(e)
	}
	journal.Close()
	journal.Close()

	recent, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, len(entries))
	assert.Equal(t, models.OutcomeBillingHit, recent[0].Kind, "newest first")

	usage, err := journal.Usage()
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, "A", usage[0].AccountName)
	assert.Equal(t, int64(1), usage[0].Selected)
	assert.Equal(t, int64(2), usage[0].Success)
	assert.InDelta(t, 400, usage[0].TotalLatency, 1e-9)
	assert.Equal(t, int64(2), usage[0].LatencyCount)
	assert.Equal(t, int64(1), usage[1].RateLimited)
	assert.Equal(t, int64(1), usage[1].BillingHits)
}

func TestOutcomeJournalPrunesToKeep(t *testing.T) {
	db := openJournalDB(t)
	journal := NewOutcomeJournal(db, testLogger(), 3)

	for i := 0; i < 7; i++ {
		journal.Record(&models.OutcomeLog{
			CreatedAt:   baseTime.Add(time.Duration(i) * time.Second),
			AccountName: "A",
			MaskedKey:   "sk-a***",
			Kind:        models.OutcomeFailure,
			Reason:      fmt.Sprintf("n%d", i),
		})
	}
	journal.Close()

	recent, err := journal.Recent(100)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "n6", recent[0].Reason)
	assert.Equal(t, "n4", recent[2].Reason)

	usage, err := journal.Usage()
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, int64(7), usage[0].Failure, "aggregates survive pruning")
}

func TestEngineWritesThroughJournal(t *testing.T) {
	db := openJournalDB(t)
	journal := NewOutcomeJournal(db, testLogger(), 0)
	f := newEngineFixture(t, 2)
	engine := NewEngine(f.store, testLogger(), WithClock(f.clock), WithRecorder(journal))

	sel, err := engine.SelectAccount(context.Background(), false)
	require.NoError(t, err)
	_, err = engine.ReportSuccess(context.Background(), sel.Index, int64Ptr(42), DateKey(f.clock.Now()))
	require.NoError(t, err)
	journal.Close()

	recent, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, models.OutcomeSuccess, recent[0].Kind)
	assert.Equal(t, int64(42), recent[0].Duration)
	assert.Equal(t, MaskKey("sk-test-key-00"), recent[0].MaskedKey)
	assert.NotContains(t, recent[0].MaskedKey, "key-00")
}
