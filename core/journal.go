package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"account-rotator/models"
)

// OutcomeJournal 异步结果流水：批量写入 SQLite，并维护按账号的聚合统计
type OutcomeJournal struct {
	db        *gorm.DB
	logChan   chan *models.OutcomeLog
	logger    *logrus.Logger
	batchSize int
	flushTime time.Duration
	keep      int
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// NewOutcomeJournal 创建流水记录器，keep 为保留的最新记录条数 (<=0 表示不清理)
func NewOutcomeJournal(db *gorm.DB, logger *logrus.Logger, keep int) *OutcomeJournal {
	j := &OutcomeJournal{
		db:        db,
		logChan:   make(chan *models.OutcomeLog, 1000), // 缓冲 1000 条
		logger:    logger,
		batchSize: 100,
		flushTime: 5 * time.Second,
		keep:      keep,
		quit:      make(chan struct{}),
	}
	j.startWorker()
	return j
}

// Record 提交一条流水；队列满时丢弃，不阻塞选择路径
func (j *OutcomeJournal) Record(entry *models.OutcomeLog) {
	select {
	case j.logChan <- entry:
	default:
		j.logger.Warn("Outcome journal channel full, dropping entry")
	}
}

func (j *OutcomeJournal) startWorker() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.workerLoop()
	}()
}

func (j *OutcomeJournal) workerLoop() {
	var batch []*models.OutcomeLog
	ticker := time.NewTicker(j.flushTime)
	defer ticker.Stop()

	for {
		select {
		case entry := <-j.logChan:
			batch = append(batch, entry)
			if len(batch) >= j.batchSize {
				j.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				j.flush(batch)
				batch = nil
			}
		case <-j.quit:
			// 退出前把队列里剩余的也写掉
		drain:
			for {
				select {
				case entry := <-j.logChan:
					batch = append(batch, entry)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				j.flush(batch)
			}
			return
		}
	}
}

func (j *OutcomeJournal) flush(entries []*models.OutcomeLog) {
	if len(entries) == 0 {
		return
	}
	j.logger.Debugf("[Journal] Flushing %d outcome entries", len(entries))

	if err := j.db.CreateInBatches(entries, len(entries)).Error; err != nil {
		j.logger.Errorf("[Journal] Failed to flush entries: %v", err)
	}
	j.prune()
	j.updateUsage(entries)
}

// prune 只保留最新的 keep 条
func (j *OutcomeJournal) prune() {
	if j.keep <= 0 {
		return
	}
	var count int64
	if err := j.db.Model(&models.OutcomeLog{}).Count(&count).Error; err != nil || count <= int64(j.keep) {
		return
	}
	var pivotID uint
	j.db.Model(&models.OutcomeLog{}).Select("id").Order("id desc").Offset(j.keep).Limit(1).Scan(&pivotID)
	if pivotID > 0 {
		if err := j.db.Where("id <= ?", pivotID).Delete(&models.OutcomeLog{}).Error; err != nil {
			j.logger.Errorf("[Journal] Failed to prune entries: %v", err)
		}
	}
}

func (j *OutcomeJournal) updateUsage(entries []*models.OutcomeLog) {
	deltas := make(map[string]*models.AccountUsage)
	order := make([]string, 0)
	for _, e := range entries {
		d, ok := deltas[e.MaskedKey]
		if !ok {
			d = &models.AccountUsage{MaskedKey: e.MaskedKey}
			deltas[e.MaskedKey] = d
			order = append(order, e.MaskedKey)
		}
		d.AccountName = e.AccountName
		switch e.Kind {
		case models.OutcomeSelected:
			d.Selected++
		case models.OutcomeSuccess:
			d.Success++
			if e.Duration > 0 {
				d.TotalLatency += float64(e.Duration)
				d.LatencyCount++
			}
		case models.OutcomeRateLimited:
			d.RateLimited++
		case models.OutcomeFailure:
			d.Failure++
		case models.OutcomeBillingHit, models.OutcomeBillingLimit:
			d.BillingHits++
		}
	}

	for _, key := range order {
		delta := deltas[key]
		var usage models.AccountUsage
		res := j.db.Where("masked_key = ?", key).Limit(1).Find(&usage)
		err := res.Error
		switch {
		case err != nil:
		case res.RowsAffected > 0:
			usage.AccountName = delta.AccountName
			usage.Selected += delta.Selected
			usage.Success += delta.Success
			usage.RateLimited += delta.RateLimited
			usage.Failure += delta.Failure
			usage.BillingHits += delta.BillingHits
			usage.TotalLatency += delta.TotalLatency
			usage.LatencyCount += delta.LatencyCount
			err = j.db.Save(&usage).Error
		default:
			err = j.db.Create(delta).Error
		}
		if err != nil {
			j.logger.Errorf("[Journal] Failed to update usage for %s: %v", key, err)
		}
	}
}

// Recent 最新的 limit 条流水 (新到旧)
func (j *OutcomeJournal) Recent(limit int) ([]models.OutcomeLog, error) {
	var logs []models.OutcomeLog
	err := j.db.Order("id desc").Limit(limit).Find(&logs).Error
	return logs, err
}

// Usage 所有账号的聚合统计
func (j *OutcomeJournal) Usage() ([]models.AccountUsage, error) {
	var usage []models.AccountUsage
	err := j.db.Order("account_name asc").Find(&usage).Error
	return usage, err
}

// Close 停止后台 worker 并刷新剩余流水
func (j *OutcomeJournal) Close() {
	j.closeOnce.Do(func() {
		close(j.quit)
		j.wg.Wait()
	})
}
