package core

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"account-rotator/models"
)

// AddAccount 添加账号，name 为空时使用 "Account N"
func (e *Engine) AddAccount(ctx context.Context, key, name string) (models.Account, error) {
	key = strings.TrimSpace(key)
	account, err := e.store.AddAccount(ctx, key, strings.TrimSpace(name))
	if err != nil {
		return models.Account{}, err
	}
	e.logger.WithFields(logrus.Fields{
		"name": account.Name,
		"key":  MaskKey(account.Key),
	}).Info("account added")
	return account, nil
}

// RemoveAccount 删除账号
func (e *Engine) RemoveAccount(ctx context.Context, index int) (models.Account, error) {
	removed, err := e.store.RemoveAccount(ctx, index)
	if err != nil {
		return models.Account{}, err
	}
	e.logger.WithFields(logrus.Fields{
		"index": index,
		"name":  removed.Name,
	}).Info("account removed")
	return removed, nil
}

// ListAccounts 返回当前文档快照
func (e *Engine) ListAccounts(ctx context.Context) (models.RotationConfig, error) {
	return e.store.Load(ctx)
}

// SettingsPatch 设置的部分更新，nil 字段保持不变
type SettingsPatch struct {
	RotationStrategy             *models.RotationStrategy
	AutoRefreshHealth            *bool
	HealthRefreshCooldownMinutes *int
	ActiveIndex                  *int
}

// UpdateSettings 在一次加锁读改写内应用全部字段，任一字段非法则整体不写入
func (e *Engine) UpdateSettings(ctx context.Context, patch SettingsPatch) (models.RotationConfig, error) {
	if patch.RotationStrategy != nil && !patch.RotationStrategy.Valid() {
		return models.RotationConfig{}, &models.ValidationError{
			Field:  "rotationStrategy",
			Reason: "unknown strategy " + string(*patch.RotationStrategy),
		}
	}
	cfg, err := e.store.Update(ctx, func(cfg *models.RotationConfig) error {
		if patch.ActiveIndex != nil {
			// 运维手动切换，越界直接拒绝而不是钳制
			if !cfg.ValidIndex(*patch.ActiveIndex) {
				return indexError(*patch.ActiveIndex, len(cfg.Accounts))
			}
			cfg.ActiveIndex = *patch.ActiveIndex
		}
		if patch.RotationStrategy != nil {
			cfg.RotationStrategy = *patch.RotationStrategy
		}
		if patch.AutoRefreshHealth != nil {
			cfg.AutoRefreshHealth = *patch.AutoRefreshHealth
		}
		if patch.HealthRefreshCooldownMinutes != nil {
			// 取值范围 [1,1440]，越界由写入前的文档校验拒绝
			cfg.HealthRefreshCooldownMinutes = *patch.HealthRefreshCooldownMinutes
		}
		return nil
	})
	if err != nil {
		return models.RotationConfig{}, err
	}
	e.logger.WithFields(logrus.Fields{
		"strategy":     cfg.RotationStrategy,
		"auto_refresh": cfg.AutoRefreshHealth,
		"cooldown":     cfg.HealthRefreshCooldownMinutes,
		"active":       cfg.ActiveIndex,
	}).Info("settings updated")
	return cfg, nil
}

// SetActiveIndex 越界返回 ErrInvalidIndex
func (e *Engine) SetActiveIndex(ctx context.Context, index int) error {
	_, err := e.UpdateSettings(ctx, SettingsPatch{ActiveIndex: &index})
	return err
}

func (e *Engine) SetRotationStrategy(ctx context.Context, strategy models.RotationStrategy) error {
	_, err := e.UpdateSettings(ctx, SettingsPatch{RotationStrategy: &strategy})
	return err
}

func (e *Engine) SetAutoRefreshHealth(ctx context.Context, enabled bool) error {
	_, err := e.UpdateSettings(ctx, SettingsPatch{AutoRefreshHealth: &enabled})
	return err
}

func (e *Engine) SetHealthRefreshCooldown(ctx context.Context, minutes int) error {
	_, err := e.UpdateSettings(ctx, SettingsPatch{HealthRefreshCooldownMinutes: &minutes})
	return err
}
