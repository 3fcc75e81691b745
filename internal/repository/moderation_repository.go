package repository

import (
	"context"
	"errors"
	"time"

	"kast/internal/models"

	"gorm.io/gorm"
)

// ActionStat is one (action, severity) bucket of the moderation log.
type ActionStat struct {
	Action   string `json:"action"`
	Severity string `json:"severity"`
	Count    int64  `json:"count"`
}

type ModerationRepository interface {
	CreateAction(ctx context.Context, a *models.ModerationAction) error
	GetAction(ctx context.Context, id uint) (*models.ModerationAction, error)
	DeleteAction(ctx context.Context, id uint) error
	ListActions(ctx context.Context, limit, offset int) ([]models.ModerationAction, int64, error)
	StatsSince(ctx context.Context, since time.Time) ([]ActionStat, error)

	ListRuleConfigs(ctx context.Context) ([]models.ModerationRuleConfig, error)
	// SaveRuleConfig bumps the version, persists cfg and appends a revision row in one transaction.
	SaveRuleConfig(ctx context.Context, cfg *models.ModerationRuleConfig, changedBy string) error
	ListRuleRevisions(ctx context.Context, ruleID string) ([]models.ModerationRuleRevision, error)
}

type moderationRepository struct {
	db *gorm.DB
}

func NewModerationRepository(db *gorm.DB) ModerationRepository {
	return &moderationRepository{db: db}
}

func (r *moderationRepository) CreateAction(ctx context.Context, a *models.ModerationAction) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *moderationRepository) GetAction(ctx context.Context, id uint) (*models.ModerationAction, error) {
	var a models.ModerationAction
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActionNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *moderationRepository) DeleteAction(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.ModerationAction{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrActionNotFound
	}
	return nil
}

func (r *moderationRepository) ListActions(ctx context.Context, limit, offset int) ([]models.ModerationAction, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.ModerationAction{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var actions []models.ModerationAction
	err := r.db.WithContext(ctx).
		Preload("Moderator").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&actions).Error
	return actions, total, err
}

func (r *moderationRepository) StatsSince(ctx context.Context, since time.Time) ([]ActionStat, error) {
	var stats []ActionStat
	err := r.db.WithContext(ctx).Model(&models.ModerationAction{}).
		Select("action, severity, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("action, severity").
		Order("action, severity").
		Scan(&stats).Error
	return stats, err
}

func (r *moderationRepository) ListRuleConfigs(ctx context.Context) ([]models.ModerationRuleConfig, error) {
	var cfgs []models.ModerationRuleConfig
	err := r.db.WithContext(ctx).Order("rule_id").Find(&cfgs).Error
	return cfgs, err
}

func (r *moderationRepository) SaveRuleConfig(ctx context.Context, cfg *models.ModerationRuleConfig, changedBy string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.ModerationRuleConfig
		err := tx.Where("rule_id = ?", cfg.RuleID).Take(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cfg.Version = 1
			if err := tx.Create(cfg).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			cfg.Version = current.Version + 1
			if err := tx.Model(&current).Updates(map[string]any{
				"enabled":  cfg.Enabled,
				"severity": cfg.Severity,
				"action":   cfg.Action,
				"version":  cfg.Version,
			}).Error; err != nil {
				return err
			}
		}

		rev := models.ModerationRuleRevision{
			RuleID:    cfg.RuleID,
			Version:   cfg.Version,
			Enabled:   cfg.Enabled,
			Severity:  cfg.Severity,
			Action:    cfg.Action,
			ChangedBy: changedBy,
		}
		return tx.Create(&rev).Error
	})
}

func (r *moderationRepository) ListRuleRevisions(ctx context.Context, ruleID string) ([]models.ModerationRuleRevision, error) {
	var revs []models.ModerationRuleRevision
	err := r.db.WithContext(ctx).Where("rule_id = ?", ruleID).Order("version ASC").Find(&revs).Error
	return revs, err
}
