package repository

import (
	"context"
	"errors"

	"kast/internal/models"

	"gorm.io/gorm"
)

// 分数变动动作
const (
	ActionCastScored      = "cast_scored"
	ActionCastRescored    = "cast_rescored"
	ActionCastSuppressed  = "cast_suppressed"
	ActionCampaignRefresh = "campaign_refresh"
)

// Increment is one atomic change to cumulative engagement scores.
type Increment struct {
	UserID   uint
	CastHash string
	Action   string
	// UserAmount is added to users.engagement_score.
	UserAmount float64

	// Participant fields apply only when ParticipantID is set.
	ParticipantID     *uint
	ParticipantAmount float64
	Casts             int
}

func (inc Increment) empty() bool {
	return inc.UserAmount == 0 && inc.ParticipantAmount == 0 && inc.Casts == 0
}

// Ledger applies score changes with single-statement increments and records each one
// in engagement_logs.
type Ledger interface {
	Apply(ctx context.Context, inc Increment) error
	// SuppressCast zeroes the cast, marks it suppressed and reverses the score already
	// credited to its author and campaign participation. It returns the reversed amount.
	SuppressCast(ctx context.Context, hash string) (float64, error)
}

type ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) Ledger { return &ledger{db: db} }

func (l *ledger) Apply(ctx context.Context, inc Increment) error {
	if inc.empty() {
		return nil
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyIncrement(tx, inc)
	})
}

func applyIncrement(tx *gorm.DB, inc Increment) error {
	// 1. 创建分数明细记录
	log := models.EngagementLog{
		UserID:        inc.UserID,
		ParticipantID: inc.ParticipantID,
		CastHash:      inc.CastHash,
		Amount:        inc.UserAmount,
		Action:        inc.Action,
	}
	if err := tx.Create(&log).Error; err != nil {
		return err
	}

	// 2. 更新用户累计分数
	if inc.UserAmount != 0 {
		if err := tx.Model(&models.User{}).
			Where("id = ?", inc.UserID).
			UpdateColumn("engagement_score", gorm.Expr("engagement_score + ?", inc.UserAmount)).
			Error; err != nil {
			return err
		}
	}

	// 3. 更新活动参与分数与提交数
	if inc.ParticipantID != nil && (inc.ParticipantAmount != 0 || inc.Casts != 0) {
		if err := tx.Model(&models.CampaignParticipant{}).
			Where("id = ?", *inc.ParticipantID).
			UpdateColumns(map[string]any{
				"engagement_score":       gorm.Expr("engagement_score + ?", inc.ParticipantAmount),
				"total_casts":            gorm.Expr("total_casts + ?", inc.Casts),
				"last_engagement_update": gorm.Expr("CURRENT_TIMESTAMP"),
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (l *ledger) SuppressCast(ctx context.Context, hash string) (float64, error) {
	var reversed float64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Cast
		if err := tx.Where("cast_hash = ?", hash).Take(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCastNotFound
			}
			return err
		}
		if c.Suppressed {
			return nil
		}
		reversed = c.EngagementScore

		if err := tx.Model(&c).Updates(map[string]any{
			"engagement_score": 0,
			"suppressed":       true,
		}).Error; err != nil {
			return err
		}

		if c.UserID == nil || reversed == 0 {
			return nil
		}

		inc := Increment{
			UserID:     *c.UserID,
			CastHash:   c.CastHash,
			Action:     ActionCastSuppressed,
			UserAmount: -reversed,
		}
		if c.CampaignID != nil {
			var p models.CampaignParticipant
			err := tx.Where("user_id = ? AND campaign_id = ?", *c.UserID, *c.CampaignID).Take(&p).Error
			if err == nil {
				inc.ParticipantID = &p.ID
				inc.ParticipantAmount = -reversed
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		return applyIncrement(tx, inc)
	})
	return reversed, err
}
