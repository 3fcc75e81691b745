package repository

import (
	"context"
	"errors"
	"time"

	"kast/internal/models"

	"gorm.io/gorm"
)

type ParticipantRepository interface {
	// ListActive returns participants of ACTIVE campaigns that end after now,
	// least recently synced first (never-synced rows lead).
	ListActive(ctx context.Context, now time.Time) ([]models.CampaignParticipant, error)
	Get(ctx context.Context, userID, campaignID uint) (*models.CampaignParticipant, error)
	MarkSynced(ctx context.Context, id uint, at time.Time) error
	// RemoveFromActiveCampaigns deletes the user's participations in ACTIVE campaigns.
	RemoveFromActiveCampaigns(ctx context.Context, userID uint) (int64, error)
}

type participantRepository struct {
	db *gorm.DB
}

func NewParticipantRepository(db *gorm.DB) ParticipantRepository {
	return &participantRepository{db: db}
}

func (r *participantRepository) ListActive(ctx context.Context, now time.Time) ([]models.CampaignParticipant, error) {
	var res []models.CampaignParticipant
	err := r.db.WithContext(ctx).
		Joins("Campaign").
		Joins("User").
		Where(`"Campaign".status = ? AND "Campaign".end_date > ?`, models.CampaignStatusActive, now).
		// NULL 排在最前（postgres 与 sqlite 默认 NULL 排序不同）
		Order("campaign_participants.last_engagement_sync IS NOT NULL, campaign_participants.last_engagement_sync ASC, campaign_participants.id ASC").
		Find(&res).Error
	return res, err
}

func (r *participantRepository) Get(ctx context.Context, userID, campaignID uint) (*models.CampaignParticipant, error) {
	var p models.CampaignParticipant
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND campaign_id = ?", userID, campaignID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *participantRepository) MarkSynced(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.CampaignParticipant{}).
		Where("id = ?", id).
		UpdateColumn("last_engagement_sync", at).Error
}

func (r *participantRepository) RemoveFromActiveCampaigns(ctx context.Context, userID uint) (int64, error) {
	active := r.db.Model(&models.Campaign{}).Select("id").Where("status = ?", models.CampaignStatusActive)
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND campaign_id IN (?)", userID, active).
		Delete(&models.CampaignParticipant{})
	return res.RowsAffected, res.Error
}
