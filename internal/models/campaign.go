package models

import (
	"time"

	"gorm.io/datatypes"
)

type CampaignStatus string

const (
	CampaignStatusDraft  CampaignStatus = "DRAFT"
	CampaignStatusActive CampaignStatus = "ACTIVE"
	CampaignStatusPaused CampaignStatus = "PAUSED"
	CampaignStatusEnded  CampaignStatus = "ENDED"
)

type Campaign struct {
	ID          uint                        `gorm:"primaryKey" json:"id"`
	Title       string                      `gorm:"not null" json:"title"`
	Description string                      `gorm:"type:text" json:"description"`
	Hashtags    datatypes.JSONSlice[string] `json:"hashtags"`
	Status      CampaignStatus              `gorm:"type:varchar(20);not null;default:'DRAFT';index" json:"status"`
	RewardPool  float64                     `gorm:"default:0" json:"reward_pool"`
	StartDate   time.Time                   `json:"start_date"`
	EndDate     time.Time                   `gorm:"index" json:"end_date"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// CampaignParticipant 用户参与活动的记录，(user_id, campaign_id) 唯一
type CampaignParticipant struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"not null;uniqueIndex:idx_user_campaign" json:"user_id"`
	User                 User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"user"`
	CampaignID           uint       `gorm:"not null;uniqueIndex:idx_user_campaign;index" json:"campaign_id"`
	Campaign             Campaign   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"campaign"`
	EngagementScore      float64    `gorm:"default:0" json:"engagement_score"`
	TotalCasts           int        `gorm:"default:0" json:"total_casts"` // 提交数
	LastEngagementSync   *time.Time `gorm:"index" json:"last_engagement_sync"`
	LastEngagementUpdate *time.Time `json:"last_engagement_update"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
