package models

import (
	"time"
)

// Cast is a single Farcaster post tracked for engagement scoring.
type Cast struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CastHash        string    `gorm:"uniqueIndex;size:80;not null" json:"cast_hash"`
	AuthorFID       string    `gorm:"column:author_fid;size:32;not null;index" json:"author_fid"`
	UserID          *uint     `gorm:"index" json:"user_id"`
	User            *User     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"user,omitempty"`
	CampaignID      *uint     `gorm:"index" json:"campaign_id"`
	Text            string    `gorm:"type:text" json:"text"`
	PublishedAt     time.Time `gorm:"index" json:"published_at"` // 发布时间
	LikeCount       int       `gorm:"default:0" json:"like_count"`
	RecastCount     int       `gorm:"default:0" json:"recast_count"`
	ReplyCount      int       `gorm:"default:0" json:"reply_count"`
	EngagementScore float64   `gorm:"default:0;index" json:"engagement_score"`
	Suppressed      bool      `gorm:"default:false" json:"suppressed"` // hidden by moderation, score pinned to 0
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Reaction is a like or recast received through the webhook.
type Reaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Hash         string    `gorm:"uniqueIndex;size:80;not null" json:"hash"`
	ReactorFID   string    `gorm:"column:reactor_fid;size:32;not null;index" json:"reactor_fid"`
	TargetHash   string    `gorm:"size:80;not null;index" json:"target_hash"`
	ReactionType string    `gorm:"size:20;not null" json:"reaction_type"` // "like", "recast"
	Timestamp    time.Time `json:"timestamp"`
	CreatedAt    time.Time `json:"created_at"`
}

// Follow is a follow edge received through the webhook.
type Follow struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FollowerFID  string    `gorm:"column:follower_fid;size:32;not null;uniqueIndex:idx_follow_pair" json:"follower_fid"`
	FollowingFID string    `gorm:"column:following_fid;size:32;not null;uniqueIndex:idx_follow_pair" json:"following_fid"`
	Timestamp    time.Time `json:"timestamp"`
	CreatedAt    time.Time `json:"created_at"`
}
