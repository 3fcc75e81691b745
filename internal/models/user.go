package models

import (
	"time"

	"gorm.io/datatypes"
)

// 用户状态
const (
	UserStatusNormal    = 0
	UserStatusSuspended = 1
	UserStatusBanned    = 2
)

type User struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	FarcasterFID    string                      `gorm:"column:farcaster_fid;size:32;index" json:"farcaster_fid"` // empty when the user never linked Farcaster
	Username        string                      `gorm:"not null" json:"username"`
	DisplayName     string                      `json:"display_name"`
	ProfileImageURL string                      `json:"profile_image_url"`
	Bio             string                      `gorm:"size:500" json:"bio"`
	WalletAddress   string                      `gorm:"size:64;index" json:"wallet_address"`
	Verifications   datatypes.JSONSlice[string] `json:"verifications"` // verified eth/sol addresses
	EngagementScore float64                     `gorm:"default:0" json:"engagement_score"`
	TotalRewards    float64                     `gorm:"default:0" json:"total_rewards"`
	FollowerCount   int                         `gorm:"default:0" json:"follower_count"`
	FollowingCount  int                         `gorm:"default:0" json:"following_count"`
	Status          int                         `gorm:"default:0" json:"status"` // 0:正常, 1:停权, 2:封禁
	PunishExpires   *time.Time                  `json:"punish_expires"`
	LastActiveAt    *time.Time                  `json:"last_active_at"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

// HasFarcaster reports whether the user is linked to a Farcaster account.
func (u *User) HasFarcaster() bool {
	return u.FarcasterFID != ""
}
