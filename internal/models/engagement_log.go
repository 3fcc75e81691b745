package models

import (
	"time"
)

// EngagementLog records every change applied to a cumulative engagement score.
type EngagementLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	User          User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ParticipantID *uint     `gorm:"index" json:"participant_id"`
	CastHash      string    `gorm:"size:80;index" json:"cast_hash"`
	Amount        float64   `gorm:"not null" json:"amount"`          // 正数为增加，负数为扣除
	Action        string    `gorm:"size:100;not null" json:"action"` // 动作描述
	CreatedAt     time.Time `json:"created_at"`
}
