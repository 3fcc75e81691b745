package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TargetTypeCast     = "CAST"
	TargetTypeUser     = "USER"
	TargetTypeCampaign = "CAMPAIGN"
)

// ModerationAction is an append-only moderation log entry.
type ModerationAction struct {
	ID          uint                        `gorm:"primaryKey" json:"id"`
	TargetType  string                      `gorm:"size:20;not null;index:idx_mod_target" json:"target_type"`
	TargetID    string                      `gorm:"size:80;not null;index:idx_mod_target" json:"target_id"`
	Action      string                      `gorm:"size:40;not null;index" json:"action"`
	Reason      string                      `gorm:"size:500;not null" json:"reason"`
	Severity    string                      `gorm:"size:20;not null" json:"severity"`
	Rules       datatypes.JSONSlice[string] `json:"rules"`
	ModeratorID *uint                       `gorm:"index" json:"moderator_id"` // nil when triggered by the rule engine
	Moderator   *User                       `gorm:"foreignKey:ModeratorID;constraint:OnDelete:SET NULL;" json:"moderator,omitempty"`
	ExpiresAt   *time.Time                  `json:"expires_at"`
	CreatedAt   time.Time                   `gorm:"index" json:"created_at"`
}

// ModerationRuleConfig is the durable toggle state of a moderation rule.
type ModerationRuleConfig struct {
	RuleID    string    `gorm:"primaryKey;size:64" json:"rule_id"`
	Enabled   bool      `gorm:"not null" json:"enabled"`
	Severity  string    `gorm:"size:20;not null" json:"severity"`
	Action    string    `gorm:"size:40;not null" json:"action"`
	Version   int       `gorm:"not null;default:1" json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ModerationRuleRevision is one audited change of a ModerationRuleConfig.
type ModerationRuleRevision struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RuleID    string    `gorm:"size:64;not null;uniqueIndex:idx_rule_version" json:"rule_id"`
	Version   int       `gorm:"not null;uniqueIndex:idx_rule_version" json:"version"`
	Enabled   bool      `json:"enabled"`
	Severity  string    `gorm:"size:20" json:"severity"`
	Action    string    `gorm:"size:40" json:"action"`
	ChangedBy string    `gorm:"size:100" json:"changed_by"`
	CreatedAt time.Time `json:"created_at"`
}
