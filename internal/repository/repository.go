package repository

import "gorm.io/gorm"

// Repositories bundles every store backed by one database handle.
type Repositories struct {
	Users         UserRepository
	Casts         CastRepository
	Participants  ParticipantRepository
	Social        SocialRepository
	Moderation    ModerationRepository
	Notifications NotificationRepository
	Ledger        Ledger
}

func New(db *gorm.DB) *Repositories {
	return &Repositories{
		Users:         NewUserRepository(db),
		Casts:         NewCastRepository(db),
		Participants:  NewParticipantRepository(db),
		Social:        NewSocialRepository(db),
		Moderation:    NewModerationRepository(db),
		Notifications: NewNotificationRepository(db),
		Ledger:        NewLedger(db),
	}
}
