package repository

import (
	"context"
	"errors"
	"time"

	"kast/internal/models"

	"gorm.io/gorm"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByFID(ctx context.Context, fid string) (*models.User, error)
	// UpsertByFID creates the user or refreshes its profile fields; u.ID is set on return.
	UpsertByFID(ctx context.Context, u *models.User) error
	SetStatus(ctx context.Context, id uint, status int, expires *time.Time) error
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetByFID(ctx context.Context, fid string) (*models.User, error) {
	if fid == "" {
		return nil, ErrUserNotFound
	}
	var u models.User
	if err := r.db.WithContext(ctx).Where("farcaster_fid = ?", fid).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) UpsertByFID(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.User
		err := tx.Where("farcaster_fid = ?", u.FarcasterFID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(u).Error
		}
		if err != nil {
			return err
		}

		// 累计分数与状态不随资料同步变化
		u.ID = existing.ID
		u.EngagementScore = existing.EngagementScore
		u.TotalRewards = existing.TotalRewards
		u.Status = existing.Status
		u.PunishExpires = existing.PunishExpires
		u.CreatedAt = existing.CreatedAt
		if u.WalletAddress == "" {
			u.WalletAddress = existing.WalletAddress
		}
		return tx.Model(&existing).Updates(map[string]any{
			"username":          u.Username,
			"display_name":      u.DisplayName,
			"profile_image_url": u.ProfileImageURL,
			"bio":               u.Bio,
			"wallet_address":    u.WalletAddress,
			"verifications":     u.Verifications,
			"follower_count":    u.FollowerCount,
			"following_count":   u.FollowingCount,
			"last_active_at":    u.LastActiveAt,
		}).Error
	})
}

func (r *userRepository) SetStatus(ctx context.Context, id uint, status int, expires *time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]any{
		"status":         status,
		"punish_expires": expires,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
