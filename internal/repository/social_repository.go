package repository

import (
	"context"

	"kast/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SocialRepository stores reactions and follows delivered by webhooks.
type SocialRepository interface {
	InsertReaction(ctx context.Context, r *models.Reaction) (bool, error)
	InsertFollow(ctx context.Context, f *models.Follow) (bool, error)
	CountReactions(ctx context.Context, targetHash string) (likes, recasts int, err error)
}

type socialRepository struct {
	db *gorm.DB
}

func NewSocialRepository(db *gorm.DB) SocialRepository { return &socialRepository{db: db} }

func (r *socialRepository) InsertReaction(ctx context.Context, reaction *models.Reaction) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(reaction)
	return res.RowsAffected > 0, res.Error
}

func (r *socialRepository) InsertFollow(ctx context.Context, f *models.Follow) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f)
	return res.RowsAffected > 0, res.Error
}

func (r *socialRepository) CountReactions(ctx context.Context, targetHash string) (int, int, error) {
	var rows []struct {
		ReactionType string
		N            int
	}
	err := r.db.WithContext(ctx).Model(&models.Reaction{}).
		Select("reaction_type, COUNT(*) AS n").
		Where("target_hash = ?", targetHash).
		Group("reaction_type").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}

	var likes, recasts int
	for _, row := range rows {
		switch row.ReactionType {
		case "like":
			likes = row.N
		case "recast":
			recasts = row.N
		}
	}
	return likes, recasts, nil
}
