package repository

import (
	"context"
	"errors"
	"time"

	"kast/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertResult describes what an upsert found in storage before writing.
type UpsertResult struct {
	Created bool
	// PreviousScore is the score that was already counted for this cast; 0 when the
	// row is new or suppressed.
	PreviousScore float64
}

// CastStats aggregates engagement over a set of casts.
type CastStats struct {
	TotalCasts   int64   `json:"totalCasts"`
	TotalLikes   int64   `json:"totalLikes"`
	TotalRecasts int64   `json:"totalRecasts"`
	TotalReplies int64   `json:"totalReplies"`
	TotalScore   float64 `json:"totalEngagementScore"`
	AverageScore float64 `json:"averageEngagementScore"`
}

type CastRepository interface {
	GetByHash(ctx context.Context, hash string) (*models.Cast, error)
	// Insert stores the cast unless the hash already exists.
	Insert(ctx context.Context, c *models.Cast) (created bool, err error)
	// Upsert stores the cast keyed by hash. Suppressed rows stay suppressed with score 0,
	// and the first user/campaign attribution is kept.
	Upsert(ctx context.Context, c *models.Cast) (UpsertResult, error)
	RecentByAuthor(ctx context.Context, fid string, limit int) ([]models.Cast, error)
	// CountByAuthorSince counts the author's casts published after since, skipping exclude.
	CountByAuthorSince(ctx context.Context, fid string, since time.Time, exclude string) (int64, error)
	Trending(ctx context.Context, since time.Time, campaignID *uint, limit int) ([]models.Cast, error)
	Stats(ctx context.Context, since time.Time, campaignID *uint) (CastStats, error)
}

type castRepository struct {
	db *gorm.DB
}

func NewCastRepository(db *gorm.DB) CastRepository { return &castRepository{db: db} }

func (r *castRepository) GetByHash(ctx context.Context, hash string) (*models.Cast, error) {
	var c models.Cast
	if err := r.db.WithContext(ctx).Where("cast_hash = ?", hash).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCastNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *castRepository) Insert(ctx context.Context, c *models.Cast) (bool, error) {
	// 幂等：重复的 hash 不报错
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cast_hash"}},
		DoNothing: true,
	}).Create(c)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *castRepository) Upsert(ctx context.Context, c *models.Cast) (UpsertResult, error) {
	res, err := r.upsert(ctx, c)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 并发插入同一个 hash，重读后按更新处理
		return r.upsert(ctx, c)
	}
	return res, err
}

func (r *castRepository) upsert(ctx context.Context, c *models.Cast) (UpsertResult, error) {
	var res UpsertResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Cast
		err := tx.Where("cast_hash = ?", c.CastHash).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			res.Created = true
			return tx.Create(c).Error
		}
		if err != nil {
			return err
		}

		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		if existing.CampaignID != nil {
			c.CampaignID = existing.CampaignID
		}
		if existing.UserID != nil {
			c.UserID = existing.UserID
		}
		if existing.Suppressed {
			c.Suppressed = true
			c.EngagementScore = 0
		} else {
			res.PreviousScore = existing.EngagementScore
		}

		return tx.Model(&existing).Updates(map[string]any{
			"user_id":          c.UserID,
			"campaign_id":      c.CampaignID,
			"text":             c.Text,
			"like_count":       c.LikeCount,
			"recast_count":     c.RecastCount,
			"reply_count":      c.ReplyCount,
			"engagement_score": c.EngagementScore,
			"suppressed":       c.Suppressed,
		}).Error
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return res, nil
}

func (r *castRepository) RecentByAuthor(ctx context.Context, fid string, limit int) ([]models.Cast, error) {
	var casts []models.Cast
	err := r.db.WithContext(ctx).
		Where("author_fid = ?", fid).
		Order("published_at DESC").
		Limit(limit).
		Find(&casts).Error
	return casts, err
}

func (r *castRepository) CountByAuthorSince(ctx context.Context, fid string, since time.Time, exclude string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Cast{}).
		Where("author_fid = ? AND published_at > ? AND cast_hash <> ?", fid, since, exclude).
		Count(&n).Error
	return n, err
}

func (r *castRepository) scope(ctx context.Context, since time.Time, campaignID *uint) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Cast{}).
		Where("published_at >= ? AND suppressed = ?", since, false)
	if campaignID != nil {
		q = q.Where("campaign_id = ?", *campaignID)
	}
	return q
}

func (r *castRepository) Trending(ctx context.Context, since time.Time, campaignID *uint, limit int) ([]models.Cast, error) {
	var casts []models.Cast
	err := r.scope(ctx, since, campaignID).
		Preload("User").
		Order("engagement_score DESC").
		Limit(limit).
		Find(&casts).Error
	return casts, err
}

func (r *castRepository) Stats(ctx context.Context, since time.Time, campaignID *uint) (CastStats, error) {
	var row struct {
		Casts   int64
		Likes   int64
		Recasts int64
		Replies int64
		Score   float64
	}
	err := r.scope(ctx, since, campaignID).Select(
		"COUNT(*) AS casts, " +
			"COALESCE(SUM(like_count), 0) AS likes, " +
			"COALESCE(SUM(recast_count), 0) AS recasts, " +
			"COALESCE(SUM(reply_count), 0) AS replies, " +
			"COALESCE(SUM(engagement_score), 0) AS score",
	).Scan(&row).Error
	if err != nil {
		return CastStats{}, err
	}

	stats := CastStats{
		TotalCasts:   row.Casts,
		TotalLikes:   row.Likes,
		TotalRecasts: row.Recasts,
		TotalReplies: row.Replies,
		TotalScore:   row.Score,
	}
	if row.Casts > 0 {
		stats.AverageScore = row.Score / float64(row.Casts)
	}
	return stats, nil
}
