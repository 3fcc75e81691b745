package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kast/internal/models"
	"kast/internal/repository"
	"kast/internal/utils"

	"go.uber.org/zap"
)

const (
	DefaultTrendingHours = 24
	DefaultTrendingLimit = 50
	syncCastLimit        = 50
)

// EngagementService scores individual casts on demand and keeps local users in sync with the hub.
type EngagementService struct {
	hub    HubClient
	repos  *repository.Repositories
	scorer utils.EngagementConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewEngagementService(hub HubClient, repos *repository.Repositories, logger *zap.Logger) *EngagementService {
	return &EngagementService{
		hub:    hub,
		repos:  repos,
		scorer: utils.DefaultEngagementConfig,
		logger: logger.Named("engagement"),
		now:    time.Now,
	}
}

// ProcessCast fetches one cast and its author, scores it and credits the score change.
// Processing the same cast again with unchanged counts credits nothing.
func (s *EngagementService) ProcessCast(ctx context.Context, castHash, fid string, campaignID *uint) (*models.Cast, error) {
	hc, err := s.hub.GetCast(ctx, castHash)
	if err != nil {
		return nil, fmt.Errorf("fetch cast %s: %w", castHash, err)
	}
	if fid == "" {
		fid = hc.AuthorFID
	}

	user, err := s.SyncUser(ctx, fid)
	if err != nil {
		return nil, err
	}
	return s.scoreCast(ctx, hc, user, campaignID)
}

// SyncUser upserts the local user from the hub profile.
func (s *EngagementService) SyncUser(ctx context.Context, fid string) (*models.User, error) {
	profile, err := s.hub.GetUserProfile(ctx, fid)
	if err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", fid, err)
	}
	now := s.now()
	user := UserFromProfile(profile)
	user.LastActiveAt = &now
	if err := s.repos.Users.UpsertByFID(ctx, user); err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", fid, err)
	}
	return user, nil
}

// SyncResult reports a profile sync together with the recent casts scored alongside it.
type SyncResult struct {
	User      *models.User `json:"user"`
	Casts     int          `json:"totalCasts"`
	Processed int          `json:"successfullyProcessed"`
}

// SyncUserAndCasts syncs the profile and scores the user's recent casts. A failing cast
// is logged and does not fail the sync.
func (s *EngagementService) SyncUserAndCasts(ctx context.Context, fid string, campaignID *uint) (SyncResult, error) {
	user, err := s.SyncUser(ctx, fid)
	if err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{User: user}

	casts, err := s.hub.GetUserCasts(ctx, fid, syncCastLimit)
	if err != nil {
		s.logger.Warn("failed to fetch casts during sync", zap.String("fid", fid), zap.Error(err))
		return res, nil
	}
	for i := range casts {
		if casts[i].Hash == "" {
			continue
		}
		res.Casts++
		if _, err := s.scoreCast(ctx, &casts[i], user, campaignID); err != nil {
			s.logger.Warn("failed to process cast", zap.String("cast_hash", casts[i].Hash), zap.Error(err))
			continue
		}
		res.Processed++
	}

	// 返回最新的累计分
	if fresh, err := s.repos.Users.GetByID(ctx, user.ID); err == nil {
		res.User = fresh
	}
	return res, nil
}

func (s *EngagementService) scoreCast(ctx context.Context, hc *HubCast, user *models.User, campaignID *uint) (*models.Cast, error) {
	followers := user.FollowerCount
	if hc.AuthorFollowers > 0 {
		followers = hc.AuthorFollowers
	}

	cast := &models.Cast{
		CastHash:        hc.Hash,
		AuthorFID:       user.FarcasterFID,
		UserID:          &user.ID,
		CampaignID:      campaignID,
		Text:            utils.SanitizeCastText(hc.Text),
		PublishedAt:     hc.Timestamp,
		LikeCount:       hc.Likes,
		RecastCount:     hc.Recasts,
		ReplyCount:      hc.Replies,
		EngagementScore: s.scorer.Score(hc.Likes, hc.Recasts, hc.Replies, followers),
	}
	if cast.PublishedAt.IsZero() {
		cast.PublishedAt = s.now()
	}

	up, err := s.repos.Casts.Upsert(ctx, cast)
	if err != nil {
		return nil, fmt.Errorf("upsert cast %s: %w", hc.Hash, err)
	}
	castUpsertCount.WithLabelValues("api").Inc()

	delta := utils.RoundTo(cast.EngagementScore-up.PreviousScore, 2)
	inc := repository.Increment{
		UserID:     user.ID,
		CastHash:   cast.CastHash,
		Action:     repository.ActionCastScored,
		UserAmount: delta,
	}
	if !up.Created {
		inc.Action = repository.ActionCastRescored
	}

	// 分数计入 cast 所属活动的参与者，而不是请求里的活动
	owner, err := owningParticipant(ctx, s.repos, cast)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		inc.ParticipantID = &owner.ID
		inc.ParticipantAmount = delta
		if up.Created {
			inc.Casts = 1
		}
	}

	if err := s.repos.Ledger.Apply(ctx, inc); err != nil {
		return nil, fmt.Errorf("credit cast %s: %w", hc.Hash, err)
	}
	return cast, nil
}

// owningParticipant resolves the participation a stored cast is attributed to. It returns
// nil when the cast has no campaign or the author no longer participates.
func owningParticipant(ctx context.Context, repos *repository.Repositories, cast *models.Cast) (*models.CampaignParticipant, error) {
	if cast.UserID == nil || cast.CampaignID == nil {
		return nil, nil
	}
	p, err := repos.Participants.Get(ctx, *cast.UserID, *cast.CampaignID)
	if errors.Is(err, repository.ErrParticipantNotFound) {
		return nil, nil
	}
	return p, err
}

// TrendingResult is the trending list for a window plus aggregates over the same window.
type TrendingResult struct {
	Casts     []models.Cast        `json:"trendingCasts"`
	Stats     repository.CastStats `json:"statistics"`
	Timeframe string               `json:"timeframe"`
}

// Trending returns the top casts by score published in the last hours.
func (s *EngagementService) Trending(ctx context.Context, hours, limit int, campaignID *uint) (TrendingResult, error) {
	if hours <= 0 {
		hours = DefaultTrendingHours
	}
	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)

	casts, err := s.repos.Casts.Trending(ctx, since, campaignID, limit)
	if err != nil {
		return TrendingResult{}, err
	}
	stats, err := s.repos.Casts.Stats(ctx, since, campaignID)
	if err != nil {
		return TrendingResult{}, err
	}
	return TrendingResult{
		Casts:     casts,
		Stats:     stats,
		Timeframe: fmt.Sprintf("%d hours", hours),
	}, nil
}

// UserFromProfile maps a hub profile onto a local user row keyed by fid.
func UserFromProfile(p *Profile) *models.User {
	u := &models.User{
		FarcasterFID:    p.FID,
		Username:        p.Username,
		DisplayName:     p.DisplayName,
		ProfileImageURL: p.PfpURL,
		Bio:             p.Bio,
		Verifications:   p.Verifications,
		FollowerCount:   p.FollowerCount,
		FollowingCount:  p.FollowingCount,
	}
	if len(p.Verifications) > 0 {
		u.WalletAddress = p.Verifications[0]
	} else {
		u.WalletAddress = p.CustodyAddress
	}
	if u.Username == "" {
		u.Username = "fid:" + p.FID
	}
	return u
}

// Lookup returns the hub profile and the local user for fid; user is nil when never synced.
func (s *EngagementService) Lookup(ctx context.Context, fid string) (*Profile, *models.User, error) {
	profile, err := s.hub.GetUserProfile(ctx, fid)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch profile %s: %w", fid, err)
	}
	user, err := s.repos.Users.GetByFID(ctx, fid)
	if errors.Is(err, repository.ErrUserNotFound) {
		return profile, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return profile, user, nil
}
