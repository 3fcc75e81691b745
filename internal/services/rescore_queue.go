package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"kast/internal/models"
	"kast/internal/repository"
	"kast/internal/utils"

	"go.uber.org/zap"
)

const (
	rescoreQueueSize = 1000
	rescoreBatchSize = 50
	rescoreInterval  = 500 * time.Millisecond
)

// RescoreQueue re-scores casts asynchronously after new reactions arrive.
// A hash that is already queued is not queued twice.
type RescoreQueue struct {
	hub    HubClient
	repos  *repository.Repositories
	scorer utils.EngagementConfig
	logger *zap.Logger

	queue    chan string
	mu       sync.Mutex
	pending  map[string]bool
	interval time.Duration
}

// NewRescoreQueue builds a queue. hub may be nil, in which case counts come from stored reactions only.
func NewRescoreQueue(hub HubClient, repos *repository.Repositories, logger *zap.Logger) *RescoreQueue {
	return &RescoreQueue{
		hub:      hub,
		repos:    repos,
		scorer:   utils.DefaultEngagementConfig,
		logger:   logger.Named("rescore"),
		queue:    make(chan string, rescoreQueueSize), // 缓冲队列，防止阻塞
		pending:  make(map[string]bool),
		interval: rescoreInterval,
	}
}

// Enqueue schedules a rescore without blocking. It reports whether the hash was queued.
func (q *RescoreQueue) Enqueue(hash string) bool {
	q.mu.Lock()
	if q.pending[hash] {
		q.mu.Unlock()
		return false
	}
	q.pending[hash] = true
	q.mu.Unlock()

	select {
	case q.queue <- hash:
		return true
	default:
		// 队列满了，移除 pending 标记
		q.mu.Lock()
		delete(q.pending, hash)
		q.mu.Unlock()
		rescoreQueueDropped.Inc()
		q.logger.Warn("rescore queue full, dropping", zap.String("cast_hash", hash))
		return false
	}
}

// Run drains the queue in batches until ctx is done.
func (q *RescoreQueue) Run(ctx context.Context) {
	batch := make([]string, 0, rescoreBatchSize)
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case hash := <-q.queue:
			batch = append(batch, hash)
			if len(batch) >= rescoreBatchSize {
				q.processBatch(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				q.processBatch(ctx, batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			return
		}
	}
}

func (q *RescoreQueue) processBatch(ctx context.Context, hashes []string) {
	for _, hash := range hashes {
		// 先清除 pending，处理期间到达的新反应可以重新入队
		q.mu.Lock()
		delete(q.pending, hash)
		q.mu.Unlock()

		if _, err := q.Rescore(ctx, hash); err != nil && !errors.Is(err, repository.ErrCastNotFound) {
			q.logger.Error("rescore failed", zap.String("cast_hash", hash), zap.Error(err))
		}
	}
}

// Rescore recomputes one stored cast's counts and score and credits the change to its
// author and campaign participation. Casts we never stored are ignored.
func (q *RescoreQueue) Rescore(ctx context.Context, hash string) (float64, error) {
	cast, err := q.repos.Casts.GetByHash(ctx, hash)
	if err != nil {
		return 0, err
	}
	if cast.Suppressed {
		return 0, nil
	}

	likes, recasts, replies, err := q.counts(ctx, cast)
	if err != nil {
		return 0, err
	}

	followers := 0
	if cast.UserID != nil {
		if u, err := q.repos.Users.GetByID(ctx, *cast.UserID); err == nil {
			followers = u.FollowerCount
		}
	}

	cast.LikeCount, cast.RecastCount, cast.ReplyCount = likes, recasts, replies
	cast.EngagementScore = q.scorer.Score(likes, recasts, replies, followers)
	up, err := q.repos.Casts.Upsert(ctx, cast)
	if err != nil {
		return 0, err
	}
	castUpsertCount.WithLabelValues("rescore").Inc()

	delta := utils.RoundTo(cast.EngagementScore-up.PreviousScore, 2)
	if cast.UserID == nil || delta == 0 {
		return delta, nil
	}

	inc := repository.Increment{
		UserID:     *cast.UserID,
		CastHash:   hash,
		Action:     repository.ActionCastRescored,
		UserAmount: delta,
	}
	owner, err := owningParticipant(ctx, q.repos, cast)
	if err != nil {
		return 0, err
	}
	if owner != nil {
		inc.ParticipantID = &owner.ID
		inc.ParticipantAmount = delta
	}
	return delta, q.repos.Ledger.Apply(ctx, inc)
}

// counts prefers the hub's live counts; without them it never lowers the stored counts
// below what the webhook has recorded.
func (q *RescoreQueue) counts(ctx context.Context, cast *models.Cast) (int, int, int, error) {
	if q.hub != nil {
		r, err := q.hub.GetCastReactions(ctx, cast.CastHash)
		if err == nil {
			return r.Likes, r.Recasts, r.Replies, nil
		}
		q.logger.Debug("hub reactions unavailable, using stored reactions", zap.String("cast_hash", cast.CastHash), zap.Error(err))
	}

	likes, recasts, err := q.repos.Social.CountReactions(ctx, cast.CastHash)
	if err != nil {
		return 0, 0, 0, err
	}
	return max(likes, cast.LikeCount), max(recasts, cast.RecastCount), cast.ReplyCount, nil
}
