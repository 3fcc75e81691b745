package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"kast/internal/models"
	"kast/internal/moderation"
	"kast/internal/repository"
	"kast/internal/utils"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrWorkerNotRunning = errors.New("worker is not running")

type WorkerConfig struct {
	BatchSize   int           `json:"batchSize"`
	Interval    time.Duration `json:"interval"`
	MaxRetries  int           `json:"maxRetries"`
	RetryDelay  time.Duration `json:"retryDelay"`
	BatchDelay  time.Duration `json:"batchDelay"`
	CastLimit   int           `json:"castLimit"`
	Concurrency int           `json:"concurrency"`
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:   100,
		Interval:    5 * time.Minute,
		MaxRetries:  3,
		RetryDelay:  5 * time.Second,
		BatchDelay:  time.Second,
		CastLimit:   50,
		Concurrency: 16,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	d := DefaultWorkerConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.CastLimit <= 0 {
		c.CastLimit = d.CastLimit
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

type ParticipantStatus string

const (
	ParticipantOK      ParticipantStatus = "ok"
	ParticipantSkipped ParticipantStatus = "skipped"
	ParticipantFailed  ParticipantStatus = "failed"
)

// ParticipantResult is the outcome of refreshing one campaign participant.
type ParticipantResult struct {
	ParticipantID uint              `json:"participantId"`
	UserID        uint              `json:"userId"`
	CampaignID    uint              `json:"campaignId"`
	Status        ParticipantStatus `json:"status"`
	Relevant      int               `json:"relevant"`
	Added         float64           `json:"added"`
	Err           error             `json:"-"`
	Error         string            `json:"error,omitempty"`
}

// CycleReport summarizes one worker cycle.
type CycleReport struct {
	StartedAt    time.Time           `json:"startedAt"`
	FinishedAt   time.Time           `json:"finishedAt"`
	Skipped      bool                `json:"skipped"` // another cycle was in flight
	Participants int                 `json:"participants"`
	Batches      int                 `json:"batches"`
	Results      []ParticipantResult `json:"results"`
}

func (r CycleReport) Count(status ParticipantStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

type WorkerStatus struct {
	IsRunning bool         `json:"isRunning"`
	Config    WorkerConfig `json:"config"`
	LastCycle *CycleReport `json:"lastCycle,omitempty"`
}

// CastModerator screens a new cast before it is stored.
type CastModerator interface {
	ModerateCast(ctx context.Context, cast *models.Cast, user *models.User) (moderation.Result, error)
}

// EngagementWorker periodically refreshes engagement for participants of active campaigns.
type EngagementWorker struct {
	cfg       WorkerConfig
	hub       HubClient
	repos     *repository.Repositories
	moderator CastModerator
	scorer    utils.EngagementConfig
	retry     retrypolicy.RetryPolicy[[]HubCast]
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	lastCycle *CycleReport

	cycleMu sync.Mutex // 周期互斥，避免重复累计
	wg      sync.WaitGroup
}

// NewEngagementWorker builds a stopped worker. moderator may be nil.
func NewEngagementWorker(cfg WorkerConfig, hub HubClient, repos *repository.Repositories, moderator CastModerator, logger *zap.Logger) *EngagementWorker {
	cfg = cfg.withDefaults()
	w := &EngagementWorker{
		cfg:       cfg,
		hub:       hub,
		repos:     repos,
		moderator: moderator,
		scorer:    utils.DefaultEngagementConfig,
		logger:    logger.Named("engagement_worker"),
		now:       time.Now,
	}
	w.retry = newFetchRetryPolicy(cfg, w.logger)
	return w
}

// newFetchRetryPolicy retries a cast fetch MaxRetries times, waiting RetryDelay*attempt between tries.
func newFetchRetryPolicy(cfg WorkerConfig, logger *zap.Logger) retrypolicy.RetryPolicy[[]HubCast] {
	delay := cfg.RetryDelay
	return retrypolicy.NewBuilder[[]HubCast]().
		WithMaxRetries(cfg.MaxRetries).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[[]HubCast]) time.Duration {
			return delay * time.Duration(exec.Attempts())
		}).
		HandleIf(func(_ []HubCast, err error) bool {
			return err != nil && !errors.Is(err, ErrHubNotFound) && !errors.Is(err, context.Canceled)
		}).
		OnRetry(func(e failsafe.ExecutionEvent[[]HubCast]) {
			logger.Debug("retrying cast fetch", zap.Int("attempt", e.Attempts()), zap.Error(e.LastError()))
		}).
		Build()
}

// Start schedules a cycle every Interval and runs the first one immediately.
// ctx bounds the lifetime of the scheduler and of in-flight cycles.
func (w *EngagementWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.logger.Info("worker already running")
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	stop := w.stop

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx, stop)
	}()
	w.logger.Info("worker started", zap.Duration("interval", w.cfg.Interval))
}

func (w *EngagementWorker) loop(ctx context.Context, stop <-chan struct{}) {
	// 启动时立即执行一次
	w.RunCycle(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.RunCycle(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		}
	}
}

// Stop prevents future cycles. A cycle already in progress runs to completion.
func (w *EngagementWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stop)
	w.logger.Info("worker stopped")
}

// Wait blocks until the scheduler goroutine has exited.
func (w *EngagementWorker) Wait() {
	w.wg.Wait()
}

func (w *EngagementWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *EngagementWorker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStatus{IsRunning: w.running, Config: w.cfg, LastCycle: w.lastCycle}
}

// Trigger runs one cycle now. It fails with ErrWorkerNotRunning when the worker is stopped.
func (w *EngagementWorker) Trigger(ctx context.Context) (CycleReport, error) {
	if !w.IsRunning() {
		return CycleReport{}, ErrWorkerNotRunning
	}
	w.logger.Info("manual cycle triggered")
	return w.RunCycle(ctx), nil
}

// RunCycle refreshes every active participant once. Cycles never overlap: a call made
// while another cycle is running returns a report with Skipped set.
func (w *EngagementWorker) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{StartedAt: w.now()}
	if !w.cycleMu.TryLock() {
		w.logger.Warn("previous cycle still running, skipping")
		cycleCount.WithLabelValues("skipped").Inc()
		report.Skipped = true
		report.FinishedAt = w.now()
		return report
	}
	defer w.cycleMu.Unlock()

	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	participants, err := w.repos.Participants.ListActive(ctx, report.StartedAt)
	if err != nil {
		w.logger.Error("failed to list active participants", zap.Error(err))
		cycleCount.WithLabelValues("error").Inc()
		report.FinishedAt = w.now()
		return report
	}
	report.Participants = len(participants)
	report.Results = make([]ParticipantResult, 0, len(participants))

	if len(participants) == 0 {
		w.logger.Debug("no active participants")
		cycleCount.WithLabelValues("empty").Inc()
		report.FinishedAt = w.now()
		w.setLastCycle(report)
		return report
	}

	for lo := 0; lo < len(participants); lo += w.cfg.BatchSize {
		hi := min(lo+w.cfg.BatchSize, len(participants))
		if lo > 0 {
			// 批次之间稍作停顿，减轻上游压力
			if err := sleepCtx(ctx, w.cfg.BatchDelay); err != nil {
				w.logger.Warn("cycle cancelled between batches", zap.Error(err))
				break
			}
		}
		report.Results = append(report.Results, w.processBatch(ctx, participants[lo:hi])...)
		report.Batches++
	}

	report.FinishedAt = w.now()
	cycleCount.WithLabelValues("completed").Inc()
	w.logger.Info("cycle completed",
		zap.Int("participants", report.Participants),
		zap.Int("ok", report.Count(ParticipantOK)),
		zap.Int("skipped", report.Count(ParticipantSkipped)),
		zap.Int("failed", report.Count(ParticipantFailed)),
		zap.Duration("took", time.Since(start)),
	)
	w.setLastCycle(report)
	return report
}

func (w *EngagementWorker) setLastCycle(r CycleReport) {
	w.mu.Lock()
	w.lastCycle = &r
	w.mu.Unlock()
}

// processBatch processes every participant concurrently. One participant's failure never
// aborts its siblings.
func (w *EngagementWorker) processBatch(ctx context.Context, batch []models.CampaignParticipant) []ParticipantResult {
	results := make([]ParticipantResult, len(batch))
	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for i := range batch {
		g.Go(func() error {
			results[i] = w.processParticipant(ctx, &batch[i])
			participantOutcomeCount.WithLabelValues(string(results[i].Status)).Inc()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (w *EngagementWorker) processParticipant(ctx context.Context, p *models.CampaignParticipant) ParticipantResult {
	res := ParticipantResult{ParticipantID: p.ID, UserID: p.UserID, CampaignID: p.CampaignID}
	log := w.logger.With(zap.Uint("participant_id", p.ID), zap.Uint("user_id", p.UserID))

	// a. 未绑定 Farcaster 的用户跳过
	if !p.User.HasFarcaster() {
		res.Status = ParticipantSkipped
		return res
	}

	// b. 拉取最近的 casts，失败时按线性退避重试
	casts, err := failsafe.With(w.retry).WithContext(ctx).Get(func() ([]HubCast, error) {
		return w.hub.GetUserCasts(ctx, p.User.FarcasterFID, w.cfg.CastLimit)
	})
	if err != nil {
		log.Warn("failed to fetch casts", zap.Error(err))
		return failed(res, err)
	}

	// c-d. 只处理与活动相关的 cast
	keywords := campaignKeywords(&p.Campaign)
	var userDelta, participantDelta float64
	var newCasts int
	var firstErr error
	for i := range casts {
		hc := &casts[i]
		if !isRelevant(hc.Text, keywords) {
			continue
		}
		res.Relevant++

		delta, created, own, err := w.storeCast(ctx, p, hc)
		if err != nil {
			log.Error("failed to store cast", zap.String("cast_hash", hc.Hash), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		userDelta += delta
		if own {
			participantDelta += delta
		}
		if created {
			newCasts++
		}
	}

	// e. 原子累加分数
	userDelta = utils.RoundTo(userDelta, 2)
	participantDelta = utils.RoundTo(participantDelta, 2)
	err = w.repos.Ledger.Apply(ctx, repository.Increment{
		UserID:            p.UserID,
		Action:            repository.ActionCampaignRefresh,
		UserAmount:        userDelta,
		ParticipantID:     &p.ID,
		ParticipantAmount: participantDelta,
		Casts:             newCasts,
	})
	if err != nil {
		log.Error("failed to apply engagement increment", zap.Error(err))
		return failed(res, err)
	}
	res.Added = participantDelta

	// f. 记录同步时间
	if err := w.repos.Participants.MarkSynced(ctx, p.ID, w.now()); err != nil {
		log.Error("failed to mark participant synced", zap.Error(err))
		return failed(res, err)
	}

	if firstErr != nil {
		return failed(res, firstErr)
	}
	res.Status = ParticipantOK
	return res
}

// storeCast scores and upserts one relevant cast. It returns the score change to credit,
// whether the row is new, and whether the row is attributed to this participant's campaign.
// A change on a cast attributed to another campaign is credited to that participation here.
func (w *EngagementWorker) storeCast(ctx context.Context, p *models.CampaignParticipant, hc *HubCast) (float64, bool, bool, error) {
	followers := hc.AuthorFollowers
	if followers == 0 {
		followers = p.User.FollowerCount
	}

	cast := &models.Cast{
		CastHash:        hc.Hash,
		AuthorFID:       p.User.FarcasterFID,
		UserID:          &p.UserID,
		CampaignID:      &p.CampaignID,
		Text:            utils.SanitizeCastText(hc.Text),
		PublishedAt:     hc.Timestamp,
		LikeCount:       hc.Likes,
		RecastCount:     hc.Recasts,
		ReplyCount:      hc.Replies,
		EngagementScore: w.scorer.Score(hc.Likes, hc.Recasts, hc.Replies, followers),
	}

	if w.moderator != nil {
		if err := w.screen(ctx, cast, &p.User); err != nil {
			return 0, false, false, err
		}
	}

	up, err := w.repos.Casts.Upsert(ctx, cast)
	if err != nil {
		return 0, false, false, err
	}
	castUpsertCount.WithLabelValues("worker").Inc()

	delta := cast.EngagementScore - up.PreviousScore
	own := cast.CampaignID != nil && *cast.CampaignID == p.CampaignID
	if !own && delta != 0 {
		// 归属其他活动的 cast：增量记到所属参与者，用户总分仍随本次刷新累加
		if err := w.creditOwner(ctx, cast, delta); err != nil {
			return 0, false, false, err
		}
	}
	return delta, up.Created, own, nil
}

func (w *EngagementWorker) creditOwner(ctx context.Context, cast *models.Cast, delta float64) error {
	owner, err := owningParticipant(ctx, w.repos, cast)
	if err != nil || owner == nil {
		return err
	}
	return w.repos.Ledger.Apply(ctx, repository.Increment{
		UserID:            owner.UserID,
		CastHash:          cast.CastHash,
		Action:            repository.ActionCastRescored,
		ParticipantID:     &owner.ID,
		ParticipantAmount: utils.RoundTo(delta, 2),
	})
}

// screen moderates casts that are not stored yet; hidden casts are stored suppressed.
func (w *EngagementWorker) screen(ctx context.Context, cast *models.Cast, user *models.User) error {
	_, err := w.repos.Casts.GetByHash(ctx, cast.CastHash)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrCastNotFound) {
		return err
	}

	result, err := w.moderator.ModerateCast(ctx, cast, user)
	if err != nil {
		// 审核失败不阻塞计分
		w.logger.Warn("moderation failed", zap.String("cast_hash", cast.CastHash), zap.Error(err))
		return nil
	}
	if result.Flagged && result.Action == moderation.ActionHideContent {
		cast.Suppressed = true
		cast.EngagementScore = 0
	}
	return nil
}

func failed(res ParticipantResult, err error) ParticipantResult {
	res.Status = ParticipantFailed
	res.Err = err
	res.Error = err.Error()
	return res
}

func campaignKeywords(c *models.Campaign) []string {
	keywords := make([]string, 0, 2+len(c.Hashtags))
	for _, k := range append([]string{c.Title, c.Description}, c.Hashtags...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords
}

func isRelevant(text string, keywords []string) bool {
	text = strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
