package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"kast/internal/models"
	"kast/internal/repository"

	"go.uber.org/zap"
)

var (
	ErrRuleNotFound      = errors.New("moderation rule not found")
	ErrInvalidRuleUpdate = errors.New("invalid rule update")
	ErrInvalidTimeframe  = errors.New("invalid timeframe, use day, week or month")
	ErrInvalidAction     = errors.New("invalid moderation action")
	ErrActionNotFound    = repository.ErrActionNotFound
	ErrUserNotFound      = repository.ErrUserNotFound
	ErrCastNotFound      = repository.ErrCastNotFound
)

const (
	castHistoryLimit = 10
	userHistoryLimit = 50
)

// Result is the outcome of one evaluation.
type Result struct {
	Flagged  bool     `json:"flagged"`
	Rules    []string `json:"rules"`
	Severity Severity `json:"severity"`
	Action   Action   `json:"action"`
	Reason   string   `json:"reason"`
}

// RuleUpdate carries the mutable fields of a rule; nil fields are left unchanged.
type RuleUpdate struct {
	Enabled  *bool     `json:"enabled"`
	Severity *Severity `json:"severity"`
	Action   *Action   `json:"action"`
}

// Engine evaluates casts and users against the rule set and administers the moderation log.
type Engine struct {
	repos  *repository.Repositories
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	rules []*Rule
}

func NewEngine(repos *repository.Repositories, policy ShortenerPolicy, logger *zap.Logger) *Engine {
	return &Engine{
		repos:  repos,
		logger: logger.Named("moderation"),
		now:    time.Now,
		rules:  defaultRules(policy),
	}
}

// LoadRules applies the stored rule configuration on top of the built-in rules.
func (e *Engine) LoadRules(ctx context.Context) error {
	cfgs, err := e.repos.Moderation.ListRuleConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load rule configs: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cfg := range cfgs {
		r := e.findLocked(cfg.RuleID)
		if r == nil {
			e.logger.Warn("stored config for unknown rule", zap.String("rule", cfg.RuleID))
			continue
		}
		r.Enabled = cfg.Enabled
		if s := Severity(cfg.Severity); s.Valid() {
			r.Severity = s
		}
		if a := Action(cfg.Action); a.Valid() {
			r.Action = a
		}
		r.Version = cfg.Version
	}
	return nil
}

// Rules returns a snapshot of the live rules in declaration order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	return out
}

// UpdateRule persists a new version of the rule and then applies it in memory.
func (e *Engine) UpdateRule(ctx context.Context, id string, upd RuleUpdate, changedBy string) (Rule, error) {
	if upd.Severity != nil && !upd.Severity.Valid() {
		return Rule{}, fmt.Errorf("%w: severity %q", ErrInvalidRuleUpdate, *upd.Severity)
	}
	if upd.Action != nil && !upd.Action.Valid() {
		return Rule{}, fmt.Errorf("%w: action %q", ErrInvalidRuleUpdate, *upd.Action)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.findLocked(id)
	if r == nil {
		return Rule{}, ErrRuleNotFound
	}

	next := *r
	if upd.Enabled != nil {
		next.Enabled = *upd.Enabled
	}
	if upd.Severity != nil {
		next.Severity = *upd.Severity
	}
	if upd.Action != nil {
		next.Action = *upd.Action
	}

	cfg := models.ModerationRuleConfig{
		RuleID:   next.ID,
		Enabled:  next.Enabled,
		Severity: string(next.Severity),
		Action:   string(next.Action),
	}
	if err := e.repos.Moderation.SaveRuleConfig(ctx, &cfg, changedBy); err != nil {
		return Rule{}, fmt.Errorf("save rule %s: %w", id, err)
	}
	next.Version = cfg.Version
	*r = next

	e.logger.Info("rule updated",
		zap.String("rule", id),
		zap.Bool("enabled", next.Enabled),
		zap.String("severity", string(next.Severity)),
		zap.String("action", string(next.Action)),
		zap.Int("version", next.Version),
		zap.String("changed_by", changedBy),
	)
	return next, nil
}

func (e *Engine) findLocked(id string) *Rule {
	for _, r := range e.rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// ModerateCast runs every enabled rule against the cast and its author.
func (e *Engine) ModerateCast(ctx context.Context, cast *models.Cast, user *models.User) (Result, error) {
	in := &input{Cast: cast, User: user, Now: e.now()}
	if err := e.loadHistory(ctx, in, castHistoryLimit, cast.CastHash); err != nil {
		return Result{}, err
	}
	res := e.evaluate(ctx, in, false)
	evaluationCount.WithLabelValues(models.TargetTypeCast).Inc()
	if res.Flagged {
		if err := e.logResult(ctx, models.TargetTypeCast, cast.CastHash, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// ModerateUser runs the user-scoped rules against a stored user.
func (e *Engine) ModerateUser(ctx context.Context, userID uint) (Result, error) {
	user, err := e.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	in := &input{User: user, Now: e.now()}
	if err := e.loadHistory(ctx, in, userHistoryLimit, ""); err != nil {
		return Result{}, err
	}
	res := e.evaluate(ctx, in, true)
	evaluationCount.WithLabelValues(models.TargetTypeUser).Inc()
	if res.Flagged {
		if err := e.logResult(ctx, models.TargetTypeUser, strconv.FormatUint(uint64(userID), 10), res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// loadHistory fills in the author's most recent stored casts and the trailing-hour count,
// excluding the cast being judged.
func (e *Engine) loadHistory(ctx context.Context, in *input, limit int, exclude string) error {
	user := in.User
	if user == nil || !user.HasFarcaster() {
		return nil
	}
	casts, err := e.repos.Casts.RecentByAuthor(ctx, user.FarcasterFID, limit+1)
	if err != nil {
		return fmt.Errorf("load recent casts: %w", err)
	}
	out := casts[:0]
	for _, c := range casts {
		if exclude != "" && c.CastHash == exclude {
			continue
		}
		out = append(out, c)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	in.Recent = out

	n, err := e.repos.Casts.CountByAuthorSince(ctx, user.FarcasterFID, in.Now.Add(-time.Hour), exclude)
	if err != nil {
		return fmt.Errorf("count recent casts: %w", err)
	}
	in.LastHour = int(n)
	return nil
}

func (e *Engine) evaluate(ctx context.Context, in *input, userOnly bool) Result {
	e.mu.RLock()
	rules := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled && (!userOnly || r.UserScoped) {
			rules = append(rules, *r)
		}
	}
	e.mu.RUnlock()

	res := Result{Rules: []string{}, Severity: SeverityLow, Action: ActionWarning}
	var reasons []string
	var top *Rule
	for i := range rules {
		r := &rules[i]
		if !e.runCheck(ctx, r, in) {
			continue
		}
		ruleMatchCount.WithLabelValues(r.ID).Inc()
		res.Rules = append(res.Rules, r.ID)
		reasons = append(reasons, r.Reason)
		// 取最高严重级别，同级别保留先声明的规则
		if top == nil || r.Severity.Level() > top.Severity.Level() {
			top = r
		}
	}

	if top != nil {
		res.Flagged = true
		res.Severity = top.Severity
		res.Action = top.Action
		res.Reason = strings.Join(reasons, "; ")
	}
	return res
}

// runCheck isolates a single rule: an error or panic counts as no match.
func (e *Engine) runCheck(ctx context.Context, r *Rule, in *input) (matched bool) {
	defer func() {
		if p := recover(); p != nil {
			ruleErrorCount.WithLabelValues(r.ID).Inc()
			e.logger.Error("moderation rule panicked", zap.String("rule", r.ID), zap.Any("panic", p))
			matched = false
		}
	}()

	ok, err := r.check(in)
	if err != nil {
		ruleErrorCount.WithLabelValues(r.ID).Inc()
		e.logger.Error("moderation rule failed", zap.String("rule", r.ID), zap.Error(err))
		return false
	}
	return ok
}

func (e *Engine) logResult(ctx context.Context, targetType, targetID string, res Result) error {
	a := &models.ModerationAction{
		TargetType: targetType,
		TargetID:   targetID,
		Action:     string(res.Action),
		Reason:     res.Reason,
		Severity:   string(res.Severity),
		Rules:      res.Rules,
	}
	if err := e.repos.Moderation.CreateAction(ctx, a); err != nil {
		e.logger.Error("failed to log moderation action", zap.String("target", targetID), zap.Error(err))
		return fmt.Errorf("log moderation action: %w", err)
	}
	e.logger.Info("content flagged",
		zap.String("target_type", targetType),
		zap.String("target_id", targetID),
		zap.Strings("rules", res.Rules),
		zap.String("severity", string(res.Severity)),
	)
	return nil
}

// Stats groups the moderation log by action and severity over the trailing timeframe.
func (e *Engine) Stats(ctx context.Context, timeframe string) ([]repository.ActionStat, error) {
	var days int
	switch timeframe {
	case "", "day":
		days = 1
	case "week":
		days = 7
	case "month":
		days = 30
	default:
		return nil, ErrInvalidTimeframe
	}
	since := e.now().Add(-time.Duration(days) * 24 * time.Hour)
	return e.repos.Moderation.StatsSince(ctx, since)
}

func (e *Engine) ListActions(ctx context.Context, limit, offset int) ([]models.ModerationAction, int64, error) {
	return e.repos.Moderation.ListActions(ctx, limit, offset)
}
