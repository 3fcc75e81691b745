package moderation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"kast/internal/models"

	"go.uber.org/zap"
)

// ManualAction is an administrator decision against a stored cast, user or campaign.
type ManualAction struct {
	Action      Action
	TargetType  string
	TargetID    string
	Reason      string
	Severity    Severity
	ExpiresAt   *time.Time
	ModeratorID *uint
}

const defaultManualReason = "Manual moderation action"

func (m *ManualAction) normalize() error {
	if !m.Action.Valid() {
		return fmt.Errorf("%w: action %q", ErrInvalidAction, m.Action)
	}
	switch m.TargetType {
	case models.TargetTypeCast, models.TargetTypeUser, models.TargetTypeCampaign:
	default:
		return fmt.Errorf("%w: target type %q", ErrInvalidAction, m.TargetType)
	}
	if m.TargetID == "" {
		return fmt.Errorf("%w: target id is required", ErrInvalidAction)
	}
	if m.Reason == "" {
		m.Reason = defaultManualReason
	}
	if m.Severity == "" {
		m.Severity = SeverityMedium
	}
	if !m.Severity.Valid() {
		return fmt.Errorf("%w: severity %q", ErrInvalidAction, m.Severity)
	}
	return nil
}

// RecordManualAction applies the action's effect and appends it to the moderation log.
func (e *Engine) RecordManualAction(ctx context.Context, m ManualAction) (*models.ModerationAction, error) {
	if err := m.normalize(); err != nil {
		return nil, err
	}

	a := &models.ModerationAction{
		TargetType:  m.TargetType,
		TargetID:    m.TargetID,
		Action:      string(m.Action),
		Reason:      m.Reason,
		Severity:    string(m.Severity),
		Rules:       []string{},
		ModeratorID: m.ModeratorID,
		ExpiresAt:   m.ExpiresAt,
	}
	if err := e.ApplyAction(ctx, a); err != nil {
		return nil, err
	}
	if err := e.repos.Moderation.CreateAction(ctx, a); err != nil {
		return nil, fmt.Errorf("log moderation action: %w", err)
	}
	return a, nil
}

// ApplyAction executes the side effect of a moderation action. Target types the
// action does not apply to are logged only.
func (e *Engine) ApplyAction(ctx context.Context, a *models.ModerationAction) error {
	log := e.logger.With(
		zap.String("action", a.Action),
		zap.String("target_type", a.TargetType),
		zap.String("target_id", a.TargetID),
	)

	var affected *uint
	switch Action(a.Action) {
	case ActionHideContent:
		if a.TargetType != models.TargetTypeCast {
			break
		}
		cast, err := e.repos.Casts.GetByHash(ctx, a.TargetID)
		if err != nil {
			return err
		}
		reversed, err := e.repos.Ledger.SuppressCast(ctx, a.TargetID)
		if err != nil {
			return fmt.Errorf("suppress cast: %w", err)
		}
		log.Info("cast suppressed", zap.Float64("reversed", reversed))
		affected = cast.UserID

	case ActionSuspendUser, ActionBanUser:
		if a.TargetType != models.TargetTypeUser {
			break
		}
		userID, err := parseUserID(a.TargetID)
		if err != nil {
			return err
		}
		status := models.UserStatusSuspended
		if Action(a.Action) == ActionBanUser {
			status = models.UserStatusBanned
		}
		if err := e.repos.Users.SetStatus(ctx, userID, status, a.ExpiresAt); err != nil {
			return err
		}
		affected = &userID

	case ActionRemoveFromCampaign:
		if a.TargetType != models.TargetTypeUser {
			break
		}
		userID, err := parseUserID(a.TargetID)
		if err != nil {
			return err
		}
		n, err := e.repos.Participants.RemoveFromActiveCampaigns(ctx, userID)
		if err != nil {
			return fmt.Errorf("remove participations: %w", err)
		}
		log.Info("user removed from active campaigns", zap.Int64("participations", n))
		affected = &userID

	case ActionWarning:
		if a.TargetType != models.TargetTypeUser {
			break
		}
		userID, err := parseUserID(a.TargetID)
		if err != nil {
			return err
		}
		if _, err := e.repos.Users.GetByID(ctx, userID); err != nil {
			return err
		}
		affected = &userID

	default:
		return fmt.Errorf("%w: action %q", ErrInvalidAction, a.Action)
	}

	actionAppliedCount.WithLabelValues(a.Action).Inc()
	if affected != nil {
		e.notify(ctx, *affected, a)
	}
	return nil
}

// ReverseAction removes an action from the log. Its effect stays in place.
func (e *Engine) ReverseAction(ctx context.Context, id uint) error {
	a, err := e.repos.Moderation.GetAction(ctx, id)
	if err != nil {
		return err
	}
	if err := e.repos.Moderation.DeleteAction(ctx, id); err != nil {
		return err
	}
	e.logger.Info("moderation action reversed",
		zap.Uint("id", id),
		zap.String("action", a.Action),
		zap.String("target_id", a.TargetID),
	)
	return nil
}

func (e *Engine) notify(ctx context.Context, userID uint, a *models.ModerationAction) {
	reason := fmt.Sprintf("Moderation action %s was applied to your %s: %s",
		a.Action, targetNoun(a.TargetType), a.Reason)
	if err := e.repos.Notifications.Create(ctx, userID, models.NotificationTypeModeration, reason); err != nil {
		// 通知失败不影响处理结果
		e.logger.Warn("failed to notify user", zap.Uint("user_id", userID), zap.Error(err))
	}
}

func targetNoun(targetType string) string {
	switch targetType {
	case models.TargetTypeCast:
		return "cast"
	case models.TargetTypeCampaign:
		return "campaign entry"
	default:
		return "account"
	}
}

func parseUserID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: user id %q", ErrInvalidAction, s)
	}
	return uint(n), nil
}
