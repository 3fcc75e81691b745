package moderation

import (
	"context"
	"strconv"
	"testing"
	"time"

	"kast/internal/db"
	"kast/internal/models"
	"kast/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestEngine(t *testing.T, policy ShortenerPolicy) (*Engine, *gorm.DB) {
	t.Helper()
	gdb, err := db.Open("sqlite://:memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return NewEngine(repository.New(gdb), policy, zap.NewNop()), gdb
}

func createUser(t *testing.T, gdb *gorm.DB, fid string, age time.Duration, verified bool) *models.User {
	t.Helper()
	u := &models.User{FarcasterFID: fid, Username: "user" + fid, CreatedAt: time.Now().Add(-age)}
	if verified {
		u.Verifications = []string{"0x" + fid}
	}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

func countActions(t *testing.T, gdb *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Model(&models.ModerationAction{}).Count(&n).Error)
	return n
}

func TestModerateCastHighestSeverityWins(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	ctx := context.Background()

	user := createUser(t, gdb, "100", 24*time.Hour, false)
	cast := &models.Cast{CastHash: "0xscam", AuthorFID: "100", Text: "guaranteed profit for everyone"}

	res, err := e.ModerateCast(ctx, cast, user)
	require.NoError(t, err)

	assert.True(t, res.Flagged)
	assert.Contains(t, res.Rules, RuleScam)
	assert.Contains(t, res.Rules, RuleProfileVerification)
	assert.GreaterOrEqual(t, res.Severity.Level(), SeverityHigh.Level())
	assert.Equal(t, ActionHideContent, res.Action)
	assert.Contains(t, res.Reason, "Potential scam content detected")

	var logged models.ModerationAction
	require.NoError(t, gdb.First(&logged).Error)
	assert.Equal(t, models.TargetTypeCast, logged.TargetType)
	assert.Equal(t, "0xscam", logged.TargetID)
	assert.Equal(t, string(SeverityHigh), logged.Severity)
	assert.Nil(t, logged.ModeratorID)
	assert.ElementsMatch(t, res.Rules, []string(logged.Rules))
}

func TestModerateCastCleanWritesNothing(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	user := createUser(t, gdb, "101", 60*24*time.Hour, true)

	res, err := e.ModerateCast(context.Background(), &models.Cast{CastHash: "0xok", AuthorFID: "101", Text: "shipping a new frame today"}, user)
	require.NoError(t, err)
	assert.False(t, res.Flagged)
	assert.Empty(t, res.Rules)
	assert.Zero(t, countActions(t, gdb))
}

func TestModerateCastTieKeepsFirstDeclared(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	user := createUser(t, gdb, "102", 60*24*time.Hour, true)

	now := time.Now()
	for i := 0; i < 6; i++ {
		require.NoError(t, gdb.Create(&models.Cast{
			CastHash:    "0xrecent" + strconv.Itoa(i),
			AuthorFID:   "102",
			PublishedAt: now.Add(-time.Minute),
		}).Error)
	}

	res, err := e.ModerateCast(context.Background(), &models.Cast{CastHash: "0xnew", AuthorFID: "102", Text: "free money now"}, user)
	require.NoError(t, err)
	assert.Equal(t, []string{RuleSpam, RuleRateLimiting}, res.Rules)
	assert.Equal(t, SeverityMedium, res.Severity)
	assert.Equal(t, ActionHideContent, res.Action)
}

func TestRulePanicIsIsolated(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	user := createUser(t, gdb, "103", 60*24*time.Hour, true)

	e.rules = append([]*Rule{{
		ID:       "exploding",
		Enabled:  true,
		Severity: SeverityCritical,
		Action:   ActionBanUser,
		check:    func(*input) (bool, error) { panic("boom") },
	}}, e.rules...)

	res, err := e.ModerateCast(context.Background(), &models.Cast{CastHash: "0xp", AuthorFID: "103", Text: "rug then pull"}, user)
	require.NoError(t, err)
	assert.Equal(t, []string{RuleScam}, res.Rules)
	assert.Equal(t, SeverityHigh, res.Severity)
}

func TestModerateUserRunsUserRulesOnly(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	ctx := context.Background()

	user := createUser(t, gdb, "104", time.Hour, true)
	res, err := e.ModerateUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.Equal(t, []string{RuleProfileVerification}, res.Rules)
	assert.Equal(t, SeverityLow, res.Severity)
	assert.Equal(t, ActionWarning, res.Action)

	var logged models.ModerationAction
	require.NoError(t, gdb.First(&logged).Error)
	assert.Equal(t, models.TargetTypeUser, logged.TargetType)
	assert.Equal(t, strconv.Itoa(int(user.ID)), logged.TargetID)

	_, err = e.ModerateUser(ctx, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateRulePersistsAndReloads(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	ctx := context.Background()

	disabled := false
	high := SeverityHigh
	rule, err := e.UpdateRule(ctx, RuleSpam, RuleUpdate{Enabled: &disabled, Severity: &high}, "admin")
	require.NoError(t, err)
	assert.False(t, rule.Enabled)
	assert.Equal(t, SeverityHigh, rule.Severity)
	assert.Equal(t, 1, rule.Version)

	// 被禁用的规则不再参与评估
	user := createUser(t, gdb, "105", 60*24*time.Hour, true)
	res, err := e.ModerateCast(ctx, &models.Cast{CastHash: "0xs", AuthorFID: "105", Text: "free money"}, user)
	require.NoError(t, err)
	assert.False(t, res.Flagged)

	reloaded := NewEngine(repository.New(gdb), ShortenerAllow, zap.NewNop())
	require.NoError(t, reloaded.LoadRules(ctx))
	for _, r := range reloaded.Rules() {
		if r.ID == RuleSpam {
			assert.False(t, r.Enabled)
			assert.Equal(t, SeverityHigh, r.Severity)
			assert.Equal(t, 1, r.Version)
		}
	}

	revs, err := repository.NewModerationRepository(gdb).ListRuleRevisions(ctx, RuleSpam)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, "admin", revs[0].ChangedBy)
}

func TestUpdateRuleValidation(t *testing.T) {
	e, _ := newTestEngine(t, ShortenerAllow)
	ctx := context.Background()

	_, err := e.UpdateRule(ctx, "nope", RuleUpdate{}, "admin")
	assert.ErrorIs(t, err, ErrRuleNotFound)

	bad := Severity("EXTREME")
	_, err = e.UpdateRule(ctx, RuleSpam, RuleUpdate{Severity: &bad}, "admin")
	assert.ErrorIs(t, err, ErrInvalidRuleUpdate)

	badAction := Action("DELETE_EVERYTHING")
	_, err = e.UpdateRule(ctx, RuleSpam, RuleUpdate{Action: &badAction}, "admin")
	assert.ErrorIs(t, err, ErrInvalidRuleUpdate)
}

func TestManualHideContentReversesScore(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	ctx := context.Background()

	user := createUser(t, gdb, "106", 60*24*time.Hour, true)
	require.NoError(t, gdb.Model(user).UpdateColumn("engagement_score", 40).Error)
	require.NoError(t, gdb.Create(&models.Cast{CastHash: "0xhide", AuthorFID: "106", UserID: &user.ID, EngagementScore: 15}).Error)

	a, err := e.RecordManualAction(ctx, ManualAction{Action: ActionHideContent, TargetType: models.TargetTypeCast, TargetID: "0xhide"})
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
	assert.Equal(t, defaultManualReason, a.Reason)
	assert.Equal(t, string(SeverityMedium), a.Severity)

	var got models.User
	require.NoError(t, gdb.First(&got, user.ID).Error)
	assert.Equal(t, 25.0, got.EngagementScore)

	var cast models.Cast
	require.NoError(t, gdb.Where("cast_hash = ?", "0xhide").First(&cast).Error)
	assert.True(t, cast.Suppressed)
	assert.Zero(t, cast.EngagementScore)

	notes, err := repository.NewNotificationRepository(gdb).ListByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationTypeModeration, notes[0].Type)

	_, err = e.RecordManualAction(ctx, ManualAction{Action: ActionHideContent, TargetType: models.TargetTypeCast, TargetID: "0xmissing"})
	assert.ErrorIs(t, err, ErrCastNotFound)
	assert.Equal(t, int64(1), countActions(t, gdb))
}

func TestManualBanAndRemove(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	ctx := context.Background()

	user := createUser(t, gdb, "107", 60*24*time.Hour, true)
	campaign := models.Campaign{Title: "c", Status: models.CampaignStatusActive, EndDate: time.Now().Add(time.Hour)}
	require.NoError(t, gdb.Create(&campaign).Error)
	require.NoError(t, gdb.Create(&models.CampaignParticipant{UserID: user.ID, CampaignID: campaign.ID}).Error)

	expires := time.Now().Add(72 * time.Hour)
	id := strconv.Itoa(int(user.ID))
	_, err := e.RecordManualAction(ctx, ManualAction{Action: ActionBanUser, TargetType: models.TargetTypeUser, TargetID: id, ExpiresAt: &expires, Severity: SeverityCritical})
	require.NoError(t, err)

	var got models.User
	require.NoError(t, gdb.First(&got, user.ID).Error)
	assert.Equal(t, models.UserStatusBanned, got.Status)
	require.NotNil(t, got.PunishExpires)

	_, err = e.RecordManualAction(ctx, ManualAction{Action: ActionRemoveFromCampaign, TargetType: models.TargetTypeUser, TargetID: id})
	require.NoError(t, err)

	var n int64
	require.NoError(t, gdb.Model(&models.CampaignParticipant{}).Count(&n).Error)
	assert.Zero(t, n)

	_, err = e.RecordManualAction(ctx, ManualAction{Action: "EXPLODE", TargetType: models.TargetTypeUser, TargetID: id})
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = e.RecordManualAction(ctx, ManualAction{Action: ActionSuspendUser, TargetType: models.TargetTypeUser, TargetID: "abc"})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestReverseActionKeepsEffect(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	ctx := context.Background()

	user := createUser(t, gdb, "108", 60*24*time.Hour, true)
	a, err := e.RecordManualAction(ctx, ManualAction{Action: ActionSuspendUser, TargetType: models.TargetTypeUser, TargetID: strconv.Itoa(int(user.ID))})
	require.NoError(t, err)

	require.NoError(t, e.ReverseAction(ctx, a.ID))
	assert.Zero(t, countActions(t, gdb))

	var got models.User
	require.NoError(t, gdb.First(&got, user.ID).Error)
	assert.Equal(t, models.UserStatusSuspended, got.Status)

	assert.ErrorIs(t, e.ReverseAction(ctx, a.ID), ErrActionNotFound)
}

func TestStatsTimeframes(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	ctx := context.Background()

	require.NoError(t, gdb.Create(&[]models.ModerationAction{
		{TargetType: "CAST", TargetID: "a", Action: "HIDE_CONTENT", Severity: "HIGH", Reason: "r", CreatedAt: time.Now().Add(-time.Hour)},
		{TargetType: "CAST", TargetID: "b", Action: "HIDE_CONTENT", Severity: "HIGH", Reason: "r", CreatedAt: time.Now().Add(-3 * 24 * time.Hour)},
	}).Error)

	day, err := e.Stats(ctx, "day")
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, int64(1), day[0].Count)

	week, err := e.Stats(ctx, "week")
	require.NoError(t, err)
	require.Len(t, week, 1)
	assert.Equal(t, int64(2), week[0].Count)

	_, err = e.Stats(ctx, "year")
	assert.ErrorIs(t, err, ErrInvalidTimeframe)
}

func TestModerateCastCountsWholeHourBurst(t *testing.T) {
	e, gdb := newTestEngine(t, ShortenerAllow)
	ctx := context.Background()
	user := createUser(t, gdb, "120", 90*24*time.Hour, true)

	// 12 条分散在过去一小时内，超过历史上限 10 条
	now := time.Now()
	for i := range 12 {
		require.NoError(t, gdb.Create(&models.Cast{
			CastHash:        "0xburst" + strconv.Itoa(i),
			AuthorFID:       "120",
			PublishedAt:     now.Add(-time.Duration(10+4*i) * time.Minute),
			EngagementScore: 1,
		}).Error)
	}

	res, err := e.ModerateCast(ctx, &models.Cast{CastHash: "0xnext", AuthorFID: "120", Text: "gm", EngagementScore: 1}, user)
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.Contains(t, res.Rules, RuleEngagementManipulation)
	assert.NotContains(t, res.Rules, RuleRateLimiting)
}
