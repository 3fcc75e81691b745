package handlers_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"kast/internal/config"
	"kast/internal/db"
	"kast/internal/handlers"
	"kast/internal/middleware"
	"kast/internal/models"
	"kast/internal/moderation"
	"kast/internal/repository"
	"kast/internal/router"
	"kast/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSecret   = "s3cret"
	testAdminKey = "admin-key"
)

type stubHub struct {
	profiles map[string]*services.Profile
}

func (h *stubHub) GetUserProfile(_ context.Context, fid string) (*services.Profile, error) {
	if p, ok := h.profiles[fid]; ok {
		return p, nil
	}
	return nil, services.ErrHubNotFound
}

func (h *stubHub) GetUserCasts(context.Context, string, int) ([]services.HubCast, error) {
	return nil, nil
}

func (h *stubHub) GetCast(context.Context, string) (*services.HubCast, error) {
	return nil, services.ErrHubNotFound
}

func (h *stubHub) GetCastReactions(context.Context, string) (services.Reactions, error) {
	return services.Reactions{}, services.ErrHubNotFound
}

func (h *stubHub) ExchangeAuthCode(_ context.Context, code, _ string) (*services.Profile, error) {
	if code != "good-code" {
		return nil, &services.HubError{StatusCode: http.StatusUnauthorized}
	}
	return &services.Profile{FID: "77", Username: "signer"}, nil
}

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	repos  *repository.Repositories
	worker *services.EngagementWorker
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open("sqlite://:memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	logger := zap.NewNop()
	repos := repository.New(gdb)
	engine := moderation.NewEngine(repos, moderation.ShortenerAllow, logger)
	hub := &stubHub{profiles: map[string]*services.Profile{}}
	sessions, err := services.NewMemorySessionStore(time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	worker := services.NewEngagementWorker(services.WorkerConfig{RetryDelay: time.Millisecond}, hub, repos, engine, logger)
	r := router.New(router.Deps{
		AppCtx: ctx,
		Config: &config.Config{
			BaseURL:             "http://kast.test",
			AdminAPIKey:         testAdminKey,
			NeynarWebhookSecret: secret,
		},
		DB:         gdb,
		Repos:      repos,
		Engine:     engine,
		Worker:     worker,
		Engagement: services.NewEngagementService(hub, repos, logger),
		Rescore:    services.NewRescoreQueue(hub, repos, logger),
		Hub:        hub,
		Sessions:   sessions,
		Logger:     logger,
	})
	return &testEnv{router: r, db: gdb, repos: repos, worker: worker}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func adminHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testAdminKey}
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestWebhookChallengeEcho(t *testing.T) {
	env := newTestEnv(t, testSecret)

	w := env.do(t, http.MethodGet, "/api/webhooks/neynar?hub.challenge=abc123", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc123", w.Body.String())

	w = env.do(t, http.MethodGet, "/api/webhooks/neynar", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "active")
}

func TestWebhookRejectsTamperedSignature(t *testing.T) {
	env := newTestEnv(t, testSecret)
	body := []byte(`{"type":"cast.created","data":{"hash":"0x1","author":{"fid":1},"text":"gm"}}`)
	sig := sign(body)

	tampered := bytes.Replace(body, []byte("gm"), []byte("gn"), 1)
	w := env.do(t, http.MethodPost, "/api/webhooks/neynar", tampered, map[string]string{"x-neynar-signature": sig})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/webhooks/neynar", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/webhooks/neynar", body, map[string]string{"x-hub-signature-256": "sha256=" + sig})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookWithoutSecret(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/api/webhooks/neynar", []byte(`{}`), map[string]string{"x-neynar-signature": "00"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookEvents(t *testing.T) {
	env := newTestEnv(t, testSecret)
	ctx := context.Background()
	post := func(body string) *httptest.ResponseRecorder {
		b := []byte(body)
		return env.do(t, http.MethodPost, "/api/webhooks/neynar", b, map[string]string{"x-neynar-signature": sign(b)})
	}

	w := post(`{"type":"cast.created","data":{"hash":"0xc1","author":{"fid":5,"username":"a"},"text":"hello <i>world</i>","timestamp":"2025-03-01T10:00:00Z"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	cast, err := env.repos.Casts.GetByHash(ctx, "0xc1")
	require.NoError(t, err)
	assert.Equal(t, "5", cast.AuthorFID)
	assert.Equal(t, "hello world", cast.Text)

	// 重复投递保持幂等
	w = post(`{"type":"cast.created","data":{"hash":"0xc1","author":{"fid":5},"text":"again"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = post(`{"type":"reaction.created","data":{"hash":"0xr1","reaction_type":"like","cast":{"hash":"0xc1"},"reactor":{"fid":9}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	likes, recasts, err := env.repos.Social.CountReactions(ctx, "0xc1")
	require.NoError(t, err)
	assert.Equal(t, 1, likes)
	assert.Zero(t, recasts)

	w = post(`{"type":"follow.created","data":{"follower":{"fid":9},"following":{"fid":5}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var follows int64
	require.NoError(t, env.db.Model(&models.Follow{}).Count(&follows).Error)
	assert.Equal(t, int64(1), follows)

	w = post(`{"type":"user.updated","data":{"username":"a"}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User update acknowledged", decode(t, w)["message"])

	w = post(`{"type":"frame.clicked","data":{}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Event type not handled", decode(t, w)["message"])

	w = post(`{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(`{"type":"reaction.created","data":{"hash":"0xr2"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookHidesFlaggedCastOfKnownUser(t *testing.T) {
	env := newTestEnv(t, testSecret)
	u := &models.User{FarcasterFID: "11", Username: "fresh"}
	require.NoError(t, env.db.Create(u).Error)

	body := []byte(`{"type":"cast.created","data":{"hash":"0xbad","author":{"fid":11},"text":"claim your free airdrop at https://bit.ly/x guaranteed profit"}}`)
	w := env.do(t, http.MethodPost, "/api/webhooks/neynar", body, map[string]string{"x-neynar-signature": sign(body)})
	require.Equal(t, http.StatusOK, w.Code)

	var actions int64
	require.NoError(t, env.db.Model(&models.ModerationAction{}).Where("target_id = ?", "0xbad").Count(&actions).Error)
	assert.Equal(t, int64(1), actions)
}

func TestWorkerEndpoints(t *testing.T) {
	env := newTestEnv(t, testSecret)

	w := env.do(t, http.MethodGet, "/api/workers/engagement", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)["status"].(map[string]any)
	assert.Equal(t, false, status["isRunning"])

	w = env.do(t, http.MethodPost, "/api/workers/engagement", gin.H{"action": "trigger"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/workers/engagement", gin.H{"action": "trigger"}, adminHeaders())
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/workers/engagement", gin.H{"action": "explode"}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/workers/engagement", gin.H{"action": "start"}, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.worker.IsRunning())

	w = env.do(t, http.MethodPost, "/api/workers/engagement", gin.H{"action": "stop"}, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Engagement worker stopped", decode(t, w)["message"])
	env.worker.Wait()
}

func TestModerationEndpoints(t *testing.T) {
	env := newTestEnv(t, testSecret)
	u := &models.User{FarcasterFID: "21", Username: "target"}
	require.NoError(t, env.db.Create(u).Error)
	uid := strconv.FormatUint(uint64(u.ID), 10)

	w := env.do(t, http.MethodGet, "/api/moderation?action=rules", nil, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["rules"], 6)

	w = env.do(t, http.MethodGet, "/api/moderation?action=bogus", nil, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/moderation?action=stats&timeframe=year", nil, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/moderation", gin.H{"action": "update_rule", "ruleId": "nope", "updates": gin.H{"enabled": false}}, adminHeaders())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/moderation", gin.H{"action": "update_rule", "ruleId": moderation.RuleSpam, "updates": gin.H{"enabled": false}}, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/moderation", gin.H{"action": "moderate_user"}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/moderation", gin.H{"actionType": "SUSPEND_USER", "targetType": "USER", "targetId": uid, "reason": "spam"}, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	action := decode(t, w)["action"].(map[string]any)

	var stored models.User
	require.NoError(t, env.db.First(&stored, u.ID).Error)
	assert.Equal(t, models.UserStatusSuspended, stored.Status)

	w = env.do(t, http.MethodPut, "/api/moderation", gin.H{"actionType": "BAN_USER", "targetType": "USER"}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/moderation", gin.H{"actionType": "BAN_USER", "targetType": "USER", "targetId": "99999"}, adminHeaders())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/moderation?action=actions&limit=10", nil, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	pagination := decode(t, w)["pagination"].(map[string]any)
	assert.Equal(t, float64(1), pagination["total"])
	assert.Equal(t, false, pagination["hasMore"])

	w = env.do(t, http.MethodDelete, "/api/moderation", nil, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/moderation?actionId=424242", nil, adminHeaders())
	assert.Equal(t, http.StatusNotFound, w.Code)

	id := strconv.FormatFloat(action["id"].(float64), 'f', 0, 64)
	w = env.do(t, http.MethodDelete, "/api/moderation?actionId="+id, nil, adminHeaders())
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/moderation?action=rules", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNeynarSignIn(t *testing.T) {
	env := newTestEnv(t, testSecret)

	w := env.do(t, http.MethodGet, "/api/auth/neynar/callback?code=good-code", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/auth/neynar/callback?code=bad&state=n1", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = env.do(t, http.MethodGet, "/api/auth/neynar/status?nonce=n1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])

	w = env.do(t, http.MethodGet, "/api/auth/neynar/callback?code=good-code&state=n1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/auth/neynar/status?nonce=n1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "signer", out["user"].(map[string]any)["username"])

	// 只能取一次
	w = env.do(t, http.MethodGet, "/api/auth/neynar/status?nonce=n1", nil, nil)
	assert.Equal(t, false, decode(t, w)["success"])
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	for _, ck := range w.Result().Cookies() {
		if ck.Name == middleware.SessionName {
			return map[string]string{"Cookie": ck.Name + "=" + ck.Value}
		}
	}
	t.Fatalf("response did not set %s", middleware.SessionName)
	return nil
}

func TestLoginSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, testSecret)

	w := env.do(t, http.MethodGet, "/api/auth/session", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = env.do(t, http.MethodGet, "/api/me/notifications", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/auth/neynar/callback?code=good-code&state=n2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/auth/neynar/status?nonce=n2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w)

	// 登录时建立本地用户
	user, err := env.repos.Users.GetByFID(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, "signer", user.Username)

	w = env.do(t, http.MethodGet, "/api/auth/session", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, true, out["authenticated"])
	assert.Equal(t, "77", out["user"].(map[string]any)["farcaster_fid"])

	w = env.do(t, http.MethodPost, "/api/auth/session", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Session refreshed", decode(t, w)["message"])
	cookie = sessionCookie(t, w)

	require.NoError(t, env.repos.Notifications.Create(context.Background(), user.ID, models.NotificationTypeModeration, "hidden"))
	w = env.do(t, http.MethodGet, "/api/me/notifications", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["notifications"], 1)

	w = env.do(t, http.MethodDelete, "/api/auth/session", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	cookie = sessionCookie(t, w)

	w = env.do(t, http.MethodGet, "/api/auth/session", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEngagementValidation(t *testing.T) {
	env := newTestEnv(t, testSecret)

	w := env.do(t, http.MethodPost, "/api/farcaster/engagement", gin.H{"castHash": "0x1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/farcaster/engagement", gin.H{"castHash": "0x1", "fid": "3"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/farcaster/engagement?hours=48", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "48 hours", decode(t, w)["timeframe"])

	w = env.do(t, http.MethodPost, "/api/farcaster/sync", gin.H{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/farcaster/sync", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, testSecret)
	w := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVerifySignature(t *testing.T) {
	body := []byte("payload")
	assert.NoError(t, handlers.VerifySignature(body, sign(body), testSecret))
	assert.NoError(t, handlers.VerifySignature(body, "sha256="+sign(body), testSecret))
	assert.ErrorIs(t, handlers.VerifySignature(body, "zz", testSecret), handlers.ErrInvalidSignature)
	assert.ErrorIs(t, handlers.VerifySignature(body, sign(body), ""), handlers.ErrInvalidSignature)
}
