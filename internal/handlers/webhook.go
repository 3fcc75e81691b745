package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"kast/internal/models"
	"kast/internal/moderation"
	"kast/internal/repository"
	"kast/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

const maxWebhookBody = 1 << 20

// VerifySignature checks a hex HMAC-SHA256 of body, with or without the "sha256=" prefix.
func VerifySignature(body []byte, signature, secret string) error {
	if signature == "" || secret == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Rescorer queues a cast for re-scoring after its reactions change.
type Rescorer interface {
	Enqueue(hash string) bool
}

// CastModerator screens casts that arrive through the webhook.
type CastModerator interface {
	ModerateCast(ctx context.Context, cast *models.Cast, user *models.User) (moderation.Result, error)
}

type WebhookHandler struct {
	secret    string
	repos     *repository.Repositories
	moderator CastModerator
	rescorer  Rescorer
	logger    *zap.Logger
}

func NewWebhookHandler(secret string, repos *repository.Repositories, moderator CastModerator, rescorer Rescorer, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		repos:     repos,
		moderator: moderator,
		rescorer:  rescorer,
		logger:    logger.Named("webhook"),
	}
}

// Verify GET /api/webhooks/neynar 订阅验证
func (h *WebhookHandler) Verify(c *gin.Context) {
	if challenge := c.Query("hub.challenge"); challenge != "" {
		c.String(http.StatusOK, challenge)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Neynar webhook endpoint is active"})
}

// wire formats; fids arrive as numbers
type fidRef struct {
	FID      json.Number `json:"fid"`
	Username string      `json:"username"`
}

type webhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type castEvent struct {
	Hash      string    `json:"hash"`
	Author    fidRef    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type reactionEvent struct {
	Hash         string          `json:"hash"`
	ReactionType json.RawMessage `json:"reaction_type"`
	Timestamp    time.Time       `json:"timestamp"`
	Cast         struct {
		Hash string `json:"hash"`
	} `json:"cast"`
	Reactor *fidRef `json:"reactor"`
	User    *fidRef `json:"user"`
}

type followEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Follower   *fidRef   `json:"follower"`
	Following  *fidRef   `json:"following"`
	User       *fidRef   `json:"user"`
	TargetUser *fidRef   `json:"target_user"`
}

// Receive POST /api/webhooks/neynar
func (h *WebhookHandler) Receive(c *gin.Context) {
	if h.secret == "" {
		h.logger.Error("NEYNAR_WEBHOOK_SECRET not configured")
		RespondError(c, http.StatusInternalServerError, "Webhook secret not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "Failed to read body")
		return
	}

	signature := c.GetHeader("x-neynar-signature")
	if signature == "" {
		signature = c.GetHeader("x-hub-signature-256")
	}
	if err := VerifySignature(body, signature, h.secret); err != nil {
		h.logger.Warn("invalid webhook signature")
		RespondError(c, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		RespondError(c, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	h.logger.Info("received webhook", zap.String("type", event.Type))
	ctx := c.Request.Context()

	var message string
	switch event.Type {
	case "cast.created":
		err = h.handleCast(ctx, event.Data)
		message = "Cast processed successfully"
	case "reaction.created":
		err = h.handleReaction(ctx, event.Data)
		message = "Reaction processed successfully"
	case "follow.created":
		err = h.handleFollow(ctx, event.Data)
		message = "Follow processed successfully"
	case "user.updated":
		message = "User update acknowledged"
	default:
		message = "Event type not handled"
	}

	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, errMalformedEvent) {
			RespondError(c, http.StatusBadRequest, "Invalid event data")
			return
		}
		h.logger.Error("webhook processing failed", zap.String("type", event.Type), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

var errMalformedEvent = errors.New("malformed event")

func (h *WebhookHandler) handleCast(ctx context.Context, data json.RawMessage) error {
	var ev castEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	if ev.Hash == "" || ev.Author.FID == "" {
		return errMalformedEvent
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	cast := &models.Cast{
		CastHash:    ev.Hash,
		AuthorFID:   ev.Author.FID.String(),
		Text:        utils.SanitizeCastText(ev.Text),
		PublishedAt: ev.Timestamp,
	}
	user, err := h.repos.Users.GetByFID(ctx, cast.AuthorFID)
	switch {
	case err == nil:
		cast.UserID = &user.ID
	case errors.Is(err, repository.ErrUserNotFound):
		user = nil
	default:
		return err
	}

	created, err := h.repos.Casts.Insert(ctx, cast)
	if err != nil || !created || user == nil || h.moderator == nil {
		return err
	}

	res, err := h.moderator.ModerateCast(ctx, cast, user)
	if err != nil {
		// 审核失败不影响入库
		h.logger.Warn("moderation failed", zap.String("cast_hash", cast.CastHash), zap.Error(err))
		return nil
	}
	if res.Flagged && res.Action == moderation.ActionHideContent {
		_, err = h.repos.Ledger.SuppressCast(ctx, cast.CastHash)
	}
	return err
}

func (h *WebhookHandler) handleReaction(ctx context.Context, data json.RawMessage) error {
	var ev reactionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	reactor := ev.Reactor
	if reactor == nil {
		reactor = ev.User
	}
	typ := reactionType(ev.ReactionType)
	if ev.Hash == "" || ev.Cast.Hash == "" || reactor == nil || reactor.FID == "" || typ == "" {
		return errMalformedEvent
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	created, err := h.repos.Social.InsertReaction(ctx, &models.Reaction{
		Hash:         ev.Hash,
		ReactorFID:   reactor.FID.String(),
		TargetHash:   ev.Cast.Hash,
		ReactionType: typ,
		Timestamp:    ev.Timestamp,
	})
	if err != nil {
		return err
	}
	if created && h.rescorer != nil {
		h.rescorer.Enqueue(ev.Cast.Hash)
	}
	return nil
}

func (h *WebhookHandler) handleFollow(ctx context.Context, data json.RawMessage) error {
	var ev followEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	follower, following := ev.Follower, ev.Following
	if follower == nil {
		follower = ev.User
	}
	if following == nil {
		following = ev.TargetUser
	}
	if follower == nil || following == nil || follower.FID == "" || following.FID == "" {
		return errMalformedEvent
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	_, err := h.repos.Social.InsertFollow(ctx, &models.Follow{
		FollowerFID:  follower.FID.String(),
		FollowingFID: following.FID.String(),
		Timestamp:    ev.Timestamp,
	})
	return err
}

// reactionType accepts "like"/"recast" and the numeric 1/2 encoding.
func reactionType(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(s) {
		case "like", "recast":
			return strings.ToLower(s)
		}
		return ""
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		switch n {
		case 1:
			return "like"
		case 2:
			return "recast"
		}
	}
	return ""
}
