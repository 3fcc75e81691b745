package handlers

import (
	"net/http"

	"kast/internal/services"
	"kast/internal/utils"

	"github.com/gin-gonic/gin"
)

const maxTrendingLimit = 200

type EngagementHandler struct {
	svc *services.EngagementService
}

func NewEngagementHandler(svc *services.EngagementService) *EngagementHandler {
	return &EngagementHandler{svc: svc}
}

type processCastRequest struct {
	CastHash   string `json:"castHash"`
	FID        string `json:"fid"`
	CampaignID string `json:"campaignId"`
}

// Process POST /api/farcaster/engagement
func (h *EngagementHandler) Process(c *gin.Context) {
	var req processCastRequest
	_ = c.ShouldBindJSON(&req)
	if req.CastHash == "" || req.FID == "" {
		RespondError(c, http.StatusBadRequest, "Cast hash and FID are required")
		return
	}

	cast, err := h.svc.ProcessCast(c.Request.Context(), req.CastHash, req.FID, utils.ParseUintPtr(req.CampaignID))
	if err != nil {
		fail(c, err, "Failed to process cast engagement")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"castEngagement": gin.H{
			"castHash":        cast.CastHash,
			"fid":             cast.AuthorFID,
			"text":            cast.Text,
			"likes":           cast.LikeCount,
			"recasts":         cast.RecastCount,
			"replies":         cast.ReplyCount,
			"engagementScore": cast.EngagementScore,
			"createdAt":       cast.CreatedAt,
		},
	})
}

// Trending GET /api/farcaster/engagement?hours=&limit=&campaignId=
func (h *EngagementHandler) Trending(c *gin.Context) {
	hours := utils.IntOrDefault(c.Query("hours"), services.DefaultTrendingHours, 1, 24*365)
	limit := utils.IntOrDefault(c.Query("limit"), services.DefaultTrendingLimit, 1, maxTrendingLimit)

	res, err := h.svc.Trending(c.Request.Context(), hours, limit, utils.ParseUintPtr(c.Query("campaignId")))
	if err != nil {
		fail(c, err, "Failed to fetch engagement data")
		return
	}
	c.JSON(http.StatusOK, res)
}

type syncRequest struct {
	FID        string `json:"fid"`
	CampaignID string `json:"campaignId"`
}

// Sync POST /api/farcaster/sync 同步用户资料与最近的 cast
func (h *EngagementHandler) Sync(c *gin.Context) {
	var req syncRequest
	_ = c.ShouldBindJSON(&req)
	if req.FID == "" {
		RespondError(c, http.StatusBadRequest, "FID is required")
		return
	}

	res, err := h.svc.SyncUserAndCasts(c.Request.Context(), req.FID, utils.ParseUintPtr(req.CampaignID))
	if err != nil {
		fail(c, err, "Failed to sync Farcaster data")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"id":              res.User.ID,
			"username":        res.User.Username,
			"farcasterFid":    res.User.FarcasterFID,
			"engagementScore": res.User.EngagementScore,
		},
		"processing": gin.H{
			"totalCasts":            res.Casts,
			"successfullyProcessed": res.Processed,
		},
	})
}

// Profile GET /api/farcaster/sync?fid=
func (h *EngagementHandler) Profile(c *gin.Context) {
	fid := c.Query("fid")
	if fid == "" {
		RespondError(c, http.StatusBadRequest, "FID parameter is required")
		return
	}

	profile, user, err := h.svc.Lookup(c.Request.Context(), fid)
	if err != nil {
		fail(c, err, "Failed to fetch user data")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"farcasterUser": profile,
		"localUser":     user,
	})
}
