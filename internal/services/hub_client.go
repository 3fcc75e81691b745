package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrHubNotFound = errors.New("not found on hub")

// HubError is a non-2xx response from the social graph API.
type HubError struct {
	StatusCode int
	Body       string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub request failed: status %d: %s", e.StatusCode, e.Body)
}

// Profile is a Farcaster user as reported by the hub.
type Profile struct {
	FID            string   `json:"fid"`
	Username       string   `json:"username"`
	DisplayName    string   `json:"displayName"`
	Bio            string   `json:"bio"`
	PfpURL         string   `json:"pfpUrl"`
	FollowerCount  int      `json:"followerCount"`
	FollowingCount int      `json:"followingCount"`
	CustodyAddress string   `json:"custodyAddress"`
	Verifications  []string `json:"verifications"`
}

// HubCast is a cast with its reaction counts.
type HubCast struct {
	Hash            string    `json:"hash"`
	AuthorFID       string    `json:"authorFid"`
	AuthorFollowers int       `json:"authorFollowers"`
	Text            string    `json:"text"`
	Timestamp       time.Time `json:"timestamp"`
	Likes           int       `json:"likes"`
	Recasts         int       `json:"recasts"`
	Replies         int       `json:"replies"`
}

type Reactions struct {
	Likes   int `json:"likes"`
	Recasts int `json:"recasts"`
	Replies int `json:"replies"`
}

// HubClient is the read side of the social graph used by scoring and sync.
type HubClient interface {
	GetUserProfile(ctx context.Context, fid string) (*Profile, error)
	GetUserCasts(ctx context.Context, fid string, limit int) ([]HubCast, error)
	GetCast(ctx context.Context, hash string) (*HubCast, error)
	GetCastReactions(ctx context.Context, hash string) (Reactions, error)
	// ExchangeAuthCode trades a sign-in authorization code for the signed-in profile.
	ExchangeAuthCode(ctx context.Context, code, redirectURI string) (*Profile, error)
}

type HubConfig struct {
	BaseURL         string
	APIKey          string
	ClientID        string
	RateLimit       float64 // requests per second, 0 disables limiting
	Timeout         time.Duration
	ProfileCacheTTL time.Duration
}

// NeynarClient talks to the Neynar v2 HTTP API.
type NeynarClient struct {
	cfg      HubConfig
	http     *http.Client
	limiter  *rate.Limiter
	profiles *expirable.LRU[string, *Profile]
	logger   *zap.Logger
}

func NewNeynarClient(cfg HubConfig, logger *zap.Logger) *NeynarClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ProfileCacheTTL <= 0 {
		cfg.ProfileCacheTTL = 10 * time.Minute
	}

	var lim *rate.Limiter
	if cfg.RateLimit > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &NeynarClient{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  lim,
		profiles: expirable.NewLRU[string, *Profile](1000, nil, cfg.ProfileCacheTTL),
		logger:   logger.Named("hub"),
	}
}

// wire formats
type neynarUser struct {
	FID            int64    `json:"fid"`
	Username       string   `json:"username"`
	DisplayName    string   `json:"display_name"`
	PfpURL         string   `json:"pfp_url"`
	CustodyAddress string   `json:"custody_address"`
	FollowerCount  int      `json:"follower_count"`
	FollowingCount int      `json:"following_count"`
	Verifications  []string `json:"verifications"`
	Profile        struct {
		Bio struct {
			Text string `json:"text"`
		} `json:"bio"`
	} `json:"profile"`
}

func (u *neynarUser) toProfile() *Profile {
	verifications := u.Verifications
	if verifications == nil {
		verifications = []string{}
	}
	return &Profile{
		FID:            strconv.FormatInt(u.FID, 10),
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		Bio:            u.Profile.Bio.Text,
		PfpURL:         u.PfpURL,
		FollowerCount:  u.FollowerCount,
		FollowingCount: u.FollowingCount,
		CustodyAddress: u.CustodyAddress,
		Verifications:  verifications,
	}
}

type neynarCast struct {
	Hash      string     `json:"hash"`
	Author    neynarUser `json:"author"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
	Reactions struct {
		LikesCount   int `json:"likes_count"`
		RecastsCount int `json:"recasts_count"`
	} `json:"reactions"`
	Replies struct {
		Count int `json:"count"`
	} `json:"replies"`
}

func (c *neynarCast) toHubCast() HubCast {
	return HubCast{
		Hash:            c.Hash,
		AuthorFID:       strconv.FormatInt(c.Author.FID, 10),
		AuthorFollowers: c.Author.FollowerCount,
		Text:            c.Text,
		Timestamp:       c.Timestamp,
		Likes:           c.Reactions.LikesCount,
		Recasts:         c.Reactions.RecastsCount,
		Replies:         c.Replies.Count,
	}
}

func (c *NeynarClient) GetUserProfile(ctx context.Context, fid string) (*Profile, error) {
	if p, ok := c.profiles.Get(fid); ok {
		return p, nil
	}

	var resp struct {
		Users []neynarUser `json:"users"`
	}
	q := url.Values{"fids": {fid}}
	if err := c.get(ctx, "/v2/farcaster/user/bulk", q, &resp); err != nil {
		return nil, fmt.Errorf("get user %s: %w", fid, err)
	}
	if len(resp.Users) == 0 {
		return nil, fmt.Errorf("get user %s: %w", fid, ErrHubNotFound)
	}

	p := resp.Users[0].toProfile()
	c.profiles.Add(fid, p)
	return p, nil
}

func (c *NeynarClient) GetUserCasts(ctx context.Context, fid string, limit int) ([]HubCast, error) {
	var resp struct {
		Casts []neynarCast `json:"casts"`
	}
	q := url.Values{
		"fid":   {fid},
		"limit": {strconv.Itoa(limit)},
	}
	if err := c.get(ctx, "/v2/farcaster/feed/user/casts", q, &resp); err != nil {
		return nil, fmt.Errorf("get casts for %s: %w", fid, err)
	}

	casts := make([]HubCast, 0, len(resp.Casts))
	for i := range resp.Casts {
		casts = append(casts, resp.Casts[i].toHubCast())
	}
	return casts, nil
}

func (c *NeynarClient) GetCast(ctx context.Context, hash string) (*HubCast, error) {
	var resp struct {
		Cast *neynarCast `json:"cast"`
	}
	q := url.Values{
		"identifier": {hash},
		"type":       {"hash"},
	}
	if err := c.get(ctx, "/v2/farcaster/cast", q, &resp); err != nil {
		return nil, fmt.Errorf("get cast %s: %w", hash, err)
	}
	if resp.Cast == nil {
		return nil, fmt.Errorf("get cast %s: %w", hash, ErrHubNotFound)
	}
	hc := resp.Cast.toHubCast()
	return &hc, nil
}

func (c *NeynarClient) GetCastReactions(ctx context.Context, hash string) (Reactions, error) {
	cast, err := c.GetCast(ctx, hash)
	if err != nil {
		return Reactions{}, err
	}
	return Reactions{Likes: cast.Likes, Recasts: cast.Recasts, Replies: cast.Replies}, nil
}

func (c *NeynarClient) ExchangeAuthCode(ctx context.Context, code, redirectURI string) (*Profile, error) {
	body := map[string]string{
		"client_id":    c.cfg.ClientID,
		"code":         code,
		"grant_type":   "authorization_code",
		"redirect_uri": redirectURI,
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/farcaster/auth/token", nil, body, "Bearer "+c.cfg.APIKey, &token); err != nil {
		return nil, fmt.Errorf("exchange auth code: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("exchange auth code: empty access token")
	}

	var me neynarUser
	if err := c.do(ctx, http.MethodGet, "/v2/farcaster/me", nil, nil, "Bearer "+token.AccessToken, &me); err != nil {
		return nil, fmt.Errorf("get signed-in user: %w", err)
	}
	return me.toProfile(), nil
}

func (c *NeynarClient) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, "", out)
}

// do sends one request. An empty auth uses the API key header.
func (c *NeynarClient) do(ctx context.Context, method, path string, q url.Values, body any, auth string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	} else {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrHubNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("hub request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return &HubError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
