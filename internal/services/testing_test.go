package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"kast/internal/db"
	"kast/internal/models"
	"kast/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open("sqlite://:memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func newTestRepos(t *testing.T) (*gorm.DB, *repository.Repositories) {
	gdb := newTestDB(t)
	return gdb, repository.New(gdb)
}

func seedUser(t *testing.T, gdb *gorm.DB, fid string, followers int) *models.User {
	t.Helper()
	u := &models.User{FarcasterFID: fid, Username: "user" + fid, FollowerCount: followers}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

func seedActiveCampaign(t *testing.T, gdb *gorm.DB, title string, hashtags ...string) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		Title:     title,
		Hashtags:  hashtags,
		Status:    models.CampaignStatusActive,
		StartDate: time.Now().Add(-24 * time.Hour),
		EndDate:   time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, gdb.Create(c).Error)
	return c
}

func seedParticipant(t *testing.T, gdb *gorm.DB, u *models.User, c *models.Campaign) *models.CampaignParticipant {
	t.Helper()
	p := &models.CampaignParticipant{UserID: u.ID, CampaignID: c.ID}
	require.NoError(t, gdb.Create(p).Error)
	return p
}

// fakeHub serves canned casts and errors per fid.
type fakeHub struct {
	mu        sync.Mutex
	casts     map[string][]HubCast
	errs      map[string]error
	profiles  map[string]*Profile
	reactions map[string]Reactions
	calls     map[string]int
	block     chan struct{} // when set, GetUserCasts waits on it
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		casts:     map[string][]HubCast{},
		errs:      map[string]error{},
		profiles:  map[string]*Profile{},
		reactions: map[string]Reactions{},
		calls:     map[string]int{},
	}
}

func (h *fakeHub) callCount(fid string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[fid]
}

func (h *fakeHub) GetUserProfile(_ context.Context, fid string) (*Profile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.profiles[fid]
	if !ok {
		return nil, ErrHubNotFound
	}
	return p, nil
}

func (h *fakeHub) GetUserCasts(ctx context.Context, fid string, _ int) ([]HubCast, error) {
	h.mu.Lock()
	h.calls[fid]++
	block := h.block
	casts, err := h.casts[fid], h.errs[fid]
	h.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return casts, err
}

func (h *fakeHub) GetCast(_ context.Context, hash string) (*HubCast, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, casts := range h.casts {
		for i := range casts {
			if casts[i].Hash == hash {
				c := casts[i]
				return &c, nil
			}
		}
	}
	return nil, ErrHubNotFound
}

func (h *fakeHub) GetCastReactions(_ context.Context, hash string) (Reactions, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reactions[hash], nil
}

func (h *fakeHub) ExchangeAuthCode(_ context.Context, code, _ string) (*Profile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.profiles["code:"+code]
	if !ok {
		return nil, &HubError{StatusCode: 401, Body: "invalid code"}
	}
	return p, nil
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:   10,
		Interval:    time.Hour,
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
		CastLimit:   50,
		Concurrency: 4,
	}
}

var testLogger = zap.NewNop()

func repositoryIncrement(userID uint, amount float64) repository.Increment {
	return repository.Increment{UserID: userID, Action: repository.ActionCastScored, UserAmount: amount}
}
