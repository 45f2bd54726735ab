package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/hikers"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/strava"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/trail"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu          sync.Mutex
	activities  []strava.ActivitySummary
	streams     map[int64]strava.Streams
	listErr     error
	streamErr   map[int64]error
	windows     []strava.Window
	tokens      []string
	streamCalls int
}

func (p *fakeProvider) FetchActivities(_ context.Context, accessToken string, window strava.Window) ([]strava.ActivitySummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windows = append(p.windows, window)
	p.tokens = append(p.tokens, accessToken)
	if p.listErr != nil {
		return nil, p.listErr
	}
	var inWindow []strava.ActivitySummary
	for _, activity := range p.activities {
		if window.Contains(activity.StartDate) {
			inWindow = append(inWindow, activity)
		}
	}
	return inWindow, nil
}

func (p *fakeProvider) FetchStreams(_ context.Context, _ string, activityID int64) (strava.Streams, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamCalls++
	if err := p.streamErr[activityID]; err != nil {
		return strava.Streams{}, err
	}
	return p.streams[activityID], nil
}

type staticTokens struct {
	token string
	err   error
	calls int
}

func (s *staticTokens) EnsureAccessToken(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.token, s.err
}

type recordingObserver struct {
	mu      sync.Mutex
	userIDs []string
	results []SyncResult
	errs    []error
}

func (o *recordingObserver) SyncFinished(userID string, result SyncResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.userIDs = append(o.userIDs, userID)
	o.results = append(o.results, result)
	o.errs = append(o.errs, err)
}

type testEnv struct {
	db       *gorm.DB
	store    *Store
	hikers   *hikers.Service
	provider *fakeProvider
	tokens   *staticTokens
	observer *recordingObserver
	trail    *trail.Trail
	userID   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tracker.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&hikers.User{}, &Activity{}, &SyncState{}, &LatestPosition{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	hikerService, err := hikers.NewService(hikers.ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("failed to create hiker service: %v", err)
	}
	user, err := hikerService.LinkAthlete(context.Background(), strava.TokenGrant{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    testNow.Add(time.Hour),
		Athlete:      strava.Athlete{ID: 4242, FirstName: "Test", LastName: "Hiker"},
	})
	if err != nil {
		t.Fatalf("failed to link athlete: %v", err)
	}
	if _, err := hikerService.UpdateSettings(context.Background(), user.UserID, hikers.Settings{StartDate: "2025-04-15"}); err != nil {
		t.Fatalf("failed to update settings: %v", err)
	}

	return &testEnv{
		db:       db,
		store:    store,
		hikers:   hikerService,
		provider: &fakeProvider{streams: map[int64]strava.Streams{}, streamErr: map[int64]error{}},
		tokens:   &staticTokens{token: "token-1"},
		observer: &recordingObserver{},
		trail:    trail.PacificCrestTrail(),
		userID:   user.UserID,
	}
}

func (e *testEnv) syncer(t *testing.T, streamGeometry bool) *Syncer {
	t.Helper()
	syncer, err := NewSyncer(SyncerConfig{
		Store:          e.store,
		Hikers:         e.hikers,
		Tokens:         e.tokens,
		Activities:     e.provider,
		Trail:          e.trail,
		StreamGeometry: streamGeometry,
		Clock:          func() time.Time { return testNow },
		Observer:       e.observer,
	})
	if err != nil {
		t.Fatalf("failed to create syncer: %v", err)
	}
	return syncer
}

func (e *testEnv) service(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{Store: e.store, Trail: e.trail})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func (e *testEnv) activityCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(&Activity{}).Where("user_id = ?", e.userID).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}

func (e *testEnv) syncState(t *testing.T) SyncState {
	t.Helper()
	state, found, err := e.store.SyncState(context.Background(), e.userID)
	if err != nil || !found {
		t.Fatalf("expected sync state (found=%v): %v", found, err)
	}
	return state
}

func summary(id int64, day int, start, end []float64) strava.ActivitySummary {
	return strava.ActivitySummary{
		ID:                 id,
		Name:               fmt.Sprintf("Day %d", day),
		StartDate:          time.Date(2025, 4, day, 14, 0, 0, 0, time.UTC),
		Distance:           30000,
		MovingTime:         28800,
		Type:               "Hike",
		TotalElevationGain: 850,
		StartLatLng:        start,
		EndLatLng:          end,
	}
}
