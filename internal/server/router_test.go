package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/auth"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/database"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/hikers"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/scheduler"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/strava"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/tracker"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/trail"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/updates"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testSigningSecret = "router-secret"
	testCronSecret    = "cron-secret"
	jsonContentType   = "application/json"
)

var routerNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type stubOAuth struct {
	grant     strava.TokenGrant
	err       error
	exchanged []string
}

func (s *stubOAuth) AuthorizeURL(state string) string {
	return "https://provider.example.com/oauth/authorize?state=" + url.QueryEscape(state)
}

func (s *stubOAuth) ExchangeCode(_ context.Context, code string) (strava.TokenGrant, error) {
	s.exchanged = append(s.exchanged, code)
	return s.grant, s.err
}

type stubSyncer struct {
	result tracker.SyncResult
	err    error
	calls  []string
}

func (s *stubSyncer) SyncUser(_ context.Context, userID string) (tracker.SyncResult, error) {
	s.calls = append(s.calls, userID)
	return s.result, s.err
}

type stubBatch struct {
	calls int
}

func (s *stubBatch) RunBatch(context.Context) (scheduler.BatchResult, error) {
	s.calls++
	return scheduler.BatchResult{
		Users:     []scheduler.UserOutcome{{UserID: "user-a", Added: 2}, {UserID: "user-b", Error: "provider returned status 500"}},
		Succeeded: 1,
		Failed:    1,
	}, nil
}

type routerEnv struct {
	handler  http.Handler
	oauth    *stubOAuth
	syncer   *stubSyncer
	batch    *stubBatch
	realtime *RealtimeDispatcher
	hikers   *hikers.Service
	store    *tracker.Store
	issuer   *auth.SessionIssuer
	user     hikers.User
}

func newRouterEnv(t *testing.T, logger *zap.Logger) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Options{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "router.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	clock := func() time.Time { return routerNow }

	hikerService, err := hikers.NewService(hikers.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build hiker service: %v", err)
	}
	store, err := tracker.NewStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	trackerService, err := tracker.NewService(tracker.ServiceConfig{Store: store, Trail: trail.PacificCrestTrail()})
	if err != nil {
		t.Fatalf("failed to build tracker service: %v", err)
	}
	updateService, err := updates.NewService(updates.ServiceConfig{Database: db, IDProvider: hikers.NewUUIDProvider(), Clock: clock})
	if err != nil {
		t.Fatalf("failed to build updates service: %v", err)
	}
	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{SigningSecret: []byte(testSigningSecret), Clock: clock})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: []byte(testSigningSecret), Clock: clock})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}

	user, err := hikerService.LinkAthlete(context.Background(), strava.TokenGrant{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    routerNow.Add(time.Hour),
		Athlete:      strava.Athlete{ID: 501, FirstName: "Scout", LastName: "Walker"},
	})
	if err != nil {
		t.Fatalf("failed to link hiker: %v", err)
	}

	env := &routerEnv{
		oauth: &stubOAuth{grant: strava.TokenGrant{
			AccessToken:  "fresh-access",
			RefreshToken: "fresh-refresh",
			ExpiresAt:    routerNow.Add(6 * time.Hour),
			Athlete:      strava.Athlete{ID: 502, FirstName: "Trail", LastName: "Angel"},
		}},
		syncer:   &stubSyncer{result: tracker.SyncResult{Added: 2, Skipped: 1}},
		batch:    &stubBatch{},
		realtime: NewRealtimeDispatcher(),
		hikers:   hikerService,
		store:    store,
		issuer:   issuer,
		user:     user,
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handler, err := NewHTTPHandler(Dependencies{
		OAuth:             env.oauth,
		SessionIssuer:     issuer,
		SessionValidator:  validator,
		Hikers:            hikerService,
		Tracker:           trackerService,
		Syncer:            env.syncer,
		Batch:             env.batch,
		Updates:           updateService,
		Realtime:          env.realtime,
		CronSecret:        testCronSecret,
		HeartbeatInterval: time.Hour,
		Clock:             clock,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	env.handler = handler
	return env
}

func (e *routerEnv) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	token, _, err := e.issuer.Issue(e.user.UserID, e.user.DisplayName)
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}
	return &http.Cookie{Name: auth.DefaultSessionCookieName, Value: token}
}

func (e *routerEnv) serve(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func (e *routerEnv) postJSON(t *testing.T, path string, body any, withSession bool) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	request.Header.Set("Content-Type", jsonContentType)
	if withSession {
		request.AddCookie(e.sessionCookie(t))
	}
	return e.serve(request)
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
	}
}

func cookieNamed(cookies []*http.Cookie, name string) *http.Cookie {
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingOAuthProvider) {
		t.Fatalf("expected missing oauth provider error, got %v", err)
	}
}

func TestAuthFlowLinksHikerAndSetsSession(t *testing.T) {
	env := newRouterEnv(t, nil)

	start := env.serve(httptest.NewRequest(http.MethodGet, "/auth/strava", http.NoBody))
	if start.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", start.Code)
	}
	stateCookie := cookieNamed(start.Result().Cookies(), oauthStateCookieName)
	if stateCookie == nil || stateCookie.Value == "" {
		t.Fatalf("expected state cookie to be set")
	}
	location, err := url.Parse(start.Header().Get("Location"))
	if err != nil || location.Query().Get("state") != stateCookie.Value {
		t.Fatalf("expected redirect to carry the state, got %q", start.Header().Get("Location"))
	}

	callback := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(stateCookie.Value), http.NoBody)
	callback.AddCookie(stateCookie)
	response := env.serve(callback)
	if response.Code != http.StatusFound || response.Header().Get("Location") != dashboardPath {
		t.Fatalf("expected dashboard redirect, got %d %q", response.Code, response.Header().Get("Location"))
	}
	if len(env.oauth.exchanged) != 1 || env.oauth.exchanged[0] != "abc" {
		t.Fatalf("expected the code to be exchanged once, got %v", env.oauth.exchanged)
	}
	session := cookieNamed(response.Result().Cookies(), auth.DefaultSessionCookieName)
	if session == nil || session.Value == "" || !session.HttpOnly {
		t.Fatalf("expected an http-only session cookie, got %+v", session)
	}

	me := httptest.NewRequest(http.MethodGet, "/me", http.NoBody)
	me.AddCookie(session)
	profile := env.serve(me)
	if profile.Code != http.StatusOK {
		t.Fatalf("expected profile, got %d %s", profile.Code, profile.Body.String())
	}
	var payload hikerResponsePayload
	decodeBody(t, profile, &payload)
	if payload.Slug != "trail-angel" || payload.Direction != "NOBO" || payload.Sync == nil || payload.Sync.Status != "idle" {
		t.Fatalf("unexpected profile %+v", payload)
	}
}

func TestAuthCallbackRejectsStateMismatch(t *testing.T) {
	env := newRouterEnv(t, nil)
	request := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=forged", http.NoBody)
	request.AddCookie(&http.Cookie{Name: oauthStateCookieName, Value: "expected"})
	response := env.serve(request)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.Code)
	}
	if len(env.oauth.exchanged) != 0 {
		t.Fatalf("expected no code exchange on state mismatch")
	}

	denied := env.serve(httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied", http.NoBody))
	if denied.Code != http.StatusFound || denied.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect home when consent is denied, got %d", denied.Code)
	}
}

func TestAuthCallbackReportsExchangeFailure(t *testing.T) {
	env := newRouterEnv(t, nil)
	env.oauth.err = &strava.StatusError{Operation: "strava.exchange_code", StatusCode: http.StatusUnauthorized}
	request := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=s", http.NoBody)
	request.AddCookie(&http.Cookie{Name: oauthStateCookieName, Value: "s"})
	response := env.serve(request)
	if response.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", response.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newRouterEnv(t, nil)
	for _, path := range []string{"/sync", "/settings", "/updates"} {
		response := env.postJSON(t, path, map[string]string{}, false)
		if response.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", path, response.Code)
		}
		var body map[string]string
		decodeBody(t, response, &body)
		if body["error"] != "unauthorized" {
			t.Fatalf("unexpected error body %v", body)
		}
	}
	if len(env.syncer.calls) != 0 {
		t.Fatalf("expected no sync without a session")
	}
}

func TestRequireSessionLogsExpiredTokenAtInfoLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	env := newRouterEnv(t, zap.New(core))

	expired, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TTL:           time.Minute,
		Clock:         func() time.Time { return routerNow.Add(-time.Hour) },
	})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	token, _, err := expired.Issue(env.user.UserID, "")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, "/sync", http.NoBody)
	request.AddCookie(&http.Cookie{Name: auth.DefaultSessionCookieName, Value: token})
	response := env.serve(request)
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.Code)
	}

	entries := logs.FilterMessage("session validation failed").All()
	if len(entries) != 1 || entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected one info entry for the expired session, got %+v", entries)
	}
}

func TestSyncEndpoint(t *testing.T) {
	env := newRouterEnv(t, nil)

	response := env.postJSON(t, "/sync", map[string]string{}, true)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", response.Code, response.Body.String())
	}
	var result tracker.SyncResult
	decodeBody(t, response, &result)
	if result.Added != 2 || result.Skipped != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(env.syncer.calls) != 1 || env.syncer.calls[0] != env.user.UserID {
		t.Fatalf("expected a sync for the session hiker, got %v", env.syncer.calls)
	}

	env.syncer.err = tracker.ErrSyncInProgress
	conflict := env.postJSON(t, "/sync", map[string]string{}, true)
	if conflict.Code != http.StatusConflict {
		t.Fatalf("expected 409 while another sync runs, got %d", conflict.Code)
	}

	env.syncer.err = errors.New("boom")
	failed := env.postJSON(t, "/sync", map[string]string{}, true)
	if failed.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", failed.Code)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	env := newRouterEnv(t, nil)

	response := env.postJSON(t, "/settings", map[string]any{
		"hike_start_date": "2025-04-20",
		"hike_end_date":   "2025-09-30",
		"direction":       "SOBO",
		"lighterpack_url": "https://lighterpack.com/r/abc",
	}, true)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", response.Code, response.Body.String())
	}

	// Omitted optional fields keep their stored values.
	response = env.postJSON(t, "/settings", map[string]any{"hike_start_date": "2025-04-21"}, true)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", response.Code, response.Body.String())
	}
	var payload hikerResponsePayload
	decodeBody(t, response, &payload)
	if payload.HikeEndDate == nil || *payload.HikeEndDate != "2025-09-30" || payload.Direction != "SOBO" || payload.LighterpackURL != "abc" {
		t.Fatalf("expected omitted fields to persist, got %+v", payload)
	}

	cleared := env.postJSON(t, "/settings", map[string]any{"hike_start_date": "2025-04-21", "hike_end_date": ""}, true)
	decodeBody(t, cleared, &payload)
	if payload.HikeEndDate != nil {
		t.Fatalf("expected an empty end date to clear it, got %q", *payload.HikeEndDate)
	}

	for _, body := range []map[string]any{
		{},
		{"hike_start_date": "not-a-date"},
		{"hike_start_date": "2025-04-21", "hike_end_date": "2025-04-01"},
		{"hike_start_date": "2025-04-21", "direction": "EAST"},
	} {
		rejected := env.postJSON(t, "/settings", body, true)
		if rejected.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", body, rejected.Code)
		}
	}
}

func TestPublicReadEndpoints(t *testing.T) {
	env := newRouterEnv(t, nil)
	slug := env.user.Slug

	empty := env.serve(httptest.NewRequest(http.MethodGet, "/latest/"+slug, http.NoBody))
	var latest latestResponsePayload
	decodeBody(t, empty, &latest)
	if empty.Code != http.StatusOK || latest.Lat != 0 || latest.Timestamp != "" || latest.Direction != "NOBO" {
		t.Fatalf("unexpected empty latest %d %+v", empty.Code, latest)
	}

	activityDate := time.Date(2025, 4, 28, 14, 0, 0, 0, time.UTC)
	if err := env.store.UpsertLatestPosition(context.Background(), &tracker.LatestPosition{
		UserID:              env.user.UserID,
		Lat:                 37.66,
		Lon:                 -119.03,
		ActivityDateSeconds: activityDate.Unix(),
		UpdatedAtSeconds:    routerNow.Unix(),
	}); err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}

	response := env.serve(httptest.NewRequest(http.MethodGet, "/latest/"+slug, http.NoBody))
	decodeBody(t, response, &latest)
	if latest.Lat != 37.66 || latest.Timestamp != "2025-04-28T14:00:00Z" {
		t.Fatalf("unexpected latest %+v", latest)
	}
	if response.Header().Get("Cache-Control") != publicCacheControl {
		t.Fatalf("expected public caching, got %q", response.Header().Get("Cache-Control"))
	}

	split := env.serve(httptest.NewRequest(http.MethodGet, "/trail/"+slug+"/split?direction=sobo", http.NoBody))
	var splitPayload splitResponsePayload
	decodeBody(t, split, &splitPayload)
	waypoints := trail.PacificCrestTrail().Waypoints()
	if splitPayload.Direction != "SOBO" || splitPayload.Position == nil {
		t.Fatalf("unexpected split %+v", splitPayload)
	}
	if len(splitPayload.Completed)+len(splitPayload.Remaining) != len(waypoints)+1 {
		t.Fatalf("expected halves to share the split waypoint, got %d + %d", len(splitPayload.Completed), len(splitPayload.Remaining))
	}
	last := waypoints[len(waypoints)-1]
	if splitPayload.Completed[len(splitPayload.Completed)-1] != [2]float64{last.Lon, last.Lat} {
		t.Fatalf("expected southbound completed half to end at the northern terminus")
	}

	invalid := env.serve(httptest.NewRequest(http.MethodGet, "/trail/"+slug+"/split?direction=west", http.NoBody))
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown direction, got %d", invalid.Code)
	}

	stats := env.serve(httptest.NewRequest(http.MethodGet, "/stats/"+slug, http.NoBody))
	var statsPayload tracker.Stats
	decodeBody(t, stats, &statsPayload)
	if stats.Code != http.StatusOK || statsPayload.ActivityCount != 0 {
		t.Fatalf("unexpected stats %d %+v", stats.Code, statsPayload)
	}

	tracks := env.serve(httptest.NewRequest(http.MethodGet, "/tracks/"+slug, http.NoBody))
	if tracks.Code != http.StatusOK || !strings.Contains(tracks.Body.String(), `"FeatureCollection"`) {
		t.Fatalf("unexpected tracks %d %s", tracks.Code, tracks.Body.String())
	}

	for _, path := range []string{"/latest/nobody", "/stats/nobody", "/tracks/nobody", "/trail/nobody/split", "/updates/nobody", "/stream/nobody"} {
		missing := env.serve(httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if missing.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d", path, missing.Code)
		}
	}
}

func TestUpdatesEndpoints(t *testing.T) {
	env := newRouterEnv(t, nil)

	created := env.postJSON(t, "/updates", map[string]any{"action": "create", "title": "Day 1", "body": "Left Campo.", "lat": 32.59, "lon": -116.47}, true)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", created.Code, created.Body.String())
	}
	var update updatePayload
	decodeBody(t, created, &update)
	if update.ID == "" || update.Title != "Day 1" || update.CreatedAt != "2025-05-01T12:00:00Z" {
		t.Fatalf("unexpected update %+v", update)
	}

	edited := env.postJSON(t, "/updates", map[string]any{"action": "update", "id": update.ID, "title": "Day 1!", "body": "Left Campo at dawn."}, true)
	if edited.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", edited.Code, edited.Body.String())
	}

	listed := env.serve(httptest.NewRequest(http.MethodGet, "/updates/"+env.user.Slug, http.NoBody))
	var updatesList []updatePayload
	decodeBody(t, listed, &updatesList)
	if len(updatesList) != 1 || updatesList[0].Title != "Day 1!" || updatesList[0].Lat != nil {
		t.Fatalf("unexpected list %+v", updatesList)
	}

	tooLong := env.postJSON(t, "/updates", map[string]any{"action": "create", "title": "x", "body": strings.Repeat("b", updates.MaxBodyLength+1)}, true)
	if tooLong.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an oversized body, got %d", tooLong.Code)
	}
	unknown := env.postJSON(t, "/updates", map[string]any{"action": "publish"}, true)
	if unknown.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown action, got %d", unknown.Code)
	}
	missing := env.postJSON(t, "/updates", map[string]any{"action": "delete", "id": "nope"}, true)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing update, got %d", missing.Code)
	}

	deleted := env.postJSON(t, "/updates", map[string]any{"action": "delete", "id": update.ID}, true)
	if deleted.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", deleted.Code)
	}
}

func TestCronSyncRequiresSecret(t *testing.T) {
	env := newRouterEnv(t, nil)

	for _, header := range []string{"", "Bearer wrong", testCronSecret} {
		request := httptest.NewRequest(http.MethodGet, "/cron/sync", http.NoBody)
		if header != "" {
			request.Header.Set("Authorization", header)
		}
		if response := env.serve(request); response.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %q, got %d", header, response.Code)
		}
	}
	if env.batch.calls != 0 {
		t.Fatalf("expected no batch without the secret")
	}

	request := httptest.NewRequest(http.MethodGet, "/cron/sync", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+testCronSecret)
	response := env.serve(request)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	var body struct {
		Synced  int                     `json:"synced"`
		Failed  int                     `json:"failed"`
		Results []scheduler.UserOutcome `json:"results"`
	}
	decodeBody(t, response, &body)
	if body.Synced != 2 || body.Failed != 1 || body.Results[1].Error == "" {
		t.Fatalf("unexpected batch body %+v", body)
	}
}

func TestCORSAllowsConfiguredOriginsWithCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{"https://pct.example.com"}))
	router.OPTIONS("/settings", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/settings", http.NoBody)
	request.Header.Set("Origin", "https://pct.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://pct.example.com" {
		t.Fatalf("unexpected allowed origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestStreamEmitsSyncFinishedEvents(t *testing.T) {
	env := newRouterEnv(t, nil)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/stream/"+env.user.Slug, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", response.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.realtime.subscriberCount(env.user.UserID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	env.realtime.SyncFinished(env.user.UserID, tracker.SyncResult{Added: 4, Skipped: 2}, nil)

	type readResult struct {
		line string
		err  error
	}
	lines := make(chan readResult, 16)
	go func() {
		reader := bufio.NewReader(response.Body)
		for {
			line, err := reader.ReadString('\n')
			lines <- readResult{line: line, err: err}
			if err != nil {
				return
			}
		}
	}()

	currentEventType := ""
	timeout := time.After(5 * time.Second)
	for {
		select {
		case <-timeout:
			t.Fatal("timed out waiting for realtime event")
		case res := <-lines:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != RealtimeEventSyncFinished {
				continue
			}
			var payload realtimeEventPayload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.Added != 4 || payload.Skipped != 2 || payload.Status != realtimeStatusOK {
				t.Fatalf("unexpected event payload %+v", payload)
			}
			return
		}
	}
}
