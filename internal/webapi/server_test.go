package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/leotyps/jkt48connect/internal/changelog"
	"github.com/leotyps/jkt48connect/internal/jkt48api"
	"github.com/leotyps/jkt48connect/internal/metrics"
	"github.com/leotyps/jkt48connect/internal/store/gormstore"
	"github.com/leotyps/jkt48connect/pkg/chat"
	"github.com/leotyps/jkt48connect/pkg/checkout"
)

const (
	testSigningKey = "secret-key"
	testAdminEmail = "admin@example.com"
	testOrigin     = "http://localhost:3000"
)

type stubGateway struct {
	mutex sync.Mutex
	paid  bool
}

func (gateway *stubGateway) CreatePayment(context.Context, checkout.Amount) (string, error) {
	return "https://qris.example/qr.png", nil
}

func (gateway *stubGateway) CheckStatus(context.Context, checkout.Amount) (checkout.PaymentStatus, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	if gateway.paid {
		return checkout.PaymentStatus{Paid: true, Reference: "ref-1"}, nil
	}
	return checkout.PaymentStatus{}, nil
}

type failingGateway struct{}

func (failingGateway) CreatePayment(context.Context, checkout.Amount) (string, error) {
	return "", errors.New("gateway down")
}

func (failingGateway) CheckStatus(context.Context, checkout.Amount) (checkout.PaymentStatus, error) {
	return checkout.PaymentStatus{}, nil
}

type stubFulfiller struct{}

func (stubFulfiller) Fulfill(_ context.Context, session checkout.Session) (checkout.Fulfillment, error) {
	return checkout.Fulfillment{Reference: "donation-1", Details: map[string]any{"name": session.Owner.Name}}, nil
}

type stubSessions struct {
	sessions map[string]checkout.Session
}

func (store stubSessions) GetSession(_ context.Context, sessionID string) (checkout.Session, error) {
	session, ok := store.sessions[sessionID]
	if !ok {
		return checkout.Session{}, checkout.ErrSessionNotFound
	}
	return session, nil
}

type stubCatalog struct {
	err error
}

func (catalog stubCatalog) Members(context.Context) ([]jkt48api.Member, error) {
	if catalog.err != nil {
		return nil, catalog.err
	}
	return []jkt48api.Member{{ID: "m1", Name: "Freya Jayawardana"}}, nil
}

func (catalog stubCatalog) MemberDetail(_ context.Context, name string) (jkt48api.MemberDetail, error) {
	if name != "freya" {
		return jkt48api.MemberDetail{}, jkt48api.StatusError{Path: "/api/jkt48/member/" + name, StatusCode: http.StatusNotFound}
	}
	return jkt48api.MemberDetail{Member: jkt48api.Member{Name: "Freya Jayawardana"}}, nil
}

func (catalog stubCatalog) Theater(context.Context) ([]jkt48api.TheaterShow, error) {
	return []jkt48api.TheaterShow{}, catalog.err
}

func (catalog stubCatalog) Events(context.Context) ([]jkt48api.Event, error) {
	return []jkt48api.Event{}, catalog.err
}

func (catalog stubCatalog) Live(context.Context) ([]jkt48api.LiveStream, error) {
	return []jkt48api.LiveStream{}, catalog.err
}

func (catalog stubCatalog) Birthday(context.Context) ([]jkt48api.Birthday, error) {
	return []jkt48api.Birthday{}, catalog.err
}

func (catalog stubCatalog) TheaterDetail(_ context.Context, id string) (jkt48api.TheaterDetail, error) {
	if id != "show-1" {
		return jkt48api.TheaterDetail{}, jkt48api.StatusError{Path: "/api/jkt48/theater/" + id, StatusCode: http.StatusNotFound}
	}
	return jkt48api.TheaterDetail{}, catalog.err
}

func (catalog stubCatalog) Recent(context.Context) ([]jkt48api.RecentLive, error) {
	return []jkt48api.RecentLive{}, catalog.err
}

func (catalog stubCatalog) RecentDetail(_ context.Context, id string) (jkt48api.RecentDetail, error) {
	return jkt48api.RecentDetail{}, catalog.err
}

func (catalog stubCatalog) Replay(_ context.Context, page int) ([]jkt48api.Replay, error) {
	if page > 10 {
		return nil, errors.New("upstream unavailable")
	}
	return []jkt48api.Replay{}, catalog.err
}

func (catalog stubCatalog) YouTube(context.Context) ([]jkt48api.YouTubeVideo, error) {
	return []jkt48api.YouTubeVideo{}, catalog.err
}

type stubAdmin struct{}

func (stubAdmin) Stats(context.Context) (jkt48api.AdminStats, error) {
	return jkt48api.AdminStats{TotalKeys: 12, ActiveKeys: 9}, nil
}

func (stubAdmin) KeyDetail(_ context.Context, apiKey string) (jkt48api.APIKeyDetail, error) {
	if apiKey != "jkt48-key" {
		return jkt48api.APIKeyDetail{}, jkt48api.StatusError{Path: "/api/admin/keys/" + apiKey, StatusCode: http.StatusNotFound}
	}
	return jkt48api.APIKeyDetail{APIKey: apiKey, Owner: "Zee", Limit: 1000}, nil
}

type stubDataChangelogs struct {
	mutex   sync.Mutex
	entries map[string]jkt48api.Changelog
}

func newStubDataChangelogs() *stubDataChangelogs {
	return &stubDataChangelogs{entries: map[string]jkt48api.Changelog{
		"cl-1": {ID: "cl-1", Title: "Theater schedule", Version: "1.0.0", Type: "feature"},
	}}
}

func (store *stubDataChangelogs) Changelogs(context.Context) ([]jkt48api.Changelog, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	changelogs := make([]jkt48api.Changelog, 0, len(store.entries))
	for _, entry := range store.entries {
		changelogs = append(changelogs, entry)
	}
	return changelogs, nil
}

func (store *stubDataChangelogs) UpdateChangelog(_ context.Context, id string, input jkt48api.ChangelogInput) (jkt48api.Changelog, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry, ok := store.entries[id]
	if !ok {
		return jkt48api.Changelog{}, jkt48api.StatusError{Path: "/api/database/changelogs/" + id, StatusCode: http.StatusNotFound}
	}
	entry.Title, entry.Version, entry.Description, entry.Type = input.Title, input.Version, input.Description, input.Type
	store.entries[id] = entry
	return entry, nil
}

func (store *stubDataChangelogs) DeleteChangelog(_ context.Context, id string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, ok := store.entries[id]; !ok {
		return jkt48api.StatusError{Path: "/api/database/changelogs/" + id, StatusCode: http.StatusNotFound}
	}
	delete(store.entries, id)
	return nil
}

type scriptedRelay struct {
	release chan struct{}
}

func (relay *scriptedRelay) Run(ctx context.Context, sink chat.Sink) error {
	select {
	case <-relay.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	sink.Push(chat.Message{ID: "c1", Provider: chat.ProviderIDN, Author: "fan", Text: "halo"})
	<-ctx.Done()
	return ctx.Err()
}

func (relay *scriptedRelay) Connected() bool {
	return true
}

type testServer struct {
	server    *httptest.Server
	registry  *Registry
	gateway   *stubGateway
	collector *metrics.Collector
	relay     *scriptedRelay
	cfg       Config
}

func newTestServer(test *testing.T, gateway checkout.Gateway, retention time.Duration) *testServer {
	test.Helper()
	cfg := Config{
		AllowedOrigins:    []string{testOrigin},
		SessionSigningKey: testSigningKey,
		AdminEmails:       []string{testAdminEmail},
		SessionRetention:  retention,
		CheckoutBurst:     100,
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("config: %v", err)
	}

	reserver := checkout.NewMemoryReserver(nil)
	registry, err := NewRegistry(func(id string) (*checkout.Controller, error) {
		return checkout.NewController(id, gateway, stubFulfiller{}, checkout.SystemClock{},
			checkout.WithTimers(checkout.DefaultCountdownSeconds, time.Second, 10*time.Millisecond),
			checkout.WithTotalReserver(reserver),
		)
	}, cfg.SessionRetention)
	if err != nil {
		test.Fatalf("registry: %v", err)
	}
	test.Cleanup(registry.Close)

	relay := &scriptedRelay{release: make(chan struct{})}
	hub, err := chat.NewHub(func(chat.Provider, string) (chat.Relay, error) {
		return relay, nil
	})
	if err != nil {
		test.Fatalf("hub: %v", err)
	}
	test.Cleanup(hub.Close)

	service, err := changelog.NewService(gormstore.New(mustOpenDatabase(test)), nil)
	if err != nil {
		test.Fatalf("changelog service: %v", err)
	}

	collector := metrics.New()
	deps := Dependencies{
		Checkouts: registry,
		Sessions: stubSessions{sessions: map[string]checkout.Session{
			"stored-1": {ID: "stored-1", Kind: checkout.KindAPIKey, Status: checkout.StatusSuccess, Amount: 5000, Fee: 100, Total: 5100},
		}},
		Chat:       hub,
		Changelogs: service,
		Catalog:        stubCatalog{},
		Admin:          stubAdmin{},
		DataChangelogs: newStubDataChangelogs(),
		Metrics:        collector,
		Readiness: map[string]ReadinessCheck{
			"database": func(context.Context) error { return nil },
		},
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		test.Fatalf("validator init failed: %v", err)
	}
	router := setupRouter(cfg, newHTTPHandler(cfg, deps, zap.NewNop()), validator)
	server := httptest.NewServer(router)
	test.Cleanup(server.Close)

	stub, _ := gateway.(*stubGateway)
	return &testServer{server: server, registry: registry, gateway: stub, collector: collector, relay: relay, cfg: cfg}
}

func mustOpenDatabase(test *testing.T) *gorm.DB {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/jkt48connect.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	return db
}

func buildSessionCookie(test *testing.T, cfg Config, email string) *http.Cookie {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          "admin-user",
		UserEmail:       email,
		UserDisplayName: "Admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.SessionSigningKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: cfg.SessionCookieName, Value: signed}
}

func doRequest(test *testing.T, server *httptest.Server, method string, path string, cookie *http.Cookie, payload any) (int, map[string]json.RawMessage) {
	test.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			test.Fatalf("marshal failed: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, server.URL+path, body)
	if err != nil {
		test.Fatalf("request init failed: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		test.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	envelope := map[string]json.RawMessage{}
	if response.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil && !errors.Is(err, io.EOF) {
			test.Fatalf("failed to decode response: %v", err)
		}
	}
	return response.StatusCode, envelope
}

func decodeCheckout(test *testing.T, envelope map[string]json.RawMessage) sessionPayload {
	test.Helper()
	var payload sessionPayload
	if err := json.Unmarshal(envelope["checkout"], &payload); err != nil {
		test.Fatalf("decode checkout: %v", err)
	}
	return payload
}

func donationRequest() map[string]any {
	return map[string]any{
		"kind":     "donation",
		"amount":   5000,
		"quantity": 1,
		"owner":    map[string]any{"name": "Fan", "email": "fan@example.com"},
	}
}

func TestCheckoutLifecycleReachesSuccess(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, time.Hour)

	status, envelope := doRequest(test, env.server, http.MethodPost, "/api/checkouts", nil, donationRequest())
	if status != http.StatusCreated {
		test.Fatalf("expected 201, got %d", status)
	}
	created := decodeCheckout(test, envelope)
	if created.Status != "pending" {
		test.Fatalf("expected pending, got %s", created.Status)
	}
	if created.Fee < 50 || created.Fee > 250 || created.Total != created.Amount+created.Fee {
		test.Fatalf("unexpected fee %d total %d", created.Fee, created.Total)
	}
	if created.QRImageURL == "" || created.Remaining != checkout.DefaultCountdownSeconds {
		test.Fatalf("unexpected pending payload %+v", created)
	}

	env.gateway.mutex.Lock()
	env.gateway.paid = true
	env.gateway.mutex.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, envelope = doRequest(test, env.server, http.MethodGet, "/api/checkouts/"+created.ID, nil, nil)
		current := decodeCheckout(test, envelope)
		if current.Status == "success" {
			if current.Fulfillment == nil || current.Fulfillment.Reference != "donation-1" {
				test.Fatalf("expected fulfillment payload, got %+v", current.Fulfillment)
			}
			if current.PaymentReference != "ref-1" {
				test.Fatalf("expected payment reference, got %q", current.PaymentReference)
			}
			break
		}
		if time.Now().After(deadline) {
			test.Fatalf("session did not settle, last status %s", current.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCheckoutCancel(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, time.Hour)

	_, envelope := doRequest(test, env.server, http.MethodPost, "/api/checkouts", nil, donationRequest())
	created := decodeCheckout(test, envelope)

	status, envelope := doRequest(test, env.server, http.MethodPost, "/api/checkouts/"+created.ID+"/cancel", nil, nil)
	if status != http.StatusOK {
		test.Fatalf("expected 200, got %d", status)
	}
	if cancelled := decodeCheckout(test, envelope); cancelled.Status != "idle" {
		test.Fatalf("expected idle, got %s", cancelled.Status)
	}

	status, _ = doRequest(test, env.server, http.MethodPost, "/api/checkouts/"+created.ID+"/cancel", nil, nil)
	if status != http.StatusConflict {
		test.Fatalf("expected 409 on second cancel, got %d", status)
	}
	status, _ = doRequest(test, env.server, http.MethodPost, "/api/checkouts/missing-1/cancel", nil, nil)
	if status != http.StatusNotFound {
		test.Fatalf("expected 404, got %d", status)
	}
}

func TestCheckoutEvictedAfterRetention(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, 20*time.Millisecond)

	_, envelope := doRequest(test, env.server, http.MethodPost, "/api/checkouts", nil, donationRequest())
	created := decodeCheckout(test, envelope)
	doRequest(test, env.server, http.MethodPost, "/api/checkouts/"+created.ID+"/cancel", nil, nil)

	deadline := time.Now().Add(5 * time.Second)
	for env.registry.Len() != 0 {
		if time.Now().After(deadline) {
			test.Fatalf("expected settled session to be evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	status, _ := doRequest(test, env.server, http.MethodGet, "/api/checkouts/"+created.ID, nil, nil)
	if status != http.StatusNotFound {
		test.Fatalf("expected 404 after eviction, got %d", status)
	}
}

func TestCheckoutCreateFailure(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, failingGateway{}, time.Hour)

	status, envelope := doRequest(test, env.server, http.MethodPost, "/api/checkouts", nil, donationRequest())
	if status != http.StatusBadGateway {
		test.Fatalf("expected 502, got %d", status)
	}
	failed := decodeCheckout(test, envelope)
	if failed.Status != "failed" || failed.Failure == nil || failed.Failure.Kind != "create" {
		test.Fatalf("expected create failure, got %+v", failed)
	}
}

func TestCheckoutValidation(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, time.Hour)

	cases := []struct {
		name    string
		payload map[string]any
		code    string
	}{
		{name: "kind", payload: map[string]any{"kind": "gift", "amount": 5000, "quantity": 1}, code: "invalid_kind"},
		{name: "amount", payload: map[string]any{"kind": "donation", "amount": 0, "quantity": 1, "owner": map[string]any{"name": "Fan"}}, code: "invalid_amount"},
		{name: "owner", payload: map[string]any{"kind": "api_key", "amount": 5000, "quantity": 1, "owner": map[string]any{"email": "fan@example.com"}}, code: "invalid_owner"},
		{name: "email", payload: map[string]any{"kind": "api_key", "amount": 5000, "quantity": 1, "owner": map[string]any{"name": "Fan", "email": "nope"}}, code: "invalid_email"},
		{name: "quantity", payload: map[string]any{"kind": "donation", "amount": 5000, "quantity": 0, "owner": map[string]any{"name": "Fan"}}, code: "invalid_quantity"},
	}
	for _, testCase := range cases {
		status, envelope := doRequest(test, env.server, http.MethodPost, "/api/checkouts", nil, testCase.payload)
		if status != http.StatusBadRequest {
			test.Fatalf("%s: expected 400, got %d", testCase.name, status)
		}
		if !strings.Contains(string(envelope["error"]), testCase.code) {
			test.Fatalf("%s: expected code %s, got %s", testCase.name, testCase.code, envelope["error"])
		}
	}
}

func TestCheckoutFallsBackToStoredSession(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, time.Hour)

	status, envelope := doRequest(test, env.server, http.MethodGet, "/api/checkouts/stored-1", nil, nil)
	if status != http.StatusOK {
		test.Fatalf("expected 200, got %d", status)
	}
	if stored := decodeCheckout(test, envelope); stored.Status != "success" || stored.Total != 5100 {
		test.Fatalf("unexpected stored session %+v", stored)
	}
	status, _ = doRequest(test, env.server, http.MethodGet, "/api/checkouts/unknown", nil, nil)
	if status != http.StatusNotFound {
		test.Fatalf("expected 404, got %d", status)
	}
}

func TestChangelogRoutesRequireAdminSession(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, time.Hour)
	payload := map[string]any{"title": "Chat relay", "version": "2.1.0", "description": "Live chat for IDN rooms", "type": "feature"}

	status, _ := doRequest(test, env.server, http.MethodPost, "/api/changelogs", nil, payload)
	if status != http.StatusUnauthorized {
		test.Fatalf("expected 401 without session, got %d", status)
	}
	status, _ = doRequest(test, env.server, http.MethodPost, "/api/changelogs", buildSessionCookie(test, env.cfg, "fan@example.com"), payload)
	if status != http.StatusForbidden {
		test.Fatalf("expected 403 for non-admin, got %d", status)
	}

	admin := buildSessionCookie(test, env.cfg, testAdminEmail)
	status, envelope := doRequest(test, env.server, http.MethodPost, "/api/changelogs", admin, payload)
	if status != http.StatusCreated {
		test.Fatalf("expected 201, got %d", status)
	}
	var created changelogPayload
	if err := json.Unmarshal(envelope["changelog"], &created); err != nil {
		test.Fatalf("decode changelog: %v", err)
	}
	if created.ID == "" || created.Type != "feature" {
		test.Fatalf("unexpected changelog %+v", created)
	}

	payload["type"] = "fix"
	status, _ = doRequest(test, env.server, http.MethodPut, "/api/changelogs/"+created.ID, admin, payload)
	if status != http.StatusOK {
		test.Fatalf("expected 200 on update, got %d", status)
	}

	status, envelope = doRequest(test, env.server, http.MethodGet, "/api/changelogs", nil, nil)
	if status != http.StatusOK {
		test.Fatalf("expected 200 on list, got %d", status)
	}
	var listed []changelogPayload
	if err := json.Unmarshal(envelope["changelogs"], &listed); err != nil {
		test.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].Type != "fix" {
		test.Fatalf("unexpected list %+v", listed)
	}

	status, _ = doRequest(test, env.server, http.MethodDelete, "/api/changelogs/"+created.ID, admin, nil)
	if status != http.StatusNoContent {
		test.Fatalf("expected 204 on delete, got %d", status)
	}
	status, _ = doRequest(test, env.server, http.MethodDelete, "/api/changelogs/"+created.ID, admin, nil)
	if status != http.StatusNotFound {
		test.Fatalf("expected 404 on second delete, got %d", status)
	}
	status, _ = doRequest(test, env.server, http.MethodPost, "/api/changelogs", admin, map[string]any{"title": "x", "version": "1", "description": "y", "type": "other"})
	if status != http.StatusBadRequest {
		test.Fatalf("expected 400 for invalid type, got %d", status)
	}
}

func TestCatalogRoutes(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, time.Hour)

	status, envelope := doRequest(test, env.server, http.MethodGet, "/api/members", nil, nil)
	if status != http.StatusOK {
		test.Fatalf("expected 200, got %d", status)
	}
	var members []jkt48api.Member
	if err := json.Unmarshal(envelope["members"], &members); err != nil || len(members) != 1 {
		test.Fatalf("unexpected members %s", envelope["members"])
	}
	status, _ = doRequest(test, env.server, http.MethodGet, "/api/members/unknown", nil, nil)
	if status != http.StatusNotFound {
		test.Fatalf("expected 404, got %d", status)
	}
	testCases := []struct {
		path   string
		status int
	}{
		{path: "/api/theater", status: http.StatusOK},
		{path: "/api/theater/show-1", status: http.StatusOK},
		{path: "/api/theater/show-9", status: http.StatusNotFound},
		{path: "/api/events", status: http.StatusOK},
		{path: "/api/live", status: http.StatusOK},
		{path: "/api/recent", status: http.StatusOK},
		{path: "/api/recent/broadcast-1", status: http.StatusOK},
		{path: "/api/replay", status: http.StatusOK},
		{path: "/api/replay?page=2", status: http.StatusOK},
		{path: "/api/replay?page=0", status: http.StatusBadRequest},
		{path: "/api/replay?page=11", status: http.StatusBadGateway},
		{path: "/api/youtube", status: http.StatusOK},
		{path: "/api/birthdays", status: http.StatusOK},
		{path: "/api/members/freya", status: http.StatusOK},
	}
	for _, testCase := range testCases {
		if status, _ := doRequest(test, env.server, http.MethodGet, testCase.path, nil, nil); status != testCase.status {
			test.Fatalf("%s: expected %d, got %d", testCase.path, testCase.status, status)
		}
	}
}

func TestAdminDataRoutesRequireAdminSession(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, time.Hour)
	admin := buildSessionCookie(test, env.cfg, testAdminEmail)
	fan := buildSessionCookie(test, env.cfg, "fan@example.com")

	if status, _ := doRequest(test, env.server, http.MethodGet, "/api/admin/stats", nil, nil); status != http.StatusUnauthorized {
		test.Fatalf("expected 401 without session, got %d", status)
	}
	if status, _ := doRequest(test, env.server, http.MethodGet, "/api/admin/stats", fan, nil); status != http.StatusForbidden {
		test.Fatalf("expected 403 for non-admin, got %d", status)
	}
	status, envelope := doRequest(test, env.server, http.MethodGet, "/api/admin/stats", admin, nil)
	if status != http.StatusOK {
		test.Fatalf("expected 200, got %d", status)
	}
	var stats jkt48api.AdminStats
	if err := json.Unmarshal(envelope["stats"], &stats); err != nil || stats.TotalKeys != 12 {
		test.Fatalf("unexpected stats %s", envelope["stats"])
	}
	if status, _ := doRequest(test, env.server, http.MethodGet, "/api/admin/keys/jkt48-key", admin, nil); status != http.StatusOK {
		test.Fatalf("expected key detail 200, got %d", status)
	}
	if status, _ := doRequest(test, env.server, http.MethodGet, "/api/admin/keys/unknown", admin, nil); status != http.StatusNotFound {
		test.Fatalf("expected key detail 404, got %d", status)
	}

	status, envelope = doRequest(test, env.server, http.MethodGet, "/api/admin/data-changelogs", admin, nil)
	if status != http.StatusOK {
		test.Fatalf("expected changelog list 200, got %d", status)
	}
	var listed []jkt48api.Changelog
	if err := json.Unmarshal(envelope["changelogs"], &listed); err != nil || len(listed) != 1 {
		test.Fatalf("unexpected changelogs %s", envelope["changelogs"])
	}
	update := map[string]any{"title": "Theater schedule", "version": "1.1.0", "description": "Detail pages", "type": "improvement"}
	status, envelope = doRequest(test, env.server, http.MethodPut, "/api/admin/data-changelogs/cl-1", admin, update)
	if status != http.StatusOK {
		test.Fatalf("expected update 200, got %d", status)
	}
	var updated jkt48api.Changelog
	if err := json.Unmarshal(envelope["changelog"], &updated); err != nil || updated.Version != "1.1.0" {
		test.Fatalf("unexpected updated changelog %s", envelope["changelog"])
	}
	if status, _ := doRequest(test, env.server, http.MethodDelete, "/api/admin/data-changelogs/cl-1", admin, nil); status != http.StatusNoContent {
		test.Fatalf("expected delete 204, got %d", status)
	}
	if status, _ := doRequest(test, env.server, http.MethodDelete, "/api/admin/data-changelogs/cl-1", admin, nil); status != http.StatusNotFound {
		test.Fatalf("expected second delete 404, got %d", status)
	}
}

func TestHealthReadinessAndMetrics(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, time.Hour)

	if status, _ := doRequest(test, env.server, http.MethodGet, "/healthz", nil, nil); status != http.StatusOK {
		test.Fatalf("expected healthz 200, got %d", status)
	}
	if status, _ := doRequest(test, env.server, http.MethodGet, "/readyz", nil, nil); status != http.StatusOK {
		test.Fatalf("expected readyz 200, got %d", status)
	}
	response, err := env.server.Client().Get(env.server.URL + "/metrics")
	if err != nil {
		test.Fatalf("metrics request: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		test.Fatalf("expected metrics 200, got %d", response.StatusCode)
	}
}

func TestChatWebSocketStreamsSnapshotThenMessages(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, time.Hour)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/chat/idn/room-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		test.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot chatFrame
	if err := conn.ReadJSON(&snapshot); err != nil {
		test.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Type != frameTypeSnapshot || len(snapshot.Messages) != 0 || snapshot.Room != "room-1" {
		test.Fatalf("unexpected snapshot %+v", snapshot)
	}

	close(env.relay.release)
	var update chatFrame
	if err := conn.ReadJSON(&update); err != nil {
		test.Fatalf("read update: %v", err)
	}
	if update.Type != frameTypeMessages || len(update.Messages) != 1 || update.Messages[0].Text != "halo" {
		test.Fatalf("unexpected update %+v", update)
	}
}

func TestChatRejectsUnknownProvider(test *testing.T) {
	test.Parallel()
	env := newTestServer(test, &stubGateway{}, time.Hour)

	status, _ := doRequest(test, env.server, http.MethodGet, "/api/chat/twitch/room-1", nil, nil)
	if status != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", status)
	}
}

func TestConfigValidate(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		test.Fatalf("expected missing signing key to fail")
	}
	cfg = Config{SessionSigningKey: "k"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.SessionCookieName != defaultSessionCookie || cfg.SessionRetention != defaultSessionRetention {
		test.Fatalf("expected defaults, got %+v", cfg)
	}
	if got := ParseList(" a, ,b "); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		test.Fatalf("unexpected list %v", got)
	}
}
