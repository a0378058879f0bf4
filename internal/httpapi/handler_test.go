package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/content-bot/internal/auth"
	"github.com/vnmchuo/content-bot/internal/billing"
	"github.com/vnmchuo/content-bot/internal/provider"
	"github.com/vnmchuo/content-bot/internal/subscription"
	"github.com/vnmchuo/content-bot/internal/tenant"
	"github.com/vnmchuo/content-bot/internal/textgen"
	"github.com/vnmchuo/content-bot/pkg/ratelimit"
)

// Mock text generation provider
type mockTextgen struct {
	result *textgen.Result
	err    error
}

func (m *mockTextgen) Generate(ctx context.Context, topic string) (*textgen.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockTextgen) Name() string     { return "perplexity" }
func (m *mockTextgen) Model() string    { return "sonar" }
func (m *mockTextgen) Configured() bool { return true }

// Mock image fetcher
type mockImages struct {
	urls   []string
	reason string
}

func (m *mockImages) Search(ctx context.Context, keyword string, maxResults int) ([]string, string) {
	return m.urls, m.reason
}

func (m *mockImages) FetchImage(ctx context.Context, keyword string) (string, string) {
	if len(m.urls) == 0 {
		return "", m.reason
	}
	return m.urls[0], ""
}

// Mock keyword cache
type mockKeywords struct {
	entries map[string]string
}

func newMockKeywords() *mockKeywords {
	return &mockKeywords{entries: make(map[string]string)}
}

func (m *mockKeywords) Get(ctx context.Context, key string) (string, bool) {
	v, ok := m.entries[key]
	return v, ok
}

func (m *mockKeywords) Put(ctx context.Context, key, value string) error {
	m.entries[key] = value
	return nil
}

// Mock billing store
type mockBillingStore struct {
	spend    float64
	logErr   error
	events   []*billing.UsageEvent
	payments []*billing.Payment
}

func (m *mockBillingStore) LogEvent(ctx context.Context, ev *billing.UsageEvent) error {
	if m.logErr != nil {
		return m.logErr
	}
	ev.ID = "event-1"
	ev.CreatedAt = time.Now()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockBillingStore) GetEventsByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*billing.UsageEvent, error) {
	return m.events, nil
}

func (m *mockBillingStore) GetSpend(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	return m.spend, nil
}

func (m *mockBillingStore) CreatePayment(ctx context.Context, p *billing.Payment) error {
	p.ID = "payment-1"
	m.payments = append(m.payments, p)
	return nil
}

func (m *mockBillingStore) MarkPaymentPaid(ctx context.Context, id string) error { return nil }

// Mock subscription store
type mockSubStore struct {
	subs map[string]*subscription.Subscription
}

func newMockSubStore() *mockSubStore {
	return &mockSubStore{subs: make(map[string]*subscription.Subscription)}
}

func (m *mockSubStore) Get(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return m.subs[userID], nil
}

func (m *mockSubStore) Upsert(ctx context.Context, sub *subscription.Subscription) error {
	m.subs[sub.UserID] = sub
	return nil
}

func (m *mockSubStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *mockSubStore) CountPremium(ctx context.Context) (int, error) { return 0, nil }

// Mock tenant store
type mockTenantStore struct {
	users map[int64]*tenant.User
}

func newMockTenantStore() *mockTenantStore {
	return &mockTenantStore{users: make(map[int64]*tenant.User)}
}

func (m *mockTenantStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (*tenant.User, error) {
	return m.users[telegramID], nil
}

func (m *mockTenantStore) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	t.ID = "tenant-new"
	return nil
}

func (m *mockTenantStore) CreateUser(ctx context.Context, u *tenant.User) error {
	u.ID = "user-new"
	m.users[u.TelegramID] = u
	return nil
}

func (m *mockTenantStore) UpdateUserRole(ctx context.Context, userID, role string) error { return nil }

func (m *mockTenantStore) UpdateUserStatus(ctx context.Context, userID, status string) error {
	return nil
}

func (m *mockTenantStore) AddChannel(ctx context.Context, c *tenant.Channel) error {
	c.ID = "channel-1"
	return nil
}

func (m *mockTenantStore) ListChannels(ctx context.Context, tenantID string) ([]*tenant.Channel, error) {
	return nil, nil
}

func (m *mockTenantStore) InsertAudit(ctx context.Context, actorID, action, subjectID, detail string) error {
	return nil
}

// Mock limiter store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

type testEnv struct {
	handler      *Handler
	billingStore *mockBillingStore
	tenantStore  *mockTenantStore
	keywords     *mockKeywords
}

func floatPtr(v float64) *float64 { return &v }

func setupTest(gen *mockTextgen, images *mockImages, limiterAllowed bool, hardLimit, warnLimit *float64) *testEnv {
	billingStore := &mockBillingStore{}
	tenantStore := newMockTenantStore()
	keywords := newMockKeywords()
	billingSvc := billing.NewService(billingStore, billing.Pricing{BasePer1K: 0.002}, hardLimit, warnLimit)
	subsSvc := subscription.NewService(newMockSubStore())
	tenantsSvc := tenant.NewService(tenantStore)
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})
	tracer := noop.NewTracerProvider().Tracer("test")

	h := NewHandler(gen, images, keywords, billingSvc, subsSvc, tenantsSvc, limiter, tracer)
	return &testEnv{handler: h, billingStore: billingStore, tenantStore: tenantStore, keywords: keywords}
}

func authedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
}

func TestHandleCreatePost_Unauthorized(t *testing.T) {
	env := setupTest(&mockTextgen{}, &mockImages{}, true, nil, nil)
	req := httptest.NewRequest("POST", "/v1/posts", nil)
	w := httptest.NewRecorder()

	env.handler.HandleCreatePost(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleCreatePost_InvalidBody(t *testing.T) {
	env := setupTest(&mockTextgen{}, &mockImages{}, true, nil, nil)
	req := httptest.NewRequest("POST", "/v1/posts", strings.NewReader(`{invalid`))
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	env.handler.HandleCreatePost(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleCreatePost_RateLimited(t *testing.T) {
	env := setupTest(&mockTextgen{}, &mockImages{}, false, nil, nil)
	body, _ := json.Marshal(map[string]string{"topic": "coffee"})
	w := httptest.NewRecorder()

	env.handler.HandleCreatePost(w, authedRequest("POST", "/v1/posts", body))

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
}

func TestHandleCreatePost_BudgetExhausted(t *testing.T) {
	gen := &mockTextgen{result: &textgen.Result{Content: "post", Keyword: "coffee", Model: "sonar"}}
	env := setupTest(gen, &mockImages{}, true, floatPtr(10), nil)
	env.billingStore.spend = 10.00

	body, _ := json.Marshal(map[string]string{"topic": "coffee"})
	w := httptest.NewRecorder()

	env.handler.HandleCreatePost(w, authedRequest("POST", "/v1/posts", body))

	if w.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", w.Code)
	}
	if len(env.billingStore.events) != 1 {
		t.Fatalf("expected one blocked event, got %d", len(env.billingStore.events))
	}
	ev := env.billingStore.events[0]
	if ev.Status != billing.StatusBlocked || ev.ErrorCode != "budget_exceeded" || ev.CostUSD != 0 {
		t.Errorf("unexpected blocked event %+v", ev)
	}
}

func TestHandleCreatePost_Success(t *testing.T) {
	gen := &mockTextgen{result: &textgen.Result{
		Content: "A fine post.", Keyword: "coffee", Model: "sonar",
		TokensIn: 500, TokensOut: 1500, TokensTotal: 2000, LatencyMs: 42,
	}}
	images := &mockImages{urls: []string{"https://img.example/coffee.jpg"}}
	env := setupTest(gen, images, true, nil, nil)

	body, _ := json.Marshal(map[string]interface{}{"topic": "coffee culture"})
	w := httptest.NewRecorder()

	env.handler.HandleCreatePost(w, authedRequest("POST", "/v1/posts", body))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["content"] != "A fine post." {
		t.Errorf("unexpected content %v", resp["content"])
	}
	if resp["image_url"] != "https://img.example/coffee.jpg" {
		t.Errorf("unexpected image url %v", resp["image_url"])
	}
	if resp["cost_usd"] != 0.004 {
		t.Errorf("expected cost 0.004 for 2000 tokens, got %v", resp["cost_usd"])
	}

	if len(env.billingStore.events) != 1 {
		t.Fatalf("expected one usage event, got %d", len(env.billingStore.events))
	}
	ev := env.billingStore.events[0]
	if ev.Status != billing.StatusSuccess || ev.TokensTotal != 2000 || ev.CostUSD != 0.004 {
		t.Errorf("unexpected usage event %+v", ev)
	}

	if kw, ok := env.keywords.Get(context.Background(), "coffee culture"); !ok || kw != "coffee" {
		t.Errorf("expected keyword cached, got %q %v", kw, ok)
	}
}

func TestHandleCreatePost_GenerationFails(t *testing.T) {
	gen := &mockTextgen{err: &provider.AuthError{Provider: "perplexity"}}
	env := setupTest(gen, &mockImages{}, true, nil, nil)

	body, _ := json.Marshal(map[string]string{"topic": "coffee"})
	w := httptest.NewRecorder()

	env.handler.HandleCreatePost(w, authedRequest("POST", "/v1/posts", body))

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", w.Code)
	}
	if len(env.billingStore.events) != 1 {
		t.Fatalf("expected one failed event, got %d", len(env.billingStore.events))
	}
	ev := env.billingStore.events[0]
	if ev.Status != billing.StatusFailed || ev.ErrorCode != "provider_auth" {
		t.Errorf("unexpected failed event %+v", ev)
	}

	wantTokens := billing.EstimateTokens("coffee")
	if ev.TokensIn != wantTokens || ev.TokensTotal != wantTokens {
		t.Errorf("expected prompt tokens estimated as %d, got %d/%d", wantTokens, ev.TokensIn, ev.TokensTotal)
	}
	wantCost := billing.Pricing{BasePer1K: 0.002}.CostUSD("sonar", wantTokens)
	if ev.CostUSD != wantCost || ev.CostUSD == 0 {
		t.Errorf("expected failed attempt cost %f, got %f", wantCost, ev.CostUSD)
	}
}

func TestHandleCreatePost_BlockedRecordFailureSurfaces(t *testing.T) {
	gen := &mockTextgen{result: &textgen.Result{Content: "post", Keyword: "coffee", Model: "sonar"}}
	env := setupTest(gen, &mockImages{}, true, floatPtr(10), nil)
	env.billingStore.spend = 10.00
	env.billingStore.logErr = errors.New("db down")

	body, _ := json.Marshal(map[string]string{"topic": "coffee"})
	w := httptest.NewRecorder()

	env.handler.HandleCreatePost(w, authedRequest("POST", "/v1/posts", body))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 when blocked event cannot be recorded, got %d", w.Code)
	}
}

func TestHandleCreatePost_FailedRecordFailureSurfaces(t *testing.T) {
	gen := &mockTextgen{err: &provider.AuthError{Provider: "perplexity"}}
	env := setupTest(gen, &mockImages{}, true, nil, nil)
	env.billingStore.logErr = errors.New("db down")

	body, _ := json.Marshal(map[string]string{"topic": "coffee"})
	w := httptest.NewRecorder()

	env.handler.HandleCreatePost(w, authedRequest("POST", "/v1/posts", body))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 when failed event cannot be recorded, got %d", w.Code)
	}
}

func TestHandleCreatePost_BudgetWarningOncePerDay(t *testing.T) {
	gen := &mockTextgen{result: &textgen.Result{Content: "post", Keyword: "coffee", Model: "sonar", TokensTotal: 100, TokensIn: 50, TokensOut: 50}}
	env := setupTest(gen, &mockImages{}, true, floatPtr(10), floatPtr(8))
	env.billingStore.spend = 9.00

	body, _ := json.Marshal(map[string]string{"topic": "coffee"})

	w := httptest.NewRecorder()
	env.handler.HandleCreatePost(w, authedRequest("POST", "/v1/posts", body))
	var first map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &first)
	if _, ok := first["warning"]; !ok {
		t.Error("expected warning on first request over warn threshold")
	}

	w = httptest.NewRecorder()
	env.handler.HandleCreatePost(w, authedRequest("POST", "/v1/posts", body))
	var second map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &second)
	if _, ok := second["warning"]; ok {
		t.Error("expected warning suppressed on repeat request same day")
	}
}

func TestHandleImages_ByKeyword(t *testing.T) {
	images := &mockImages{urls: []string{"https://img.example/a.jpg", "https://img.example/b.jpg"}}
	env := setupTest(&mockTextgen{}, images, true, nil, nil)

	w := httptest.NewRecorder()
	env.handler.HandleImages(w, authedRequest("GET", "/v1/images?keyword=coffee", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["keyword"] != "coffee" {
		t.Errorf("unexpected keyword %v", resp["keyword"])
	}
	if urls, ok := resp["urls"].([]interface{}); !ok || len(urls) != 2 {
		t.Errorf("unexpected urls %v", resp["urls"])
	}
}

func TestHandleImages_TopicUsesCachedKeyword(t *testing.T) {
	images := &mockImages{urls: []string{"https://img.example/a.jpg"}}
	env := setupTest(&mockTextgen{}, images, true, nil, nil)
	env.keywords.Put(context.Background(), "coffee culture", "espresso")

	w := httptest.NewRecorder()
	env.handler.HandleImages(w, authedRequest("GET", "/v1/images?topic=coffee+culture", nil))

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["keyword"] != "espresso" {
		t.Errorf("expected cached keyword, got %v", resp["keyword"])
	}
}

func TestHandleImages_MissingParams(t *testing.T) {
	env := setupTest(&mockTextgen{}, &mockImages{}, true, nil, nil)

	w := httptest.NewRecorder()
	env.handler.HandleImages(w, authedRequest("GET", "/v1/images", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleBudget(t *testing.T) {
	env := setupTest(&mockTextgen{}, &mockImages{}, true, floatPtr(10), floatPtr(8))
	env.billingStore.spend = 3.25

	w := httptest.NewRecorder()
	env.handler.HandleBudget(w, authedRequest("GET", "/v1/budget", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["spend_usd"] != 3.25 {
		t.Errorf("unexpected spend %v", resp["spend_usd"])
	}
	if resp["allowed"] != true {
		t.Errorf("expected allowed true, got %v", resp["allowed"])
	}
	if resp["hard_limit_usd"] != 10.0 {
		t.Errorf("unexpected hard limit %v", resp["hard_limit_usd"])
	}
}

func TestHandleActivateSubscription(t *testing.T) {
	env := setupTest(&mockTextgen{}, &mockImages{}, true, nil, nil)

	body, _ := json.Marshal(map[string]interface{}{"telegram_id": 42, "months": 2, "amount": 9.99})
	w := httptest.NewRecorder()
	env.handler.HandleActivateSubscription(w, authedRequest("POST", "/v1/subscriptions/activate", body))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["payment_id"] != "payment-1" {
		t.Errorf("unexpected payment id %v", resp["payment_id"])
	}
	if resp["premium_until"] == nil {
		t.Error("expected premium_until in response")
	}
	if len(env.billingStore.payments) != 1 {
		t.Errorf("expected one payment recorded, got %d", len(env.billingStore.payments))
	}
}

func TestHandleSetRole_RequiresAdmin(t *testing.T) {
	env := setupTest(&mockTextgen{}, &mockImages{}, true, nil, nil)

	body, _ := json.Marshal(map[string]string{"role": "admin"})
	w := httptest.NewRecorder()
	env.handler.HandleSetRole(w, authedRequest("POST", "/v1/admin/users/user-1/role", body))

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin key, got %d", w.Code)
	}
}

func TestHandleSetRole_Admin(t *testing.T) {
	env := setupTest(&mockTextgen{}, &mockImages{}, true, nil, nil)

	body, _ := json.Marshal(map[string]string{"role": "admin"})
	req := authedRequest("POST", "/v1/admin/users/user-1/role", body)
	req = req.WithContext(auth.WithAPIKey(req.Context(), &auth.APIKey{ID: "key-1", TenantID: "test-tenant", Admin: true}))
	w := httptest.NewRecorder()

	env.handler.HandleSetRole(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for admin key, got %d: %s", w.Code, w.Body.String())
	}
}
