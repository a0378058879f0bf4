// Package httpapi exposes the content generation service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/content-bot/internal/auth"
	"github.com/vnmchuo/content-bot/internal/billing"
	"github.com/vnmchuo/content-bot/internal/provider"
	"github.com/vnmchuo/content-bot/internal/subscription"
	"github.com/vnmchuo/content-bot/internal/tenant"
	"github.com/vnmchuo/content-bot/internal/textgen"
	"github.com/vnmchuo/content-bot/pkg/ratelimit"
)

// Usage event error codes.
const (
	codeBudgetExceeded      = "budget_exceeded"
	codeUserBanned          = "user_banned"
	codeProviderAuth        = "provider_auth"
	codeProviderRateLimited = "provider_rate_limited"
	codeProviderError       = "provider_error"
)

// ImageFetcher is the slice of the image pipeline the handler needs.
type ImageFetcher interface {
	Search(ctx context.Context, keyword string, maxResults int) ([]string, string)
	FetchImage(ctx context.Context, keyword string) (string, string)
}

// KeywordCache remembers which search keyword a topic resolved to.
type KeywordCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, value string) error
}

type Handler struct {
	textgen  textgen.Provider
	images   ImageFetcher
	keywords KeywordCache
	billing  *billing.Service
	subs     *subscription.Service
	tenants  *tenant.Service
	limiter  *ratelimit.Limiter
	tracer   trace.Tracer
}

func NewHandler(
	gen textgen.Provider,
	images ImageFetcher,
	keywords KeywordCache,
	billingSvc *billing.Service,
	subs *subscription.Service,
	tenants *tenant.Service,
	limiter *ratelimit.Limiter,
	tracer trace.Tracer,
) *Handler {
	return &Handler{
		textgen:  gen,
		images:   images,
		keywords: keywords,
		billing:  billingSvc,
		subs:     subs,
		tenants:  tenants,
		limiter:  limiter,
		tracer:   tracer,
	}
}

type postRequest struct {
	Topic      string `json:"topic"`
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	ChannelID  string `json:"channel_id"`
	SkipImage  bool   `json:"skip_image"`
}

func (h *Handler) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	ctx, span := h.tracer.Start(ctx, "posts.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("request_id", auth.GetRequestID(ctx)),
	)

	var user *tenant.User
	if req.TelegramID != 0 {
		var err error
		user, err = h.tenants.Resolve(ctx, req.TelegramID, req.Username, req.FirstName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve user")
			return
		}
		if user.IsBanned() {
			if err := h.recordBlocked(ctx, tenantID, user, req.ChannelID, codeUserBanned); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to record usage")
				return
			}
			writeError(w, http.StatusForbidden, "account is blocked")
			return
		}
	}

	allowed, err := h.limiter.AllowGeneration(ctx, tenantID, billing.EstimateTokens(req.Topic))
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	budget, err := h.billing.CheckBudget(ctx, tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check budget")
		return
	}
	if !budget.Allowed {
		if err := h.recordBlocked(ctx, tenantID, user, req.ChannelID, codeBudgetExceeded); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to record usage")
			return
		}
		msg := "monthly budget exhausted, try again next month"
		if h.isAdmin(ctx) {
			msg = adminBudgetMessage(budget)
		}
		writeError(w, http.StatusPaymentRequired, msg)
		return
	}

	result, err := provider.Retry(ctx, func() (*textgen.Result, error) {
		return h.textgen.Generate(ctx, req.Topic)
	})
	if err != nil {
		if recErr := h.recordFailure(ctx, tenantID, user, req.ChannelID, req.Topic, err); recErr != nil {
			writeError(w, http.StatusInternalServerError, "failed to record usage")
			return
		}
		msg := "generation temporarily unavailable, please try again later"
		if h.isAdmin(ctx) {
			msg = err.Error()
		}
		writeError(w, http.StatusBadGateway, msg)
		return
	}

	tokensIn, tokensOut, tokensTotal := result.TokensIn, result.TokensOut, result.TokensTotal
	if tokensTotal == 0 {
		tokensIn = billing.EstimateTokens(req.Topic)
		tokensOut = billing.EstimateTokens(result.Content)
		tokensTotal = tokensIn + tokensOut
	}
	cost := h.billing.Pricing().CostUSD(result.Model, tokensTotal)

	ev := &billing.UsageEvent{
		TenantID:    tenantID,
		ChannelID:   req.ChannelID,
		Provider:    h.textgen.Name(),
		Model:       result.Model,
		Status:      billing.StatusSuccess,
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
		TokensTotal: tokensTotal,
		CostUSD:     cost,
		LatencyMs:   result.LatencyMs,
	}
	if user != nil {
		ev.UserID = user.ID
	}
	if err := h.billing.RecordEvent(ctx, ev); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record usage")
		return
	}

	if err := h.keywords.Put(ctx, req.Topic, result.Keyword); err != nil {
		log.Warn().Err(err).Str("topic", req.Topic).Msg("failed to cache keyword")
	}

	var imageURL, imageNote string
	if !req.SkipImage {
		imageURL, imageNote = h.images.FetchImage(ctx, result.Keyword)
	}

	resp := map[string]interface{}{
		"id":        ev.ID,
		"content":   result.Content,
		"keyword":   result.Keyword,
		"model":     result.Model,
		"image_url": imageURL,
		"cost_usd":  cost,
		"usage": map[string]int{
			"prompt_tokens":     tokensIn,
			"completion_tokens": tokensOut,
			"total_tokens":      tokensTotal,
		},
	}
	if imageNote != "" {
		resp["image_note"] = imageNote
	}
	if budget.ShouldWarn && h.billing.ShouldSendWarning(tenantID) {
		resp["warning"] = "monthly budget warning threshold reached"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) recordBlocked(ctx context.Context, tenantID string, user *tenant.User, channelID, code string) error {
	ev := &billing.UsageEvent{
		TenantID:  tenantID,
		ChannelID: channelID,
		Provider:  h.textgen.Name(),
		Status:    billing.StatusBlocked,
		ErrorCode: code,
	}
	if user != nil {
		ev.UserID = user.ID
	}
	if err := h.billing.RecordEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Str("error_code", code).Msg("failed to record blocked event")
		return err
	}
	return nil
}

// recordFailure books a failed attempt against the tenant. The provider
// consumed the prompt even though nothing came back, so the prompt side is
// estimated and charged rather than assumed zero.
func (h *Handler) recordFailure(ctx context.Context, tenantID string, user *tenant.User, channelID, topic string, cause error) error {
	code := codeProviderError
	switch {
	case provider.IsAuth(cause):
		code = codeProviderAuth
	case provider.IsRateLimit(cause):
		code = codeProviderRateLimited
	}
	tokens := billing.EstimateTokens(topic)
	model := h.textgen.Model()
	ev := &billing.UsageEvent{
		TenantID:    tenantID,
		ChannelID:   channelID,
		Provider:    h.textgen.Name(),
		Model:       model,
		Status:      billing.StatusFailed,
		TokensIn:    tokens,
		TokensTotal: tokens,
		CostUSD:     h.billing.Pricing().CostUSD(model, tokens),
		ErrorCode:   code,
	}
	if user != nil {
		ev.UserID = user.ID
	}
	if err := h.billing.RecordEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Str("error_code", code).Int("tokens", tokens).Msg("failed to record failed event")
		return err
	}
	return nil
}

func (h *Handler) HandleImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if auth.GetTenantID(ctx) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		topic := r.URL.Query().Get("topic")
		if topic == "" {
			writeError(w, http.StatusBadRequest, "keyword or topic is required")
			return
		}
		if cached, ok := h.keywords.Get(ctx, topic); ok {
			keyword = cached
		} else {
			keyword = textgen.FallbackKeyword(topic)
		}
	}

	count := 5
	if c := r.URL.Query().Get("count"); c != "" {
		if n, err := parsePositiveInt(c); err == nil {
			count = n
		}
	}

	urls, reason := h.images.Search(ctx, keyword, count)
	resp := map[string]interface{}{
		"keyword": keyword,
		"urls":    urls,
	}
	if reason != "" {
		resp["note"] = reason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
	}

	events, err := h.billing.Events(ctx, tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var totalCost float64
	for _, ev := range events {
		totalCost += ev.CostUSD
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":      tenantID,
		"total_events":   len(events),
		"total_cost_usd": totalCost,
		"events":         events,
		"from":           from,
		"to":             to,
	})
}

func (h *Handler) HandleBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	spend, err := h.billing.MonthSpend(ctx, tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load spend")
		return
	}
	budget, err := h.billing.CheckBudget(ctx, tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check budget")
		return
	}

	resp := map[string]interface{}{
		"tenant_id": tenantID,
		"spend_usd": spend,
		"allowed":   budget.Allowed,
	}
	if budget.HardLimit != nil {
		resp["hard_limit_usd"] = *budget.HardLimit
	}
	if budget.WarnLimit != nil {
		resp["warn_limit_usd"] = *budget.WarnLimit
	}
	writeJSON(w, http.StatusOK, resp)
}

type activateRequest struct {
	TelegramID int64   `json:"telegram_id"`
	Username   string  `json:"username"`
	FirstName  string  `json:"first_name"`
	Months     int     `json:"months"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Payload    string  `json:"payload"`
}

func (h *Handler) HandleActivateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TelegramID == 0 || req.Months < 1 {
		writeError(w, http.StatusBadRequest, "telegram_id and months are required")
		return
	}

	user, err := h.tenants.Resolve(ctx, req.TelegramID, req.Username, req.FirstName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	payment, err := h.billing.RecordPayment(ctx, tenantID, user.ID, req.Months, req.Amount, req.Currency, req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record payment")
		return
	}

	until, err := h.subs.Activate(ctx, user.ID, tenantID, req.Months)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to activate subscription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":       user.ID,
		"payment_id":    payment.ID,
		"premium_until": until,
	})
}

func (h *Handler) HandleSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if auth.GetTenantID(ctx) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	premium, err := h.subs.IsPremium(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check subscription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"premium": premium,
	})
}

type channelRequest struct {
	TelegramChatID int64  `json:"telegram_chat_id"`
	Title          string `json:"title"`
}

func (h *Handler) HandleAddChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TelegramChatID == 0 {
		writeError(w, http.StatusBadRequest, "telegram_chat_id is required")
		return
	}

	c := &tenant.Channel{TenantID: tenantID, TelegramChatID: req.TelegramChatID, Title: req.Title}
	if err := h.tenants.AddChannel(ctx, c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add channel")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": c.ID})
}

func (h *Handler) HandleListChannels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	channels, err := h.tenants.ListChannels(ctx, tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list channels")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"channels": channels})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.isAdmin(ctx) {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}

	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := chi.URLParam(r, "id")
	actorID := ""
	if k := auth.GetAPIKey(ctx); k != nil {
		actorID = k.ID
	}
	if err := h.tenants.SetRole(ctx, actorID, userID, req.Role); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "role": req.Role})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.isAdmin(ctx) {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := chi.URLParam(r, "id")
	actorID := ""
	if k := auth.GetAPIKey(ctx); k != nil {
		actorID = k.ID
	}
	if err := h.tenants.SetStatus(ctx, actorID, userID, req.Status); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "status": req.Status})
}

func (h *Handler) isAdmin(ctx context.Context) bool {
	k := auth.GetAPIKey(ctx)
	return k != nil && k.Admin
}

func adminBudgetMessage(b billing.BudgetStatus) string {
	msg := "monthly budget exhausted"
	if b.HardLimit != nil {
		msg = fmt.Sprintf("monthly budget exhausted: spent %.2f of %.2f USD", b.SpendUSD, *b.HardLimit)
	}
	return msg
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}
