package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"jdhub/ratekeeper/pkg/limits"
	"jdhub/ratekeeper/pkg/limits/ratelimit"
	"jdhub/ratekeeper/pkg/pricing"
)

// maxBodyBytes bounds request bodies on the limits API.
const maxBodyBytes = 1 << 20

// maxPeriodHours is the longest stats period a time.Duration can hold.
const maxPeriodHours = math.MaxInt64 / float64(time.Hour)

type handlers struct {
	limits  *limits.Service
	pricing *pricing.Calculator
	logger  *slog.Logger
}

// CheckRequest is the body of POST /v1/limits/check.
type CheckRequest struct {
	Service         string  `json:"service"`
	OperationType   string  `json:"operation_type,omitempty"`
	EstimatedTokens int64   `json:"estimated_tokens,omitempty"`
	EstimatedCost   float64 `json:"estimated_cost,omitempty"`
	UserID          string  `json:"user_id,omitempty"`
}

// CheckResponse is the body returned by POST /v1/limits/check.
type CheckResponse struct {
	Service           string                      `json:"service"`
	Allowed           bool                        `json:"allowed"`
	Statuses          []ratelimit.RateLimitStatus `json:"statuses"`
	Exceeded          []ratelimit.RateLimitType   `json:"exceeded,omitempty"`
	RetryAfterSeconds int64                       `json:"retry_after_seconds,omitempty"`
	ReservationID     uint64                      `json:"reservation_id,omitempty"`
}

// UsageRequest is the body of POST /v1/limits/usage. A nil CostUSD is
// priced from Model and the token counts; a nil Success means true.
// ReservationID settles the hold taken by an allowed check; without it the
// oldest open reservation for OperationType is settled.
type UsageRequest struct {
	Service        string   `json:"service"`
	ReservationID  uint64   `json:"reservation_id,omitempty"`
	OperationType  string   `json:"operation_type,omitempty"`
	Model          string   `json:"model,omitempty"`
	InputTokens    int64    `json:"input_tokens,omitempty"`
	OutputTokens   int64    `json:"output_tokens,omitempty"`
	TokensUsed     int64    `json:"tokens_used,omitempty"`
	CostUSD        *float64 `json:"cost_usd,omitempty"`
	Success        *bool    `json:"success,omitempty"`
	ResponseTimeMs *int64   `json:"response_time_ms,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
}

// ServiceResponse describes one service's configured limits.
type ServiceResponse struct {
	Service  string                                          `json:"service"`
	Limits   map[ratelimit.RateLimitType]ratelimit.RateLimit `json:"limits"`
	Statuses []ratelimit.RateLimitStatus                     `json:"statuses"`
}

// DelayResponse is the body of GET /v1/limits/{service}/delay.
type DelayResponse struct {
	Service       string  `json:"service"`
	OperationType string  `json:"operation_type,omitempty"`
	DelaySeconds  float64 `json:"delay_seconds"`
}

func (h *handlers) check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Service == "" {
		writeInvalid(w, CodeMissingField, "service", "service is required")
		return
	}

	result, err := h.limits.CheckRateLimit(r.Context(), req.Service, req.OperationType,
		req.EstimatedTokens, req.EstimatedCost, req.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := CheckResponse{
		Service:  result.Service,
		Allowed:  result.Allowed,
		Statuses: result.Statuses,
	}
	if result.Allowed {
		resp.ReservationID = result.ReservationID
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Exceeded = result.Exceeded()
	resp.RetryAfterSeconds = retryAfterSeconds(result.RetryAfter)
	w.Header().Set("Retry-After", strconv.FormatInt(resp.RetryAfterSeconds, 10))
	writeJSON(w, http.StatusTooManyRequests, resp)
}

func (h *handlers) recordUsage(w http.ResponseWriter, r *http.Request) {
	var req UsageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Service == "" {
		writeInvalid(w, CodeMissingField, "service", "service is required")
		return
	}

	usage := limits.Usage{
		Service:        req.Service,
		ReservationID:  req.ReservationID,
		OperationType:  req.OperationType,
		Model:          req.Model,
		InputTokens:    req.InputTokens,
		OutputTokens:   req.OutputTokens,
		TokensUsed:     req.TokensUsed,
		Success:        req.Success == nil || *req.Success,
		ResponseTimeMs: req.ResponseTimeMs,
		UserID:         req.UserID,
	}

	switch {
	case req.CostUSD != nil:
		usage.CostUSD = *req.CostUSD
	case req.Model != "" && h.pricing != nil:
		cost, err := h.pricing.Calculate(req.Model, req.InputTokens, req.OutputTokens)
		if err != nil {
			h.logger.DebugContext(r.Context(), "usage not priced",
				"service", req.Service,
				"model", req.Model,
				"error", err,
			)
		} else {
			usage.CostUSD = cost
		}
	}

	if err := h.limits.RecordUsage(r.Context(), usage); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) listServices(w http.ResponseWriter, r *http.Request) {
	names := h.limits.Services()
	out := make([]ServiceResponse, 0, len(names))
	for _, name := range names {
		cfg, ok := h.limits.ServiceConfig(name)
		if !ok {
			continue
		}
		out = append(out, ServiceResponse{
			Service:  name,
			Limits:   cfg,
			Statuses: h.limits.Statuses(name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

func (h *handlers) getService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	cfg, ok := h.limits.ServiceConfig(name)
	if !ok {
		writeError(w, ErrorTypeNotFound, CodeUnknownSvc, "service", "no limits configured for service "+name)
		return
	}
	writeJSON(w, http.StatusOK, ServiceResponse{
		Service:  name,
		Limits:   cfg,
		Statuses: h.limits.Statuses(name),
	})
}

func (h *handlers) updateService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")

	var raw map[string]ratelimit.RateLimit
	if !decodeBody(w, r, &raw) {
		return
	}
	if len(raw) == 0 {
		writeInvalid(w, CodeMissingField, "", "at least one limit type is required")
		return
	}

	update := make(map[ratelimit.RateLimitType]ratelimit.RateLimit, len(raw))
	for key, rl := range raw {
		t, err := ratelimit.ParseRateLimitType(key)
		if err != nil {
			writeInvalid(w, CodeUnknownLimit, key, err.Error())
			return
		}
		update[t] = rl
	}

	if err := h.limits.UpdateRateLimits(name, update); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")

	var period time.Duration
	if v := r.URL.Query().Get("period_hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		nanos := hours * float64(time.Hour)
		if err != nil || !(hours > 0 && hours < maxPeriodHours && nanos < math.MaxInt64) {
			writeInvalid(w, CodeInvalidValue, "period_hours", "period_hours must be a positive number below 2562047 hours")
			return
		}
		period = time.Duration(nanos)
	}

	writeJSON(w, http.StatusOK, h.limits.GetUsageStats(r.Context(), name, period))
}

func (h *handlers) recommendations(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	writeJSON(w, http.StatusOK, h.limits.GetCostOptimizationRecommendations(r.Context(), name))
}

func (h *handlers) releaseReservation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeInvalid(w, CodeInvalidValue, "id", "reservation id must be a positive integer")
		return
	}
	if !h.limits.ReleaseReservation(name, id) {
		writeError(w, ErrorTypeNotFound, CodeUnknownRes, "id", "no open reservation "+strconv.FormatUint(id, 10))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) delay(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	op := r.URL.Query().Get("operation_type")
	d := h.limits.GetRecommendedDelay(name, op)
	writeJSON(w, http.StatusOK, DelayResponse{
		Service:       name,
		OperationType: op,
		DelaySeconds:  d.Seconds(),
	})
}

// decodeBody decodes a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeInvalid(w, CodeInvalidJSON, "", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps limits and ratelimit errors to responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, limits.ErrInvalidAmount),
		errors.Is(err, ratelimit.ErrInvalidLimit),
		errors.Is(err, ratelimit.ErrInvalidLimitType):
		writeInvalid(w, CodeInvalidValue, "", err.Error())
	case errors.Is(err, limits.ErrEmptyService):
		writeInvalid(w, CodeMissingField, "service", err.Error())
	default:
		writeError(w, ErrorTypeServerError, CodeInternalError, "", err.Error())
	}
}

// retryAfterSeconds rounds d up to whole seconds, never below 1.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
