package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/api"
	"github.com/Aidin1998/padcheck/internal/audit"
	"github.com/Aidin1998/padcheck/internal/auth"
	"github.com/Aidin1998/padcheck/internal/compliance"
	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/internal/risk"
	"github.com/Aidin1998/padcheck/internal/routing"
	"github.com/Aidin1998/padcheck/internal/rules"
)

type stubEvaluator struct {
	last compliance.Request
	err  error
}

func (e *stubEvaluator) Evaluate(_ context.Context, req compliance.Request) (*compliance.Result, error) {
	e.last = req
	if e.err != nil {
		return nil, e.err
	}
	return &compliance.Result{
		Status:   compliance.StatusDecided,
		Decision: &compliance.Decision{
			ID:         "dec-1",
			EmployeeID: req.EmployeeID,
			Resolution: instrument.Resolution{Outcome: instrument.InternalOnlyMatch},
			Level:      risk.Low,
			Route:      routing.Manager,
		},
	}, nil
}

type stubRules struct {
	snap        *rules.Snapshot
	author      string
	invalidated bool
}

func (r *stubRules) Snapshot(context.Context) *rules.Snapshot { return r.snap }

func (r *stubRules) Update(_ context.Context, next *rules.Snapshot, author string) (*rules.Snapshot, error) {
	next.Normalize()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	r.author = author
	next.Version = r.snap.Version + 1
	r.snap = next
	return next, nil
}

func (r *stubRules) Invalidate() { r.invalidated = true }

type stubDecisions map[string]*compliance.Decision

func (d stubDecisions) Get(_ context.Context, id string) (*compliance.Decision, error) {
	if dec, ok := d[id]; ok {
		return dec, nil
	}
	return nil, audit.ErrNotFound
}

type harness struct {
	router    *gin.Engine
	evaluator *stubEvaluator
	rules     *stubRules
	verifier  *auth.Verifier
	dbErr     error
}

func setup(t *testing.T, opts api.Options) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{
		evaluator: &stubEvaluator{},
		rules:     &stubRules{snap: rules.Defaults()},
		verifier:  auth.NewVerifier("test-secret", "padcheck"),
	}
	srv := api.NewServer(zap.NewNop(), api.Deps{
		Evaluator: h.evaluator,
		Rules:     h.rules,
		Decisions: stubDecisions{"dec-9": {
			ID:         "dec-9",
			Resolution: instrument.Resolution{Outcome: instrument.InternalOnlyMatch},
			Level:      risk.High,
			Route:      routing.SMF16,
		}},
		Verifier:  h.verifier,
		Checks: map[string]api.HealthCheck{
			"database": func(context.Context) error { return h.dbErr },
		},
	}, opts)
	h.router = srv.Router()
	return h
}

func (h *harness) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) bearer(t *testing.T, role string) http.Header {
	t.Helper()
	token, err := h.verifier.Issue("alice", role, time.Hour)
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func TestHealth(t *testing.T) {
	h := setup(t, api.Options{})
	w := h.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestHealth_DegradedProblem(t *testing.T) {
	h := setup(t, api.Options{})
	h.dbErr = errors.New("connection refused")
	w := h.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["health"])
	assert.Equal(t, float64(http.StatusServiceUnavailable), resp["status"])
	assert.Equal(t, "Service Unavailable", resp["title"])
	assert.Equal(t, "/health", resp["instance"])
	assert.Equal(t, map[string]any{"database": "connection refused"}, resp["checks"])
}

func TestEvaluate_SanitizesAndForwards(t *testing.T) {
	h := setup(t, api.Options{})
	w := h.do(http.MethodPost, "/api/v1/evaluations", map[string]any{
		"query":       map[string]any{"text": "<b>AT&T</b> Inc<script>alert(1)</script>"},
		"direction":   "BUY",
		"employee_id": "E100",
	}, http.Header{"X-Request-ID": {"req-42"}})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "AT&T Inc", h.evaluator.last.Query.Text)
	assert.Equal(t, "req-42", h.evaluator.last.RequestID)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	var res compliance.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, compliance.StatusDecided, res.Status)
	assert.Equal(t, routing.Manager, res.Decision.Route)
}

func TestEvaluate_ValidationProblem(t *testing.T) {
	h := setup(t, api.Options{})
	verr := validator.New().Struct(struct {
		Direction string `validate:"required"`
	}{})
	h.evaluator.err = fmt.Errorf("%w: %w", compliance.ErrInvalidRequest, verr)

	w := h.do(http.MethodPost, "/api/v1/evaluations", map[string]any{"employee_id": "E1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var p map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	errs, ok := p["errors"].([]any)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "direction", errs[0].(map[string]any)["field"])
}

func TestEvaluate_MalformedBody(t *testing.T) {
	h := setup(t, api.Options{})
	w := h.do(http.MethodPost, "/api/v1/evaluations", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluate_InternalError(t *testing.T) {
	h := setup(t, api.Options{})
	h.evaluator.err = errors.New("boom")
	w := h.do(http.MethodPost, "/api/v1/evaluations", map[string]any{"direction": "BUY", "employee_id": "E1"}, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestEvaluate_RateLimited(t *testing.T) {
	h := setup(t, api.Options{RatePerSecond: 0.001, RateBurst: 2})
	body := map[string]any{"direction": "BUY", "employee_id": "E1"}
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/evaluations", body, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/evaluations", body, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodPost, "/api/v1/evaluations", body, nil).Code)
}

func TestGetDecision(t *testing.T) {
	h := setup(t, api.Options{})
	w := h.do(http.MethodGet, "/api/v1/decisions/dec-9", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"route":"smf16"`)

	w = h.do(http.MethodGet, "/api/v1/decisions/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRules_RequireAdminToken(t *testing.T) {
	h := setup(t, api.Options{})
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/rules", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/rules", nil, h.bearer(t, "reader")).Code)

	w := h.do(http.MethodGet, "/api/v1/rules", nil, h.bearer(t, auth.RoleRulesAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	var snap rules.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "GBP", snap.BaseCurrency)
}

func TestRules_Update(t *testing.T) {
	h := setup(t, api.Options{})
	admin := h.bearer(t, auth.RoleRulesAdmin)

	next := rules.Defaults()
	next.MediumFactorThreshold = 2
	w := h.do(http.MethodPut, "/api/v1/rules", next, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alice", h.rules.author)
	assert.Equal(t, 2, h.rules.snap.MediumFactorThreshold)

	bad := rules.Defaults()
	bad.MediumFactorThreshold = 0
	w = h.do(http.MethodPut, "/api/v1/rules", bad, admin)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 2, h.rules.snap.MediumFactorThreshold, "a rejected rule set changes nothing")

	w = h.do(http.MethodPost, "/api/v1/rules/invalidate", nil, admin)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, h.rules.invalidated)
}
