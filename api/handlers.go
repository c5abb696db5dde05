package api

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/audit"
	"github.com/Aidin1998/padcheck/internal/auth"
	"github.com/Aidin1998/padcheck/internal/compliance"
	"github.com/Aidin1998/padcheck/internal/rules"
	apperrors "github.com/Aidin1998/padcheck/pkg/errors"
)

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	if status != http.StatusOK {
		s.problem(c, apperrors.NewServiceUnavailableError("one or more dependencies failed", c.Request.URL.Path).
			WithExtra("health", "degraded").
			WithExtra("checks", checks))
		return
	}
	c.JSON(status, gin.H{"status": "ok", "checks": checks})
}

func (s *Server) evaluate(c *gin.Context) {
	var req compliance.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.problem(c, apperrors.NewValidationError("malformed request body: "+err.Error(), c.Request.URL.Path))
		return
	}
	s.sanitize(&req)
	if req.RequestID == "" {
		req.RequestID = c.GetHeader("X-Request-ID")
	}

	res, err := s.deps.Evaluator.Evaluate(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, compliance.ErrInvalidRequest) {
			s.problem(c, apperrors.NewValidationError("request failed validation", c.Request.URL.Path).
				WithValidationErrors(apperrors.FieldErrors(err)))
			return
		}
		s.logger.Error("Evaluation failed", zap.String("request_id", req.RequestID), zap.Error(err))
		s.problem(c, apperrors.NewInternalError("evaluation failed", c.Request.URL.Path))
		return
	}
	if req.RequestID != "" {
		c.Header("X-Request-ID", req.RequestID)
	}
	c.JSON(http.StatusOK, res)
}

// sanitize strips markup from the free-text fields. Entities are decoded
// again so names like "AT&T" survive.
func (s *Server) sanitize(req *compliance.Request) {
	clean := func(v string) string {
		return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(v)))
	}
	req.RequestID = clean(req.RequestID)
	req.Query.Text = clean(req.Query.Text)
	req.Query.ISIN = clean(req.Query.ISIN)
	req.Query.SEDOL = clean(req.Query.SEDOL)
	req.Query.Ticker = clean(req.Query.Ticker)
	req.Query.ExchangeCode = clean(req.Query.ExchangeCode)
	req.SelectedSymbol = clean(req.SelectedSymbol)
	req.EmployeeID = clean(req.EmployeeID)
	req.EmployeeCategory = clean(req.EmployeeCategory)
	req.EmployeeDesk = clean(req.EmployeeDesk)
}

func (s *Server) getDecision(c *gin.Context) {
	id := c.Param("id")
	d, err := s.deps.Decisions.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, audit.ErrNotFound):
		s.problem(c, apperrors.NewNotFoundError("decision "+id+" not found", c.Request.URL.Path))
		return
	case err != nil:
		s.logger.Error("Decision lookup failed", zap.String("decision_id", id), zap.Error(err))
		s.problem(c, apperrors.NewInternalError("decision lookup failed", c.Request.URL.Path))
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) getRules(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Rules.Snapshot(c.Request.Context()))
}

func (s *Server) putRules(c *gin.Context) {
	var next rules.Snapshot
	if err := c.ShouldBindJSON(&next); err != nil {
		s.problem(c, apperrors.NewValidationError("malformed rule set: "+err.Error(), c.Request.URL.Path))
		return
	}
	claims := c.MustGet(claimsKey).(*auth.Claims)

	saved, err := s.deps.Rules.Update(c.Request.Context(), &next, claims.Subject)
	if err != nil {
		if errors.Is(err, rules.ErrInvalidSnapshot) {
			s.problem(c, apperrors.NewInvalidRulesError(err.Error(), c.Request.URL.Path).
				WithValidationErrors(apperrors.FieldErrors(err)))
			return
		}
		s.logger.Error("Rule update failed", zap.String("author", claims.Subject), zap.Error(err))
		s.problem(c, apperrors.NewInternalError("rule update failed", c.Request.URL.Path))
		return
	}
	s.logger.Info("Rule set updated",
		zap.String("author", claims.Subject),
		zap.Int64("version", saved.Version))
	c.JSON(http.StatusOK, saved)
}

func (s *Server) invalidateRules(c *gin.Context) {
	s.deps.Rules.Invalidate()
	c.Status(http.StatusNoContent)
}

// problem writes p as application/problem+json and aborts the chain.
func (s *Server) problem(c *gin.Context, p *apperrors.ProblemDetails) {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		p.WithTraceID(sc.TraceID().String())
	}
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(p.Status, p)
}
