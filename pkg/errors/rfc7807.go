// Package errors renders API failures as RFC 7807 Problem Details.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Problem type URIs
const (
	TypeValidationError = "https://padcheck.dev/problems/validation-error"
	TypeUnauthorized    = "https://padcheck.dev/problems/unauthorized"
	TypeNotFound        = "https://padcheck.dev/problems/not-found"
	TypeInvalidRules    = "https://padcheck.dev/problems/invalid-rules"
	TypeRateLimit       = "https://padcheck.dev/problems/rate-limit"
	TypeInternalError   = "https://padcheck.dev/problems/internal-error"
	TypeUnavailable     = "https://padcheck.dev/problems/service-unavailable"
)

// Problem titles
const (
	TitleValidationError = "Validation Error"
	TitleUnauthorized    = "Unauthorized"
	TitleNotFound        = "Not Found"
	TitleInvalidRules    = "Invalid Rule Set"
	TitleRateLimit       = "Rate Limit Exceeded"
	TitleInternalError   = "Internal Server Error"
	TitleUnavailable     = "Service Unavailable"
)

// ValidationError represents a validation error for RFC 7807
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	TraceID  string            `json:"trace_id,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Extra    map[string]any    `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithValidationErrors adds validation errors to the problem details
func (p *ProblemDetails) WithValidationErrors(errs []ValidationError) *ProblemDetails {
	p.Errors = errs
	return p
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value any) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]any)
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]any)
	for k, v := range p.Extra {
		result[k] = v
	}
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	return json.Marshal(result)
}

// NewProblemDetails creates a generic problem details with all fields
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

func NewValidationError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeValidationError, TitleValidationError, http.StatusBadRequest, detail, instance)
}

func NewUnauthorizedError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeUnauthorized, TitleUnauthorized, http.StatusUnauthorized, detail, instance)
}

func NewNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeNotFound, TitleNotFound, http.StatusNotFound, detail, instance)
}

// NewInvalidRulesError is returned when a submitted rule set fails
// validation.
func NewInvalidRulesError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInvalidRules, TitleInvalidRules, http.StatusUnprocessableEntity, detail, instance)
}

func NewRateLimitError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeRateLimit, TitleRateLimit, http.StatusTooManyRequests, detail, instance)
}

func NewInternalError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, TitleInternalError, http.StatusInternalServerError, detail, instance)
}

func NewServiceUnavailableError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeUnavailable, TitleUnavailable, http.StatusServiceUnavailable, detail, instance)
}

// FieldErrors flattens validator failures into problem entries. Errors
// of any other kind yield nil.
func FieldErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fieldPath(fe.Namespace()),
			Message: describe(fe),
			Code:    fe.Tag(),
		})
	}
	return out
}

// fieldPath drops the root struct name: "Request.Query.ISIN" -> "query.isin".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "len":
		return "must have length " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	}
	return "failed " + fe.Tag() + " validation"
}
