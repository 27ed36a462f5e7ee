package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Problem is an RFC 7807 problem details object, the error body for every
// non-200 response the license server produces.
type Problem struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Status  int    `json:"status"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Render writes the complete problem response. The write happens here rather
// than through render.Respond, which would reset the content type to
// application/json.
func (p *Problem) Render(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	// Encode failures are unreportable once the header is on the wire.
	_ = json.NewEncoder(w).Encode(p)
}

// MarshalJSON keeps the field order stable for problem responses.
func (p *Problem) MarshalJSON() ([]byte, error) {
	type alias Problem
	return json.Marshal((*alias)(p))
}

// problemTypes gives each taxonomy error a stable type URI fragment.
var problemTypes = map[error]string{
	ErrLicenseInvalid:      "/errors/license-invalid",
	ErrLicenseExpired:      "/errors/license-expired",
	ErrDeviceConflict:      "/errors/device-conflict",
	ErrDeviceQuotaExceeded: "/errors/device-quota-exceeded",
	ErrMalformedRequest:    "/errors/malformed-request",
}

// NewProblem builds a problem response with an explicit status and texts.
func NewProblem(status int, title, detail, traceID string) *Problem {
	return &Problem{
		Type:    "about:blank",
		Title:   title,
		Status:  status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// ProblemFromError maps a taxonomy error to its RFC 7807 representation.
func ProblemFromError(err error, traceID string) *Problem {
	status := HTTPStatus(err)
	p := &Problem{
		Type:    "about:blank",
		Title:   http.StatusText(status),
		Status:  status,
		Detail:  Reason(err),
		TraceID: traceID,
	}
	for sentinel, uri := range problemTypes {
		if errors.Is(err, sentinel) {
			p.Type = uri
			break
		}
	}
	if status == http.StatusInternalServerError {
		// Do not leak internals to the wire.
		p.Detail = "an unexpected error occurred"
	}
	return p
}
