// Package http exposes the license issuer over HTTP: POST /verify (and its
// /activate alias), plus health and metrics endpoints.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "popwatch/internal/errors"
	"popwatch/internal/infrastructure"
	"popwatch/internal/issuer"
	api "popwatch/pkg/contracts/api/v1"
)

// LicenseHandler handles license verification requests.
type LicenseHandler struct {
	service  *issuer.Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(service *issuer.Service, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "license")),
	}
}

// Verify handles POST /verify. Malformed bodies and contract violations are
// 422; everything else maps through the error taxonomy.
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.GetTraceID(ctx)
	tracer := otel.Tracer("license-handler")
	start := time.Now()

	ctx, span := tracer.Start(ctx, "license_handler.verify",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		),
	)
	defer span.End()

	var req api.VerifyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.logger.WarnContext(ctx, "verify request body unreadable",
			slog.String("action", "verify_bind"),
			slog.String("error", err.Error()),
		)
		apperrors.ProblemFromError(apperrors.ErrMalformedRequest, traceID).Render(w, r)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.logger.WarnContext(ctx, "verify request failed validation",
			slog.String("action", "verify_bind"),
			slog.String("error", err.Error()),
		)
		apperrors.ProblemFromError(apperrors.ErrMalformedRequest, traceID).Render(w, r)
		return
	}

	resp, err := h.service.Verify(ctx, req)
	if err != nil {
		apperrors.ProblemFromError(err, traceID).Render(w, r)
		return
	}

	h.logger.InfoContext(ctx, "token issued",
		slog.String("action", "token_issued"),
		slog.String("license_key", issuer.MaskLicenseKey(req.LicenseKey)),
		slog.Duration("duration", time.Since(start)),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// Health handles GET /healthz.
func (h *LicenseHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
