// Package issuer implements the server-side core of the license scheme: it
// validates a license record, enforces device binding and quota, and mints
// signed, time-bounded tokens.
package issuer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "popwatch/internal/errors"
	"popwatch/internal/security"
	"popwatch/internal/store"
	api "popwatch/pkg/contracts/api/v1"
)

// Config holds issuing parameters.
type Config struct {
	// TokenTTL bounds the lifetime of minted tokens. The client's offline
	// grace window extends acceptance past exp on its side only; it never
	// extends exp itself.
	TokenTTL time.Duration
}

// Service issues signed tokens for validated (license, device) pairs.
type Service struct {
	store   store.Store
	signer  *security.Signer
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// New creates an issuer service. Metrics may be nil.
func New(st store.Store, signer *security.Signer, cfg Config, logger *slog.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		signer:  signer,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "issuer")),
		metrics: metrics,
		now:     time.Now,
	}
}

// Verify validates the license, binds (or touches) the device, and returns a
// freshly minted signed token. All failures map to the error taxonomy;
// binding state is unchanged on any failure.
func (s *Service) Verify(ctx context.Context, req api.VerifyRequest) (*api.VerifyResponse, error) {
	tracer := otel.Tracer("issuer")
	ctx, span := tracer.Start(ctx, "issuer.verify",
		trace.WithAttributes(
			attribute.String("license.key", MaskLicenseKey(req.LicenseKey)),
		),
	)
	defer span.End()

	start := s.now()
	resp, err := s.verify(ctx, req)
	s.metrics.observe(outcomeLabel(err), s.now().Sub(start).Seconds())

	if err != nil {
		span.SetAttributes(attribute.String("verify.outcome", outcomeLabel(err)))
		s.logger.WarnContext(ctx, "verify rejected",
			slog.String("action", "verify_rejected"),
			slog.String("license_key", MaskLicenseKey(req.LicenseKey)),
			slog.String("reason", apperrors.Reason(err)),
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("verify.outcome", "success"))
	return resp, nil
}

func (s *Service) verify(ctx context.Context, req api.VerifyRequest) (*api.VerifyResponse, error) {
	now := s.now()

	lic, err := s.store.LicenseByKey(ctx, req.LicenseKey)
	if err != nil {
		return nil, err
	}
	if !lic.Active {
		return nil, apperrors.ErrLicenseInvalid
	}
	if lic.ExpiresAt != nil && now.After(*lic.ExpiresAt) {
		return nil, apperrors.ErrLicenseExpired
	}

	_, created, err := s.store.BindDevice(ctx, lic.ID, lic.MaxDevices, req.DeviceID, now)
	if err != nil {
		return nil, err
	}
	if created {
		if s.metrics != nil {
			s.metrics.BindingsCreated.Inc()
		}
		s.logger.InfoContext(ctx, "device bound",
			slog.String("action", "device_bound"),
			slog.String("license_key", MaskLicenseKey(lic.LicenseKey)),
			slog.String("client_version", req.ClientVersion),
		)
	}

	token := api.Token{
		License: lic.LicenseKey,
		Device:  req.DeviceID,
		Exp:     now.Add(s.cfg.TokenTTL).Unix(),
	}
	signature, err := s.signer.Sign(token)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
	}

	return &api.VerifyResponse{
		Status:    api.StatusSuccess,
		Token:     token,
		Signature: signature,
	}, nil
}

// GenerateLicense creates a new license record with a random key of the form
// POP-XXXX-XXXX-XXXX. Used by seeding; the admin surface proper is external.
func (s *Service) GenerateLicense(ctx context.Context, maxDevices int, expiresAt *time.Time) (*store.License, error) {
	if maxDevices < 1 {
		return nil, fmt.Errorf("max_devices must be at least 1, got %d", maxDevices)
	}

	key, err := generateLicenseKey()
	if err != nil {
		return nil, err
	}
	lic := &store.License{
		LicenseKey: key,
		Active:     true,
		ExpiresAt:  expiresAt,
		MaxDevices: maxDevices,
	}
	if err := s.store.CreateLicense(ctx, lic); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "license generated",
		slog.String("action", "license_generated"),
		slog.String("license_key", MaskLicenseKey(key)),
		slog.Int("max_devices", maxDevices),
	)
	return lic, nil
}

// keyAlphabet omits easily confused characters.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateLicenseKey() (string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}

	var b strings.Builder
	b.WriteString("POP")
	for i, c := range raw {
		if i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(keyAlphabet[int(c)%len(keyAlphabet)])
	}
	return b.String(), nil
}

// MaskLicenseKey hides the middle of a license key for logs.
func MaskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrLicenseInvalid):
		return "license_invalid"
	case errors.Is(err, apperrors.ErrLicenseExpired):
		return "license_expired"
	case errors.Is(err, apperrors.ErrDeviceConflict):
		return "device_conflict"
	case errors.Is(err, apperrors.ErrDeviceQuotaExceeded):
		return "quota_exceeded"
	default:
		return "error"
	}
}

// WithClock overrides the issuer clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}
