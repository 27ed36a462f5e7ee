package license

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	apperrors "popwatch/internal/errors"
	"popwatch/internal/security"
	api "popwatch/pkg/contracts/api/v1"
)

// Verifier is the online verification dependency of the Manager.
type Verifier interface {
	Verify(ctx context.Context, req api.VerifyRequest) (*api.VerifyResponse, error)
}

// Fingerprinter supplies the local device fingerprint.
type Fingerprinter interface {
	Fingerprint() (string, error)
}

// ManagerOptions configures the verification orchestrator.
type ManagerOptions struct {
	// KeyPath is the file persisting the license key.
	KeyPath string
	// CachePath is the cached credential file.
	CachePath string
	// ServerURL is the license server base URL.
	ServerURL string
	// Timeout applies per online attempt.
	Timeout time.Duration
	// RetryAttempts bounds online tries per EnsureValid call.
	RetryAttempts int
	// RecheckInterval gates the no-network fast path: a credential written
	// within this window short-circuits online verification.
	RecheckInterval time.Duration
	// OfflineGrace bounds how long past token expiry a cached credential is
	// still accepted without server contact.
	OfflineGrace time.Duration
	// ClientVersion is reported to the server, for diagnostics.
	ClientVersion string
}

// Manager drives license verification for the host tool. It is
// single-threaded by design; the cache file is not locked against concurrent
// processes.
type Manager struct {
	opts        ManagerOptions
	fingerprint string
	cache       *Cache
	client      Verifier
	signer      *security.Signer
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager builds the orchestrator. The device fingerprint is resolved
// once here; it is persisted and therefore stable for the install.
func NewManager(opts ManagerOptions, signer *security.Signer, fp Fingerprinter, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fingerprint, err := fp.Fingerprint()
	if err != nil {
		return nil, err
	}

	return &Manager{
		opts:        opts,
		fingerprint: fingerprint,
		cache:       NewCache(opts.CachePath, signer, fingerprint, opts.OfflineGrace, logger),
		client:      NewClient(opts.ServerURL, opts.Timeout, opts.RetryAttempts, logger),
		signer:      signer,
		logger:      logger.With(slog.String("component", "license_manager")),
		now:         time.Now,
	}, nil
}

// LicenseKey returns the persisted license key, if any.
func (m *Manager) LicenseKey() (string, bool) {
	data, err := os.ReadFile(m.opts.KeyPath)
	if err != nil {
		return "", false
	}
	key := strings.TrimSpace(string(data))
	return key, key != ""
}

// SetLicenseKey persists a license key obtained from the user.
func (m *Manager) SetLicenseKey(key string) error {
	key = strings.TrimSpace(key)
	return os.WriteFile(m.opts.KeyPath, []byte(key+"\n"), 0o600)
}

// Fingerprint returns the resolved device fingerprint.
func (m *Manager) Fingerprint() string {
	return m.fingerprint
}

// EnsureValid runs one verification pass and reduces every outcome to a
// state plus a human-readable reason. It never returns an error to the
// caller; a reason accompanies every non-valid state.
func (m *Manager) EnsureValid(ctx context.Context) (State, string) {
	key, ok := m.LicenseKey()
	if !ok {
		return StateNeedKey, "no license key on record"
	}

	now := m.now()
	cred := m.cache.Load()

	// Fast path: a fresh, fully valid cached credential needs no network.
	if cred != nil && cred.FreshWithin(m.opts.RecheckInterval, now) {
		m.logger.DebugContext(ctx, "cached credential fresh, skipping online check",
			slog.String("action", "ensure_valid"),
			slog.String("outcome", "cached_ok"),
		)
		return StateCachedOk, ""
	}

	resp, err := m.client.Verify(ctx, api.VerifyRequest{
		LicenseKey:    key,
		DeviceID:      m.fingerprint,
		ClientVersion: m.opts.ClientVersion,
	})
	if err == nil {
		if secErr := m.validateIssued(resp, now); secErr != nil {
			// A server that reports success but hands back an unverifiable
			// token is a security failure, not a business failure.
			m.logger.ErrorContext(ctx, "issued token failed local verification",
				slog.String("action", "ensure_valid"),
				slog.String("outcome", "denied"),
				slog.String("reason", apperrors.Reason(secErr)),
			)
			return StateDenied, apperrors.Reason(secErr)
		}
		if saveErr := m.cache.Save(resp.Token, resp.Signature); saveErr != nil {
			m.logger.WarnContext(ctx, "failed to persist credential cache",
				slog.String("action", "cache_save"),
				slog.String("error", saveErr.Error()),
			)
		}
		m.logger.InfoContext(ctx, "license verified online",
			slog.String("action", "ensure_valid"),
			slog.String("outcome", "online_ok"),
		)
		return StateOnlineOk, ""
	}

	if apperrors.Retryable(err) && cred != nil {
		// Degraded mode: the server is unreachable but the cached token is
		// still within its offline grace window.
		m.logger.WarnContext(ctx, "server unreachable, accepting cached credential",
			slog.String("action", "ensure_valid"),
			slog.String("outcome", "cached_ok_offline"),
		)
		return StateCachedOk, ""
	}

	reason := apperrors.Reason(err)
	m.logger.WarnContext(ctx, "license verification denied",
		slog.String("action", "ensure_valid"),
		slog.String("outcome", "denied"),
		slog.String("reason", reason),
	)
	return StateDenied, reason
}

// validateIssued applies the local security checks to a freshly issued
// token. An HTTP-level success is meaningless until these pass.
func (m *Manager) validateIssued(resp *api.VerifyResponse, now time.Time) error {
	if !m.signer.Verify(resp.Token, resp.Signature) {
		return apperrors.ErrSignatureInvalid
	}
	if resp.Token.Device != m.fingerprint {
		return apperrors.ErrDeviceMismatch
	}
	if now.Unix() > resp.Token.Exp {
		return apperrors.ErrTokenExpired
	}
	return nil
}

// WithVerifier overrides the online verifier, for tests.
func (m *Manager) WithVerifier(v Verifier) *Manager {
	m.client = v
	return m
}

// WithClock overrides the manager and cache clocks, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	m.cache.WithClock(now)
	return m
}
