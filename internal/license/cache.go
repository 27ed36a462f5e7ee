package license

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"popwatch/internal/security"
	api "popwatch/pkg/contracts/api/v1"
)

// Credential is the persisted client-side state: the last good token, its
// signature, and when it was written.
type Credential struct {
	Token     api.Token `json:"token"`
	Signature string    `json:"signature"`
	CachedAt  int64     `json:"cached_at"`
}

// FreshWithin reports whether the credential was written within interval of
// now. This gates the no-network fast path only; it has no bearing on
// whether the token itself is acceptable.
func (c *Credential) FreshWithin(interval time.Duration, now time.Time) bool {
	return now.Unix()-c.CachedAt <= int64(interval.Seconds())
}

// Cache persists the last good credential on disk, obfuscated with a key
// derived from the device fingerprint.
type Cache struct {
	path        string
	signer      *security.Signer
	fingerprint string
	grace       time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewCache creates a token cache bound to the given device fingerprint.
// grace is the offline window past token expiry during which a cached token
// is still accepted.
func NewCache(path string, signer *security.Signer, fingerprint string, grace time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		path:        path,
		signer:      signer,
		fingerprint: fingerprint,
		grace:       grace,
		logger:      logger.With(slog.String("component", "token_cache")),
		now:         time.Now,
	}
}

// Load returns the cached credential when the full validity chain holds, and
// nil otherwise. It never returns an error: a cache that cannot be trusted
// is simply absent.
//
// Chain, short-circuiting on first failure: file parses, token device equals
// the local fingerprint, signature verifies, and now is at most grace past
// token expiry.
func (c *Cache) Load() *Credential {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}

	plaintext, err := security.Deobfuscate(security.DeriveObfuscationKey(c.fingerprint), string(data))
	if err != nil {
		// Earlier installs wrote the credential as plain base64 JSON.
		plaintext, err = base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			c.logger.Debug("cache file unreadable, treating as absent")
			return nil
		}
	}

	var cred Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		c.logger.Debug("cache file corrupt, treating as absent")
		return nil
	}

	if cred.Token.Device != c.fingerprint {
		c.logger.Warn("cached token is for a different device, discarding",
			slog.String("action", "cache_discard"),
			slog.String("reason", "device_mismatch"),
		)
		return nil
	}
	if !c.signer.Verify(cred.Token, cred.Signature) {
		c.logger.Warn("cached token signature invalid, discarding",
			slog.String("action", "cache_discard"),
			slog.String("reason", "signature_invalid"),
		)
		return nil
	}

	now := c.now().Unix()
	if now > cred.Token.Exp+int64(c.grace.Seconds()) {
		c.logger.Info("cached token expired beyond offline grace, discarding",
			slog.String("action", "cache_discard"),
			slog.String("reason", "grace_exceeded"),
		)
		return nil
	}
	return &cred
}

// Save overwrites the cache with the given token and signature.
func (c *Cache) Save(token api.Token, signature string) error {
	cred := Credential{
		Token:     token,
		Signature: signature,
		CachedAt:  c.now().Unix(),
	}
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	encoded, err := security.Obfuscate(security.DeriveObfuscationKey(c.fingerprint), plaintext)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, []byte(encoded), 0o600)
}

// WithClock overrides the cache clock, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}
