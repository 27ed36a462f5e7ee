package issuer

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "popwatch/internal/errors"
	"popwatch/internal/security"
	"popwatch/internal/store"
	api "popwatch/pkg/contracts/api/v1"
)

var testClock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, st store.Store) (*Service, *security.Signer) {
	t.Helper()
	signer := security.NewSigner([]byte("issuer-test-secret"))
	svc := New(st, signer, Config{TokenTTL: 24 * time.Hour}, nil, NewMetrics(prometheus.NewRegistry()))
	svc.WithClock(func() time.Time { return testClock })
	return svc, signer
}

func seedLicense(t *testing.T, st store.Store, key string, maxDevices int, expiresAt *time.Time, active bool) *store.License {
	t.Helper()
	lic := &store.License{
		LicenseKey: key,
		Active:     active,
		ExpiresAt:  expiresAt,
		MaxDevices: maxDevices,
	}
	require.NoError(t, st.CreateLicense(context.Background(), lic))
	return lic
}

func TestVerifyIssuesSignedToken(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc, signer := newTestService(t, st)
	seedLicense(t, st, "POP-AAAA-BBBB-CCCC", 1, nil, true)

	resp, err := svc.Verify(ctx, api.VerifyRequest{
		LicenseKey: "POP-AAAA-BBBB-CCCC",
		DeviceID:   "device-1",
	})
	require.NoError(t, err)

	assert.Equal(t, api.StatusSuccess, resp.Status)
	assert.Equal(t, "POP-AAAA-BBBB-CCCC", resp.Token.License)
	assert.Equal(t, "device-1", resp.Token.Device)
	assert.Equal(t, testClock.Add(24*time.Hour).Unix(), resp.Token.Exp)
	assert.True(t, signer.Verify(resp.Token, resp.Signature), "response signature covers the token")
}

func TestVerifyLicenseChecks(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st)

	expired := testClock.Add(-time.Hour)
	future := testClock.Add(30 * 24 * time.Hour)
	seedLicense(t, st, "POP-EXPI-RED1-1111", 1, &expired, true)
	seedLicense(t, st, "POP-INAC-TIVE-2222", 1, nil, false)
	seedLicense(t, st, "POP-FUTU-RE33-3333", 1, &future, true)

	cases := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"unknown license", "POP-NOPE-NOPE-NOPE", apperrors.ErrLicenseInvalid},
		{"inactive license", "POP-INAC-TIVE-2222", apperrors.ErrLicenseInvalid},
		{"expired license", "POP-EXPI-RED1-1111", apperrors.ErrLicenseExpired},
		{"future expiry passes", "POP-FUTU-RE33-3333", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Verify(ctx, api.VerifyRequest{LicenseKey: tc.key, DeviceID: "device-x"})
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}

	t.Run("expired license does not bind", func(t *testing.T) {
		_, ok := st.BindingByDevice("device-y")
		require.False(t, ok)
		_, err := svc.Verify(ctx, api.VerifyRequest{LicenseKey: "POP-EXPI-RED1-1111", DeviceID: "device-y"})
		assert.ErrorIs(t, err, apperrors.ErrLicenseExpired)
		_, ok = st.BindingByDevice("device-y")
		assert.False(t, ok)
	})
}

func TestVerifyDeviceBinding(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st)
	licA := seedLicense(t, st, "POP-AAAA-AAAA-AAAA", 2, nil, true)
	licB := seedLicense(t, st, "POP-BBBB-BBBB-BBBB", 1, nil, true)

	verify := func(key, device string) error {
		_, err := svc.Verify(ctx, api.VerifyRequest{LicenseKey: key, DeviceID: device})
		return err
	}

	require.NoError(t, verify("POP-AAAA-AAAA-AAAA", "device-1"))
	require.NoError(t, verify("POP-AAAA-AAAA-AAAA", "device-2"))

	t.Run("third device exceeds quota", func(t *testing.T) {
		err := verify("POP-AAAA-AAAA-AAAA", "device-3")
		assert.ErrorIs(t, err, apperrors.ErrDeviceQuotaExceeded)
		assert.Equal(t, 2, st.BindingCount(licA.ID))
	})

	t.Run("bound devices re-verify at quota", func(t *testing.T) {
		assert.NoError(t, verify("POP-AAAA-AAAA-AAAA", "device-1"))
		assert.NoError(t, verify("POP-AAAA-AAAA-AAAA", "device-2"))
		assert.Equal(t, 2, st.BindingCount(licA.ID))
	})

	t.Run("device bound elsewhere conflicts", func(t *testing.T) {
		err := verify("POP-BBBB-BBBB-BBBB", "device-1")
		assert.ErrorIs(t, err, apperrors.ErrDeviceConflict)

		binding, ok := st.BindingByDevice("device-1")
		require.True(t, ok)
		assert.Equal(t, licA.ID, binding.LicenseID, "failed verify leaves the binding unchanged")
		assert.Equal(t, 0, st.BindingCount(licB.ID))
	})
}

// The single-seat walkthrough: one license, max_devices 1, two machines.
func TestVerifySingleSeatScenario(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st)
	seedLicense(t, st, "POP-SEAT-SEAT-SEAT", 1, nil, true)

	first, err := svc.Verify(ctx, api.VerifyRequest{LicenseKey: "POP-SEAT-SEAT-SEAT", DeviceID: "machine-a"})
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, first.Status)

	_, err = svc.Verify(ctx, api.VerifyRequest{LicenseKey: "POP-SEAT-SEAT-SEAT", DeviceID: "machine-b"})
	assert.ErrorIs(t, err, apperrors.ErrDeviceQuotaExceeded)

	binding, ok := st.BindingByDevice("machine-a")
	require.True(t, ok)
	firstSeen := binding.LastSeen

	svc.WithClock(func() time.Time { return testClock.Add(2 * time.Hour) })
	again, err := svc.Verify(ctx, api.VerifyRequest{LicenseKey: "POP-SEAT-SEAT-SEAT", DeviceID: "machine-a"})
	require.NoError(t, err)
	assert.Equal(t, testClock.Add(26*time.Hour).Unix(), again.Token.Exp, "re-verify mints a fresh token")

	binding, ok = st.BindingByDevice("machine-a")
	require.True(t, ok)
	assert.True(t, binding.LastSeen.After(firstSeen), "re-verify touches last_seen")
}

func TestGenerateLicense(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st)

	lic, err := svc.GenerateLicense(ctx, 3, nil)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^POP-[A-Z2-9]{4}-[A-Z2-9]{4}-[A-Z2-9]{4}$`), lic.LicenseKey)
	assert.True(t, lic.Active)
	assert.Equal(t, 3, lic.MaxDevices)

	got, err := st.LicenseByKey(ctx, lic.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, lic.ID, got.ID)

	t.Run("rejects zero seats", func(t *testing.T) {
		_, err := svc.GenerateLicense(ctx, 0, nil)
		assert.Error(t, err)
	})
}

func TestMaskLicenseKey(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"POP-AAAA-BBBB-CCCC", "POP-**********CCCC"},
		{"short", "****"},
		{"", "****"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MaskLicenseKey(tc.input))
	}
}

func TestOutcomeLabel(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{apperrors.ErrLicenseInvalid, "license_invalid"},
		{apperrors.ErrLicenseExpired, "license_expired"},
		{apperrors.ErrDeviceConflict, "device_conflict"},
		{apperrors.ErrDeviceQuotaExceeded, "quota_exceeded"},
		{context.Canceled, "error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, outcomeLabel(tc.err))
	}
}
