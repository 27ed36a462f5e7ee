// Package errors defines the license error taxonomy and its HTTP mapping.
//
// Business failures (invalid, expired, conflict, quota, malformed) are
// terminal and surfaced verbatim to the caller. Network failures are the only
// retryable class. Security failures (bad signature, device mismatch, token
// expired beyond grace) are always a hard denial and are never downgraded to
// a retry or a cache accept.
package errors

import (
	"errors"
	"net/http"
)

// Business failures. These map 1:1 to HTTP statuses on the wire and must
// never be retried by the client.
var (
	ErrLicenseInvalid      = errors.New("license not found or revoked")
	ErrLicenseExpired      = errors.New("license expired")
	ErrDeviceConflict      = errors.New("device is bound to a different license")
	ErrDeviceQuotaExceeded = errors.New("device quota exceeded for this license")
	ErrMalformedRequest    = errors.New("malformed verify request")
)

// Transport failures. The only retryable class; retries are bounded by the
// client configuration.
var (
	ErrNetwork = errors.New("license server unreachable")
)

// Security failures. Detected client-side after an otherwise successful
// response or cache read.
var (
	ErrSignatureInvalid = errors.New("token signature verification failed")
	ErrDeviceMismatch   = errors.New("token was issued for a different device")
	ErrTokenExpired     = errors.New("token expired beyond the offline grace window")
)

// HTTPStatus maps a taxonomy error to its wire status. Unknown errors map to
// 500 so an unexpected server-side failure is never mistaken for a business
// outcome.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrLicenseInvalid):
		return http.StatusNotFound
	case errors.Is(err, ErrLicenseExpired):
		return http.StatusGone
	case errors.Is(err, ErrDeviceConflict):
		return http.StatusForbidden
	case errors.Is(err, ErrDeviceQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrMalformedRequest):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus maps a wire status back to the taxonomy on the client side.
// Statuses outside the contract are treated as server-side failures and
// reported as network errors so the bounded retry policy can apply.
func FromHTTPStatus(status int) error {
	switch status {
	case http.StatusNotFound:
		return ErrLicenseInvalid
	case http.StatusGone:
		return ErrLicenseExpired
	case http.StatusForbidden:
		return ErrDeviceConflict
	case http.StatusTooManyRequests:
		return ErrDeviceQuotaExceeded
	case http.StatusUnprocessableEntity:
		return ErrMalformedRequest
	default:
		return ErrNetwork
	}
}

// Retryable reports whether the client may retry the failed attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Reason reduces any error to a human-readable string for user messaging.
// Internal errors never escape the orchestrator boundary in any other form.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, sentinel := range []error{
		ErrLicenseInvalid, ErrLicenseExpired, ErrDeviceConflict,
		ErrDeviceQuotaExceeded, ErrMalformedRequest, ErrNetwork,
		ErrSignatureInvalid, ErrDeviceMismatch, ErrTokenExpired,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
