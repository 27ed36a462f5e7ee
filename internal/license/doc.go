// Package license implements the client side of the device-bound license
// scheme: a persisted token cache with offline grace, an HTTP client for the
// verify endpoint, and the EnsureValid orchestrator the host tool gates on.
//
// # Validation flow
//
// EnsureValid decides between three paths:
//
//  1. Cached fast path: the cached credential is fresh (written within the
//     recheck interval) and passes the full validity chain. No network I/O.
//  2. Online verification: the issuer is asked for a fresh token, with
//     bounded retries on transport errors only. The returned token is
//     re-verified locally (signature, device, expiry) before it is trusted.
//  3. Offline grace: when the server is unreachable, a cached token is
//     accepted until offline grace past its expiry has elapsed.
//
// Every other outcome is a denial with a human-readable reason; internal
// errors never escape to the caller.
//
// # Cache file
//
// The cached credential {token, signature, cached_at} is stored obfuscated
// on disk. Obfuscation is not a security boundary; the HMAC signature is the
// only tamper-proofing. Any unreadable, stale, mismatched, or tampered cache
// is treated as absent, never as an error.
package license
