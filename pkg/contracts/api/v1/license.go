// Package api contains the wire contract shared by the license server and
// the popwatch client. Version v1 is the current stable shape of /verify.
package api

// VerifyRequest is the payload of POST /verify (and its /activate alias).
type VerifyRequest struct {
	LicenseKey    string `json:"license_key" validate:"required,min=8,max=64"`
	DeviceID      string `json:"device_id" validate:"required,len=64,hexadecimal"`
	ClientVersion string `json:"client_version,omitempty" validate:"omitempty,max=32"`
}

// Token is the signed assertion that a (license, device) pair was validated
// at issuance time. It is immutable once signed; validity is established
// solely by the paired signature and the exp bound, never by server state.
type Token struct {
	License string `json:"license"`
	Device  string `json:"device"`
	Exp     int64  `json:"exp"`
}

// VerifyResponse is the success body of POST /verify. Signature is the
// hex-encoded HMAC-SHA256 over the canonical JSON serialization of Token.
type VerifyResponse struct {
	Status    string `json:"status"`
	Token     Token  `json:"token"`
	Signature string `json:"signature"`
}

// StatusSuccess is the only Status value a 200 response carries.
const StatusSuccess = "success"
