// Package security provides the cryptographic and device-identity primitives
// of the license scheme: canonical-JSON HMAC signing, device fingerprinting,
// and obfuscation of client-side state at rest.
package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Signer signs and verifies payloads with HMAC-SHA256 over their canonical
// JSON serialization. The secret is provisioned externally; the Signer never
// generates or rotates it.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the given shared secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex-encoded HMAC-SHA256 of the canonical serialization of
// payload. Payload may be any JSON-marshalable value; map key order does not
// affect the result.
func (s *Signer) Sign(payload any) (string, error) {
	raw, err := Canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature for payload and compares it to the given
// hex signature in constant time.
func (s *Signer) Verify(payload any, signature string) bool {
	expected, err := s.Sign(payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// Canonicalize serializes payload to canonical JSON: object keys sorted
// ascending by code point, no extra whitespace, UTF-8 output, scalars in
// their minimal JSON form, no trailing newline. Both sides of the wire must
// produce byte-identical output for the same logical payload.
func Canonicalize(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeScalar(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		buf.WriteString(t.String())
		return nil
	default:
		return writeScalar(buf, t)
	}
}

// writeScalar encodes strings, booleans, and null without HTML escaping so
// the output stays raw UTF-8.
func writeScalar(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode appends a newline; canonical form has none.
	buf.Truncate(buf.Len() - 1)
	return nil
}
