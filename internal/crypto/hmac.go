package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// APICreds holds the derived credentials for HMAC-authenticated requests
// against the exchange's order API. Credentials expire server-side; the
// executor re-derives them once per order on an auth rejection.
type APICreds struct {
	Key        string // API key
	Secret     string // base64-encoded API secret
	Passphrase string
}

// Valid reports whether all three credential fields are populated.
func (c *APICreds) Valid() bool {
	return c != nil && c.Key != "" && c.Secret != "" && c.Passphrase != ""
}

// L2Headers returns the HTTP headers for an authenticated exchange request.
// The secret is base64-decoded before being used as the HMAC key.
//
// Returned header keys:
//   - POLY_ADDRESS
//   - POLY_API_KEY
//   - POLY_TIMESTAMP
//   - POLY_PASSPHRASE
//   - POLY_SIGNATURE
func (c *APICreds) L2Headers(address, method, path, body string) map[string]string {
	return c.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is like L2Headers but lets the caller supply the Unix
// timestamp (useful for deterministic testing).
func (c *APICreds) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secretBytes, err := base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		// If decoding fails, fall back to raw bytes so the caller gets an
		// obviously-wrong signature rather than a panic.
		secretBytes = []byte(c.Secret)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(ts + method + path + body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    c.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": c.Passphrase,
		"POLY_SIGNATURE":  sig,
	}
}

// String returns a redacted representation suitable for logging.
func (c *APICreds) String() string {
	redactCred := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("APICreds{key=%s, secret=%s}", redactCred(c.Key), redactCred(c.Secret))
}
