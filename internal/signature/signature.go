// Package signature verifies the authenticity and freshness of inbound Slack
// requests using the v0 signing scheme.
//
// The signature is an HMAC-SHA256 over the exact raw body bytes:
//
//	v0=hex(HMAC-SHA256(secret, "v0:" + timestamp + ":" + body))
//
// Comparison uses crypto/subtle to prevent timing attacks, and errors carry no
// detail about which part of the check failed beyond the coarse category, so
// responses built from them cannot be used as a signing oracle.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Headers carrying the signature material on inbound requests.
const (
	TimestampHeader = "X-Slack-Request-Timestamp"
	SignatureHeader = "X-Slack-Signature"
)

// MaxSkew is the freshness window. Requests whose timestamp differs from the
// local clock by more than this are rejected regardless of signature.
const MaxSkew = 5 * time.Minute

const versionPrefix = "v0"

var (
	// ErrStale means the request timestamp fell outside the freshness window.
	ErrStale = errors.New("request timestamp outside allowed window")

	// ErrMismatch means the signature did not match the request body.
	ErrMismatch = errors.New("signature mismatch")

	// ErrMalformed means a required header was missing or undecodable.
	ErrMalformed = errors.New("malformed signature headers")
)

// Verify checks a v0 request signature against the raw body bytes. The body
// must be the exact bytes received on the wire; any re-serialization before
// this call invalidates the check.
func Verify(secret, timestamp string, body []byte, provided string, now time.Time) error {
	if secret == "" || timestamp == "" || provided == "" {
		return ErrMalformed
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrMalformed
	}

	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxSkew {
		return ErrStale
	}

	if !strings.HasPrefix(provided, versionPrefix+"=") {
		return ErrMalformed
	}
	providedMAC, err := hex.DecodeString(strings.TrimPrefix(provided, versionPrefix+"="))
	if err != nil {
		return ErrMalformed
	}

	expectedMAC := computeMAC(secret, timestamp, body)
	if subtle.ConstantTimeCompare(expectedMAC, providedMAC) != 1 {
		return ErrMismatch
	}

	return nil
}

// VerifyRequest pulls the timestamp and signature headers off an HTTP request
// and verifies them against the already-read raw body.
func VerifyRequest(secret string, header http.Header, body []byte, now time.Time) error {
	timestamp := header.Get(TimestampHeader)
	provided := header.Get(SignatureHeader)
	if timestamp == "" || provided == "" {
		return ErrMalformed
	}
	return Verify(secret, timestamp, body, provided, now)
}

// Sign computes the v0 signature for a body. Used by tests and by stub
// platforms that need to produce verifiable requests.
func Sign(secret, timestamp string, body []byte) string {
	return versionPrefix + "=" + hex.EncodeToString(computeMAC(secret, timestamp, body))
}

func computeMAC(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:", versionPrefix, timestamp)
	mac.Write(body)
	return mac.Sum(nil)
}
