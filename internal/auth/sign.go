// Package auth implements the HMAC-SHA256 request signing and verification
// primitive shared by the Hub and Daemon HTTP surfaces (spec §4.1).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/intercom-mesh/intercom/internal/domain"
)

// Headers carries the three signed-request headers (spec §6).
type Headers struct {
	Machine   string
	Timestamp string
	Signature string
}

// Apply writes h onto an http.Header-like setter. Kept generic over *http.Request
// and http.Header by accepting a setter func so callers don't need to import net/http here.
func (h Headers) Apply(set func(key, value string)) {
	set(domain.HeaderMachine, h.Machine)
	set(domain.HeaderTimestamp, h.Timestamp)
	set(domain.HeaderSignature, h.Signature)
}

// canonicalRequest builds the string that gets signed:
// method || "\n" || path || "\n" || ts || "\n" || sha256(body)
func canonicalRequest(method, path string, ts int64, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s\n%s\n%d\n%s", method, path, ts, hex.EncodeToString(sum[:]))
}

// Sign computes the signed-request headers for the given request components.
// token must be the machine's current shared secret; an empty token signs
// nothing meaningful and should only be used for the unauthenticated
// bootstrap endpoints.
func Sign(method, path string, body []byte, token, machineID string, now time.Time) Headers {
	ts := now.Unix()
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(canonicalRequest(method, path, ts, body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	return Headers{
		Machine:   machineID,
		Timestamp: strconv.FormatInt(ts, 10),
		Signature: sig,
	}
}

// VerifyResult is the outcome of Verify.
type VerifyResult string

const (
	VerifyOK                   VerifyResult = "ok"
	VerifyStale                VerifyResult = "stale"
	VerifyBadSignature         VerifyResult = "bad_signature"
	VerifyUnknownMachine       VerifyResult = "unknown_machine"
)

// TokenLookup resolves a machine's current shared secret. It returns ok=false
// if the machine is unknown or has no token (i.e. is not approved).
type TokenLookup func(machineID string) (token string, ok bool)

// Verify checks a signed request's headers against the canonical request and
// the machine's stored token. now is injected so tests can control the clock.
// An empty token on a signed request is always rejected: empty tokens mean
// "unauthenticated endpoint" and the verifier must never accept a signature
// computed with one.
func Verify(method, path string, body []byte, headers Headers, lookup TokenLookup, now time.Time) VerifyResult {
	if headers.Machine == "" {
		return VerifyUnknownMachine
	}

	token, ok := lookup(headers.Machine)
	if !ok || token == "" {
		return VerifyUnknownMachine
	}

	ts, err := strconv.ParseInt(headers.Timestamp, 10, 64)
	if err != nil {
		return VerifyBadSignature
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > domain.ReplayWindow {
		return VerifyStale
	}

	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(canonicalRequest(method, path, ts, body)))
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(headers.Signature)
	if err != nil {
		return VerifyBadSignature
	}
	if subtle.ConstantTimeCompare(expected, got) != 1 {
		return VerifyBadSignature
	}
	return VerifyOK
}
