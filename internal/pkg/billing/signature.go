package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance bounds how old (or how far in the future, for clock
// skew) a signed webhook timestamp may be before the request is rejected as
// a potential replay.
const SignatureTolerance = 300 * time.Second

// VerifyWebhookSignature validates a Stripe-style webhook signature header
// against the exact raw request bytes. The header has the form
// "t=<unix-seconds>,v1=<hex>[,v1=<hex>...]"; more than one v1 value can be
// present while a signing secret rotation is in flight, and the signature is
// accepted if any of them matches. Verification fails closed: any parse
// problem, a missing timestamp or v1 field, an empty secret or a timestamp
// outside the tolerance window all return false.
//
// Callers must pass the raw body bytes as received on the wire. Re-serialized
// JSON can differ byte-wise from what Stripe signed.
func VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string, now time.Time) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}

	timestamp, candidates, ok := parseSignatureHeader(signatureHeader)
	if !ok {
		return false
	}

	age := now.Unix() - timestamp
	if age > int64(SignatureTolerance.Seconds()) || -age > int64(SignatureTolerance.Seconds()) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		// hmac.Equal is constant-time; the implicit length check makes a
		// wrong-length candidate fail fast without leaking byte positions.
		if hmac.Equal([]byte(strings.ToLower(candidate)), []byte(expected)) {
			return true
		}
	}
	return false
}

// parseSignatureHeader splits "t=...,v1=...,v1=..." into the timestamp and
// all v1 signature candidates. Unknown keys are ignored.
func parseSignatureHeader(header string) (timestamp int64, candidates []string, ok bool) {
	haveTimestamp := false
	for _, pair := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, false
			}
			timestamp = ts
			haveTimestamp = true
		case "v1":
			if value != "" {
				candidates = append(candidates, value)
			}
		}
	}
	if !haveTimestamp || len(candidates) == 0 {
		return 0, nil, false
	}
	return timestamp, candidates, true
}
