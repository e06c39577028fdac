package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how old a signed payload may be before it is
// rejected as a possible replay
const DefaultTolerance = 5 * time.Minute

// Sign produces a signature header value for the given payload. Used by the
// processor simulator in tests and by operator tooling replaying events.
func Sign(body, secret []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// verifySignature checks a "t=<unix>,v1=<hex>" header against the raw body.
// The signed string is "<t>.<body>" so neither the timestamp nor the payload
// can be swapped independently.
func verifySignature(body []byte, header string, secret []byte, tolerance time.Duration, now time.Time) error {
	var ts string
	var sig []byte

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			decoded, err := hex.DecodeString(value)
			if err == nil {
				sig = decoded
			}
		}
	}

	if ts == "" || sig == nil {
		return fmt.Errorf("%w: missing timestamp or signature", ErrBadSignature)
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp", ErrBadSignature)
	}

	age := now.Sub(time.Unix(tsInt, 0))
	if age > tolerance || age < -tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)

	if !hmac.Equal(sig, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
