package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/homebitez/api/internal/platform/httpx"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultClockSkew       = 5 * time.Minute
)

// HMACValidator verifies signed webhook deliveries. The signature is an HMAC-SHA256 over
// "METHOD\nPATH\nTIMESTAMP\nhex(sha256(body))" keyed by the per-provider secret.
type HMACValidator struct {
	secrets         map[string]string
	now             func() time.Time
	signatureHeader string
	timestampHeader string
	clockSkew       time.Duration
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// WithHMACClock injects a custom clock (primarily for testing).
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders overrides the signature and timestamp header names.
func WithHMACHeaders(signature, timestamp string) HMACOption {
	return func(v *HMACValidator) {
		if signature = strings.TrimSpace(signature); signature != "" {
			v.signatureHeader = signature
		}
		if timestamp = strings.TrimSpace(timestamp); timestamp != "" {
			v.timestampHeader = timestamp
		}
	}
}

// WithHMACClockSkew overrides the accepted timestamp window.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// NewHMACValidator builds a validator over the named secrets.
func NewHMACValidator(secrets map[string]string, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		secrets:         make(map[string]string, len(secrets)),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		clockSkew:       defaultClockSkew,
	}
	for name, secret := range secrets {
		v.secrets[strings.ToLower(strings.TrimSpace(name))] = secret
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// RequireHMAC enforces a valid signature made with the secret registered under name.
func (v *HMACValidator) RequireHMAC(name string) func(http.Handler) http.Handler {
	name = strings.ToLower(strings.TrimSpace(name))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			secret := v.secrets[name]
			if secret == "" {
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "hmac secret not configured")
				return
			}

			signature, err := decodeSignature(strings.TrimSpace(r.Header.Get(v.signatureHeader)))
			if err != nil {
				respondAuthError(ctx, w, http.StatusUnauthorized, "signature_invalid", "signature header missing or invalid")
				return
			}
			timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
			timestamp, err := parseSignatureTimestamp(timestampValue)
			if err != nil {
				respondAuthError(ctx, w, http.StatusUnauthorized, "timestamp_invalid", "signature timestamp missing or invalid")
				return
			}
			if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
				respondAuthError(ctx, w, http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				respondAuthError(ctx, w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}
			expected := SignRequest([]byte(secret), r.Method, r.URL.EscapedPath(), timestampValue, body)
			if !hmac.Equal(signature, expected) {
				respondAuthError(ctx, w, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SignRequest computes the signature a sender must present.
func SignRequest(secret []byte, method, path, timestamp string, body []byte) []byte {
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	canonical := strings.Join([]string{strings.ToUpper(method), path, timestamp, hex.EncodeToString(hash[:])}, "\n")
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(canonical))
	return mac.Sum(nil)
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, httpx.MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}
