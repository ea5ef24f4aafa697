// Package auth verifies the signed-request scheme used by both emulated
// APIs: Authorization: VWS <access_key>:<signature>, where the signature is
// the base64 HMAC-SHA1 of "METHOD\nmd5hex(body)\ncontent-type\ndate\npath"
// keyed with the secret bound to the access key.
package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

const scheme = "VWS"

var (
	ErrMissingAuth     = errors.New("auth: authorization header missing")
	ErrMalformedAuth   = errors.New("auth: malformed authorization header")
	ErrUnknownKey      = errors.New("auth: unknown access key")
	ErrBadSignature    = errors.New("auth: signature mismatch")
	ErrMissingDate     = errors.New("auth: date header missing")
	ErrUnparseableDate = errors.New("auth: unparseable date header")
	// Skew in the two directions stays distinguishable so tests can tell
	// "too far ahead" from "too far behind".
	ErrSkewedFuture = errors.New("auth: request date too far in the future")
	ErrSkewedPast   = errors.New("auth: request date too far in the past")
)

// ManagementDateFormats is the single format the management API accepts.
var ManagementDateFormats = []string{"Mon, 02 Jan 2006 15:04:05 GMT"}

// QueryDateFormats are the formats the query API is known to accept, with
// and without a trailing "GMT".
var QueryDateFormats = func() []string {
	base := []string{
		"Mon, Jan 02 15:04:05 2006",
		"Mon Jan 02 15:04:05 2006",
		"Mon, 02 Jan 2006 15:04:05",
		"Mon 02 Jan 2006 15:04:05",
	}
	formats := make([]string, 0, len(base)*2)
	for _, format := range base {
		formats = append(formats, format, format+" GMT")
	}
	return formats
}()

// Request carries everything that participates in signature verification.
type Request struct {
	Method        string
	Path          string
	ContentType   string
	Body          []byte
	DateHeader    string
	Authorization string
}

// Verifier checks request signatures against a table of access keys and the
// request date against the configured clock-skew tolerance.
type Verifier struct {
	secrets   map[string]string
	tolerance time.Duration
	formats   []string
	now       func() time.Time
}

// NewVerifier builds a verifier over an access-key -> secret table. The date
// formats differ between the two emulated APIs, so each face passes its own
// whitelist.
func NewVerifier(secrets map[string]string, tolerance time.Duration, dateFormats []string) *Verifier {
	return &Verifier{secrets: secrets, tolerance: tolerance, formats: dateFormats, now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// VerifyDate parses the Date header against the accepted formats and checks
// clock skew in both directions. It is independent of signature checking so
// a face can order its validators the way the real service does.
func (v *Verifier) VerifyDate(dateHeader string) error {
	if dateHeader == "" {
		return ErrMissingDate
	}
	parsed, err := parseDate(dateHeader, v.formats)
	if err != nil {
		return err
	}
	now := v.now().UTC()
	if parsed.Sub(now) >= v.tolerance {
		return ErrSkewedFuture
	}
	if now.Sub(parsed) >= v.tolerance {
		return ErrSkewedPast
	}
	return nil
}

// VerifySignature validates the Authorization header and returns the access
// key that signed the request.
func (v *Verifier) VerifySignature(req Request) (string, error) {
	accessKey, signature, err := ParseAuthorization(req.Authorization)
	if err != nil {
		return "", err
	}
	secret, ok := v.secrets[accessKey]
	if !ok {
		return "", ErrUnknownKey
	}
	expected := SignatureFor(secret, req.Method, req.Body, req.ContentType, req.DateHeader, req.Path)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", ErrBadSignature
	}
	return accessKey, nil
}

// Verify runs the date check then the signature check, matching the
// short-circuit order of the emulated service.
func (v *Verifier) Verify(req Request) (string, error) {
	if err := v.VerifyDate(req.DateHeader); err != nil {
		return "", err
	}
	return v.VerifySignature(req)
}

// ParseAuthorization splits "VWS <access_key>:<signature>". Anything other
// than exactly that shape is malformed.
func ParseAuthorization(header string) (accessKey, signature string, err error) {
	if header == "" {
		return "", "", ErrMissingAuth
	}
	schemePart, keyPart, found := strings.Cut(header, " ")
	if !found || schemePart != scheme {
		return "", "", ErrMalformedAuth
	}
	accessKey, signature, found = strings.Cut(keyPart, ":")
	if !found || accessKey == "" || signature == "" || strings.Contains(signature, ":") {
		return "", "", ErrMalformedAuth
	}
	return accessKey, signature, nil
}

// SignatureFor computes the expected signature for the canonical string. The
// content type is stripped of parameters before signing, as the service does.
func SignatureFor(secret, method string, body []byte, contentType, date, path string) string {
	bodyDigest := md5.Sum(body)
	canonical := strings.Join([]string{
		method,
		hex.EncodeToString(bodyDigest[:]),
		strings.TrimSpace(strings.Split(contentType, ";")[0]),
		date,
		path,
	}, "\n")
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// AuthorizationHeader assembles a full header value. Test harnesses and the
// faces' own tests sign requests with this.
func AuthorizationHeader(accessKey, secret, method string, body []byte, contentType, date, path string) string {
	signature := SignatureFor(secret, method, body, contentType, date, path)
	return scheme + " " + accessKey + ":" + signature
}

func parseDate(value string, formats []string) (time.Time, error) {
	for _, format := range formats {
		if parsed, err := time.Parse(format, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, ErrUnparseableDate
}
