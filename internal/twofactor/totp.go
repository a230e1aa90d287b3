package twofactor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TOTP parameters per RFC 6238: HMAC-SHA1, 6 digits, 30 second steps, one
// step of clock skew tolerated in each direction.
const (
	totpDigits    = 6
	totpPeriod    = 30
	totpSkewSteps = 1
	totpSecretLen = 20
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTPSecret returns a fresh 160-bit secret, base32-encoded without
// padding for authenticator apps.
func GenerateTOTPSecret() (string, error) {
	raw := make([]byte, totpSecretLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

// OtpauthURL builds the otpauth:// provisioning URL clients render as a QR code.
func OtpauthURL(issuer, account, secret string) string {
	label := url.PathEscape(issuer + ":" + account)
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", "6")
	q.Set("period", "30")
	return "otpauth://totp/" + label + "?" + q.Encode()
}

// VerifyTOTP checks a 6-digit code against the base32 secret at the given
// time, accepting codes from the adjacent steps to tolerate clock skew.
func VerifyTOTP(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits {
		return false
	}

	raw, err := b32.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return false
	}

	counter := at.Unix() / totpPeriod
	for c := counter - totpSkewSteps; c <= counter+totpSkewSteps; c++ {
		if hmac.Equal([]byte(hotp(raw, c)), []byte(code)) {
			return true
		}
	}
	return false
}

// hotp computes the HOTP value for the counter (RFC 4226 dynamic truncation).
func hotp(secret []byte, counter int64) string {
	var msg [8]byte
	for i := 7; i >= 0; i-- {
		msg[i] = byte(counter & 0xff)
		counter >>= 8
	}
	m := hmac.New(sha1.New, secret)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)
	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 | int(sum[offset+1])<<16 | int(sum[offset+2])<<8 | int(sum[offset+3])
	return fmt.Sprintf("%06d", bin%1000000)
}
