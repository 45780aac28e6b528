package identity

import (
	"crypto/hmac"
	"crypto/sha1" // #nosec G505 -- RFC 6238 interoperability; HMAC-SHA1 is not collision-sensitive here.
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	totpPeriodSeconds = 30
	totpDigits        = 6

	// totpSkewSteps tolerates clock drift of one step in either direction.
	// Exactly one reuse-window of tolerance; the accepted counter is persisted
	// so nothing at or below it can ever be accepted again.
	totpSkewSteps = 1
)

// VerifyTOTP checks an RFC 6238 code against the base32 secret.
// On a match it returns the matched time-step counter so the caller can
// persist it for replay protection.
func VerifyTOTP(secretBase32, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != totpDigits || !isNumericString(trimmed) {
		return false, 0, nil
	}

	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	secret, err := enc.DecodeString(strings.ToUpper(strings.TrimSpace(secretBase32)))
	if err != nil || len(secret) == 0 {
		return false, 0, errors.New("invalid totp secret")
	}

	baseCounter := now.Unix() / totpPeriodSeconds
	for step := -totpSkewSteps; step <= totpSkewSteps; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated := hotpCode(secret, counter)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

func hotpCode(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter)) // #nosec G115 -- counter is non-negative.

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", totpDigits, bin%mod)
}

func isNumericString(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
