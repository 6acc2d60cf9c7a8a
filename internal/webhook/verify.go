package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const signaturePrefix = "sha256="

// VerifySignature checks the sha256= signature header against an HMAC of
// the raw payload bytes. The comparison is constant-time; an early-exit
// byte compare would leak timing.
func (s *Service) VerifySignature(payload []byte, signatureHeader string) bool {
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}

	provided, err := hex.DecodeString(signatureHeader[len(signaturePrefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}

// VerifyTimestamp rejects payloads whose Unix timestamp deviates from the
// current time by more than the tolerance, mitigating replay of captured
// payloads. A timestamp exactly at the tolerance boundary is accepted.
func (s *Service) VerifyTimestamp(headerValue string, tolerance time.Duration) bool {
	ts, err := strconv.ParseInt(headerValue, 10, 64)
	if err != nil {
		return false
	}

	diff := s.now().Sub(time.Unix(ts, 0))
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
