package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "in_progress"
	IdempotencyCommitted  IdempotencyStatus = "committed"
)

// IdempotencyRecord maps a caller-supplied key to the outcome of the
// first successful attempt. Within the retention window, retries with
// the same key and fingerprint replay ResultPayload without side
// effects.
type IdempotencyRecord struct {
	Key                string
	RequestFingerprint string
	Status             IdempotencyStatus
	ResultPayload      []byte
	CreatedAt          time.Time
	ExpiresAt          time.Time
}

// Fingerprint hashes the semantic content of a request. A reused key
// whose fingerprint differs is a caller bug, not a retry.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
