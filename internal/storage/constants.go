package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

const (
	// HashPrefixSize bounds how much of a payload feeds the content hash.
	// The hash is a fast fingerprint for duplicate detection, not a full
	// integrity check, so large payloads are truncated.
	HashPrefixSize = 64 * 1024

	// MaxPayloadSize is the largest payload the store accepts.
	MaxPayloadSize = 100 * 1024 * 1024
)

// Storage errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateName   = errors.New("name already exists")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum allowed size")
)

// HashPayload computes the hex SHA-256 digest over at most the first
// HashPrefixSize bytes of payload.
func HashPayload(payload []byte) string {
	if len(payload) > HashPrefixSize {
		payload = payload[:HashPrefixSize]
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
