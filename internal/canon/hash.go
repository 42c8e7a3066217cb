package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// a future algorithm migration without colliding with old IDs.
const (
	DomainEvent    = "noteflow/event/v1"
	DomainSnapshot = "noteflow/snapshot/v1"
)

// hashWithDomain computes SHA-256 over domain + 0x00 + data. The null byte
// separator removes domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed ID of an event from its type tag,
// a committer-supplied nonce, and the payload fields. The nonce is what
// keeps two semantically distinct commits with identical payloads apart
// (re-running a cell clears its outputs with the same payload twice); the
// same (nonce, type, payload) always produces the same ID, so a redelivered
// append is still recognized and ignored.
func EventID(eventType, nonce string, payload map[string]any) (string, error) {
	obj := map[string]any{
		"type":    eventType,
		"nonce":   nonce,
		"payload": payload,
	}
	data, err := Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, data), nil
}

// SnapshotDigest computes the digest of a derived-table snapshot. Two
// replays of the same log prefix must produce identical digests; anything
// else is a determinism violation.
func SnapshotDigest(snapshot map[string]any) (string, error) {
	data, err := Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("SnapshotDigest: marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, data), nil
}

// MustEventID is like EventID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventID(eventType, nonce string, payload map[string]any) string {
	id, err := EventID(eventType, nonce, payload)
	if err != nil {
		panic(err)
	}
	return id
}
