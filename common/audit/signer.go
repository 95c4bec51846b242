// Package audit signs activity records so downstream consumers can detect
// tampering after they leave the primary store.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type EventSigner struct {
	secretKey []byte
}

func NewEventSigner(secretKey string) *EventSigner {
	return &EventSigner{
		secretKey: []byte(secretKey),
	}
}

// Enabled reports whether a key is configured. A signer without a key
// produces empty signatures.
func (s *EventSigner) Enabled() bool {
	return s != nil && len(s.secretKey) > 0
}

func (s *EventSigner) Sign(eventID string, timestamp time.Time, principalID string, data []byte) string {
	if !s.Enabled() {
		return ""
	}
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(eventID))
	h.Write([]byte(timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(principalID))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *EventSigner) Verify(eventID string, timestamp time.Time, principalID string, data []byte, signature string) bool {
	if !s.Enabled() {
		return false
	}
	expected := s.Sign(eventID, timestamp, principalID, data)
	return hmac.Equal([]byte(expected), []byte(signature))
}
