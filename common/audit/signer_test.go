package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventSigner_Sign(t *testing.T) {
	signer := NewEventSigner("test-secret")
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	data := []byte(`{"activityType":"login"}`)

	sig := signer.Sign("event-123", ts, "user-1", data)
	assert.NotEmpty(t, sig)
	assert.Equal(t, sig, signer.Sign("event-123", ts, "user-1", data))
	assert.NotEqual(t, sig, signer.Sign("event-124", ts, "user-1", data))
	assert.NotEqual(t, sig, signer.Sign("event-123", ts, "user-2", data))
}

func TestEventSigner_TimezoneIndependent(t *testing.T) {
	signer := NewEventSigner("test-secret")
	utc := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("CET", 3600))

	assert.Equal(t, signer.Sign("e", utc, "p", nil), signer.Sign("e", local, "p", nil))
}

func TestEventSigner_Verify(t *testing.T) {
	signer := NewEventSigner("test-secret")
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	data := []byte(`{"activityType":"logout"}`)
	sig := signer.Sign("event-456", ts, "user-9", data)

	assert.True(t, signer.Verify("event-456", ts, "user-9", data, sig))
	assert.False(t, signer.Verify("event-456", ts, "user-9", []byte(`{}`), sig))
	assert.False(t, NewEventSigner("other-secret").Verify("event-456", ts, "user-9", data, sig))
}

func TestEventSigner_Disabled(t *testing.T) {
	signer := NewEventSigner("")
	assert.False(t, signer.Enabled())
	assert.Empty(t, signer.Sign("e", time.Now(), "p", nil))
	assert.False(t, signer.Verify("e", time.Now(), "p", nil, ""))

	var nilSigner *EventSigner
	assert.False(t, nilSigner.Enabled())
}
