package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	body := []byte(`{"event_type":"task.completed","task_id":"abc"}`)
	sig := Sign("s3cret", body)

	require.Len(t, sig, 64, "hex-encoded SHA-256")
	assert.Equal(t, sig, Sign("s3cret", body), "deterministic")
	assert.True(t, Verify("s3cret", body, sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	body := []byte(`{"amount":10}`)
	sig := Sign("s3cret", body)

	assert.False(t, Verify("s3cret", []byte(`{"amount":99}`), sig), "modified body")
	assert.False(t, Verify("wrong", body, sig), "wrong secret")
	assert.False(t, Verify("s3cret", body, ""), "empty signature")

	tampered := []byte(sig)
	if tampered[0] == '0' {
		tampered[0] = '1'
	} else {
		tampered[0] = '0'
	}
	assert.False(t, Verify("s3cret", body, string(tampered)), "flipped digit")
}
