package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_Match(t *testing.T) {
	body := []byte(`{"id":1001, "total_price":"10.00"}`)
	v := NewVerifier("shh", true)

	require.NoError(t, v.Verify(body, Sign("shh", body)))
	require.NoError(t, v.Verify(body, " "+Sign("shh", body)+"\n"))
}

func TestVerify_RawBytesMatter(t *testing.T) {
	// Same JSON document, different whitespace: the digest must follow the bytes.
	received := []byte(`{"id":1001, "total_price":"10.00"}`)
	reserialized := []byte(`{"id":1001,"total_price":"10.00"}`)
	v := NewVerifier("shh", false)

	assert.ErrorIs(t, v.Verify(reserialized, Sign("shh", received)), ErrMismatch)
}

func TestVerify_Failures(t *testing.T) {
	body := []byte(`{"id":1}`)
	v := NewVerifier("shh", false)

	assert.ErrorIs(t, v.Verify(body, Sign("other", body)), ErrMismatch)
	assert.ErrorIs(t, v.Verify(body, ""), ErrMismatch)
	assert.ErrorIs(t, v.Verify(body, "not base64!"), ErrMismatch)

	assert.ErrorIs(t, NewVerifier("", false).Verify(body, Sign("shh", body)), ErrMissingSecret)
}

func TestVerifier_Mode(t *testing.T) {
	assert.False(t, NewVerifier("shh", false).Enforcing())
	assert.True(t, NewVerifier("shh", true).Enforcing())
}
