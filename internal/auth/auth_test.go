package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierPlainMode(t *testing.T) {
	v, err := NewVerifier("s3cret-token")
	require.NoError(t, err)

	assert.True(t, v.Verify("s3cret-token"))
	assert.False(t, v.Verify("s3cret-tokem"))
	assert.False(t, v.Verify(""))
	assert.False(t, v.Verify("s3cret-token-with-suffix"))
}

func TestVerifierRejectsEmptySecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.Error(t, err)
}

func TestHashTokenRoundTrip(t *testing.T) {
	encoded, err := HashToken("s3cret-token")
	require.NoError(t, err)

	ok, err := VerifyToken("s3cret-token", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyToken("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashTokenSaltsDiffer(t *testing.T) {
	a, err := HashToken("same")
	require.NoError(t, err)
	b, err := HashToken("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "each hash must use a fresh salt")
}

func TestVerifierHashedMode(t *testing.T) {
	encoded, err := HashToken("s3cret-token")
	require.NoError(t, err)

	v, err := NewHashedVerifier(encoded)
	require.NoError(t, err)

	assert.True(t, v.Verify("s3cret-token"))
	assert.False(t, v.Verify("nope"))
}

func TestNewHashedVerifierRejectsGarbage(t *testing.T) {
	_, err := NewHashedVerifier("not-a-hash")
	assert.Error(t, err)

	_, err = NewHashedVerifier("alsonothash$%%%")
	assert.Error(t, err)
}

func TestVerifyTokenMalformed(t *testing.T) {
	_, err := VerifyToken("t", "missing-separator")
	assert.Error(t, err)

	_, err = VerifyToken("t", "!!!$AAAA")
	assert.Error(t, err)
}
