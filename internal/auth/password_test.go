package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.NoError(t, VerifyPassword(hash, "s3cret"))
	assert.ErrorIs(t, VerifyPassword(hash, "guess"), ErrPasswordMismatch)
	assert.Error(t, VerifyPassword("not-a-hash", "s3cret"))
}
