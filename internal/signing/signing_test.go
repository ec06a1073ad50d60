package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndValidate(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	now := time.Unix(1_700_000_000, 0)
	exp := now.Add(time.Hour)

	link := s.Sign("pkg-1", &exp)
	require.NotEmpty(t, link.Signature)
	assert.NoError(t, s.Validate(link, now))
	assert.ErrorIs(t, s.Validate(link, exp.Add(time.Second)), ErrExpired)

	tampered := link
	tampered.PackageID = "pkg-2"
	assert.ErrorIs(t, s.Validate(tampered, now), ErrBadSignature)

	tampered = link
	tampered.Expires += 3600
	assert.ErrorIs(t, s.Validate(tampered, now), ErrBadSignature)

	assert.ErrorIs(t, NewSigner([]byte("other")).Validate(link, now), ErrBadSignature)
}

func TestLinkWithoutExpiry(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	link := s.Sign("pkg-1", nil)
	assert.Zero(t, link.Expires)
	assert.NoError(t, s.Validate(link, time.Now().Add(100*365*24*time.Hour)))
}

func TestLinkQueryRoundTrip(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	exp := time.Unix(1_800_000_000, 0)
	link := s.Sign("pkg-1", &exp)

	parsed, err := ParseLink(link.Query())
	require.NoError(t, err)
	assert.Equal(t, link, parsed)

	_, err = ParseLink("package=x&expires=soon&sig=y")
	assert.Error(t, err)
	_, err = ParseLink("expires=1")
	assert.Error(t, err)
}
