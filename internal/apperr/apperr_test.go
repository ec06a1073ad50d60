package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKind(t *testing.T) {
	err := E(NotFound, "resolve dataset", "dataset not found").In("acme", "drones")
	wrapped := fmt.Errorf("list objects: %w", err)

	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.NotErrorIs(t, wrapped, ErrUnauthorized)
	assert.Equal(t, NotFound, KindOf(wrapped))
	assert.Equal(t, "resolve dataset: not found [org=acme dataset=drones]: dataset not found", err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Internal, "commit batch", cause).ForBatch("tok-1")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "batch=tok-1")
	assert.Nil(t, Wrap(Conflict, "noop", nil))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, Internal, KindOf(nil))
}
