package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/registry/internal/model"
)

func owned(owner string, public bool) *model.Organization {
	return &model.Organization{Slug: "acme", OwnerID: &owner, IsPublic: public}
}

func TestCheckAccess(t *testing.T) {
	alice := &Principal{ID: "alice"}
	bob := &Principal{ID: "bob"}

	tests := []struct {
		name string
		snap Snapshot
		org  *model.Organization
		want Reason
	}{
		{"admin always allowed", Snapshot{Admin: true}, owned("alice", false), Allowed},
		{"anonymous denied", Snapshot{}, owned("alice", true), DeniedUnauthenticated},
		{"owner allowed", Snapshot{Principal: alice}, owned("alice", false), Allowed},
		{"stranger denied on private", Snapshot{Principal: bob}, owned("alice", false), DeniedNotOwner},
		{"stranger allowed on public", Snapshot{Principal: bob}, owned("alice", true), Allowed},
		{"ownerless private allowed", Snapshot{Principal: bob}, &model.Organization{Slug: "free"}, Allowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CheckAccess(tt.snap, tt.org)
			assert.Equal(t, tt.want, d.Reason)
			assert.Equal(t, tt.want == Allowed, d.Allowed())
		})
	}
}

func TestCheckAccessDeterministic(t *testing.T) {
	snap := Snapshot{Principal: &Principal{ID: "bob"}}
	org := owned("alice", false)
	first := CheckAccess(snap, org)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, CheckAccess(snap, org))
	}
}

type failingManager struct{}

func (failingManager) IsAdmin(context.Context) (bool, error) { return false, errors.New("idp down") }
func (failingManager) CurrentPrincipal(context.Context) (*Principal, error) {
	return nil, errors.New("idp down")
}

func TestTake(t *testing.T) {
	ctx := context.Background()

	snap, err := Take(ctx, AsAdmin("root"))
	require.NoError(t, err)
	assert.True(t, snap.Admin)
	assert.Equal(t, "root", snap.UserName())

	snap, err = Take(ctx, As("alice"))
	require.NoError(t, err)
	assert.False(t, snap.Admin)
	assert.Equal(t, "alice", snap.Principal.ID)

	snap, err = Take(ctx, Anonymous())
	require.NoError(t, err)
	assert.Nil(t, snap.Principal)
	assert.Empty(t, snap.UserName())

	_, err = Take(ctx, failingManager{})
	assert.Error(t, err)
}
