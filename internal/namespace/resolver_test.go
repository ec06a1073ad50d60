package namespace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/registry/internal/apperr"
	"github.com/dharsanguruparan/registry/internal/auth"
	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/storage"
)

func seed(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	alice := "alice"
	require.NoError(t, store.CreateOrganization(ctx, &model.Organization{Slug: "private", Name: "Private", OwnerID: &alice}))
	require.NoError(t, store.CreateOrganization(ctx, &model.Organization{Slug: "public", Name: "Public", OwnerID: &alice, IsPublic: true}))
	require.NoError(t, store.CreateDataset(ctx, &model.Dataset{OrganizationSlug: "private", Slug: "drones", Name: "Drones"}))
	require.NoError(t, store.CreateDataset(ctx, &model.Dataset{OrganizationSlug: "public", Slug: "maps", Name: "Maps"}))
	return store
}

func kindOf(t *testing.T, err error) apperr.Kind {
	t.Helper()
	require.Error(t, err)
	return apperr.KindOf(err)
}

func TestResolveOrganizationValidation(t *testing.T) {
	r := NewResolver(seed(t), auth.AsAdmin("root"))
	ctx := context.Background()

	for _, s := range []string{"", "   ", "Upper", "with space", "a/b"} {
		_, err := r.ResolveOrganization(ctx, s, false)
		assert.Equal(t, apperr.BadRequest, kindOf(t, err), "slug %q", s)
	}
}

func TestResolveOrganizationMissing(t *testing.T) {
	r := NewResolver(seed(t), auth.AsAdmin("root"))
	ctx := context.Background()

	_, err := r.ResolveOrganization(ctx, "ghost", false)
	assert.Equal(t, apperr.NotFound, kindOf(t, err))

	org, err := r.ResolveOrganization(ctx, "ghost", true)
	require.NoError(t, err)
	assert.Nil(t, org)
}

func TestResolveOrganizationLoadsDatasets(t *testing.T) {
	r := NewResolver(seed(t), auth.As("alice"))
	org, err := r.ResolveOrganization(context.Background(), "private", false)
	require.NoError(t, err)
	require.Len(t, org.Datasets, 1)
	assert.Equal(t, "drones", org.Datasets[0].Slug)
}

func TestResolveOrganizationAccess(t *testing.T) {
	store := seed(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		manager auth.Manager
		org     string
		want    apperr.Kind
	}{
		{"anonymous on private", auth.Anonymous(), "private", apperr.Unauthenticated},
		{"anonymous on public", auth.Anonymous(), "public", apperr.Unauthenticated},
		{"stranger on private", auth.As("bob"), "private", apperr.Unauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(store, tt.manager).ResolveOrganization(ctx, tt.org, false)
			assert.Equal(t, tt.want, kindOf(t, err))
		})
	}

	_, err := NewResolver(store, auth.As("bob")).ResolveOrganization(ctx, "public", false)
	assert.NoError(t, err)
	_, err = NewResolver(store, auth.AsAdmin("root")).ResolveOrganization(ctx, "private", false)
	assert.NoError(t, err)
}

func TestResolveDataset(t *testing.T) {
	r := NewResolver(seed(t), auth.As("alice"))
	ctx := context.Background()

	ds, err := r.ResolveDataset(ctx, "private", "drones", false)
	require.NoError(t, err)
	assert.Equal(t, "Drones", ds.Name)

	_, err = r.ResolveDataset(ctx, "private", "ghost", false)
	assert.Equal(t, apperr.NotFound, kindOf(t, err))

	ds, err = r.ResolveDataset(ctx, "private", "ghost", true)
	require.NoError(t, err)
	assert.Nil(t, ds)

	_, err = r.ResolveDataset(ctx, "private", "Bad Slug", false)
	assert.Equal(t, apperr.BadRequest, kindOf(t, err))
}

func TestResolveDatasetDoesNotLeakExistence(t *testing.T) {
	store := seed(t)
	ctx := context.Background()

	for _, m := range []auth.Manager{auth.Anonymous(), auth.As("bob")} {
		r := NewResolver(store, m)
		_, existing := r.ResolveDataset(ctx, "private", "drones", false)
		_, missing := r.ResolveDataset(ctx, "private", "ghost", true)
		require.Error(t, existing)
		require.Error(t, missing)
		assert.Equal(t, apperr.KindOf(existing), apperr.KindOf(missing))
		assert.NotEqual(t, apperr.NotFound, apperr.KindOf(existing))
	}
}

func TestResolveTag(t *testing.T) {
	r := NewResolver(seed(t), auth.As("bob"))
	ds, err := r.ResolveTag(context.Background(), "public/maps")
	require.NoError(t, err)
	assert.Equal(t, "maps", ds.Slug)

	_, err = r.ResolveTag(context.Background(), "maps")
	assert.Equal(t, apperr.BadRequest, kindOf(t, err))
}

func TestResolveDatasetByID(t *testing.T) {
	store := seed(t)
	ctx := context.Background()
	ds, err := store.Dataset(ctx, "private", "drones")
	require.NoError(t, err)

	got, err := NewResolver(store, auth.As("alice")).ResolveDatasetByID(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, ds.ID, got.ID)

	_, err = NewResolver(store, auth.As("bob")).ResolveDatasetByID(ctx, ds.ID)
	assert.Equal(t, apperr.Unauthorized, kindOf(t, err))

	_, err = NewResolver(store, auth.As("alice")).ResolveDatasetByID(ctx, 999)
	assert.Equal(t, apperr.NotFound, kindOf(t, err))
}

func TestVerifyDatasetPassword(t *testing.T) {
	store := seed(t)
	ctx := context.Background()
	hash, err := auth.HashPassword("letmein")
	require.NoError(t, err)
	require.NoError(t, store.CreateDataset(ctx, &model.Dataset{OrganizationSlug: "public", Slug: "gated", PasswordHash: &hash}))

	r := NewResolver(store, auth.As("bob"))
	_, err = r.VerifyDatasetPassword(ctx, "public", "gated", "letmein")
	assert.NoError(t, err)
	_, err = r.VerifyDatasetPassword(ctx, "public", "gated", "nope")
	assert.Equal(t, apperr.Unauthorized, kindOf(t, err))
	_, err = r.VerifyDatasetPassword(ctx, "public", "maps", "")
	assert.NoError(t, err)
}
