package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/repository"
)

func seeded(t *testing.T) (*MemoryStore, *model.Dataset) {
	t.Helper()
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateOrganization(ctx, &model.Organization{Slug: "acme", Name: "Acme"}))
	ds := &model.Dataset{OrganizationSlug: "acme", Slug: "drones", Name: "Drones"}
	require.NoError(t, m.CreateDataset(ctx, ds))
	return m, ds
}

func TestOrganizationLoadsDatasetsInOrder(t *testing.T) {
	m, _ := seeded(t)
	ctx := context.Background()
	require.NoError(t, m.CreateDataset(ctx, &model.Dataset{OrganizationSlug: "acme", Slug: "maps", Name: "Maps"}))

	org, err := m.Organization(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, org.Datasets, 2)
	assert.Equal(t, "drones", org.Datasets[0].Slug)
	assert.Equal(t, "maps", org.Datasets[1].Slug)

	_, err = m.Organization(ctx, "ghost")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateConstraints(t *testing.T) {
	m, _ := seeded(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.CreateOrganization(ctx, &model.Organization{Slug: "acme"}), repository.ErrExists)
	assert.ErrorIs(t, m.CreateDataset(ctx, &model.Dataset{OrganizationSlug: "acme", Slug: "drones"}), repository.ErrExists)
	assert.ErrorIs(t, m.CreateDataset(ctx, &model.Dataset{OrganizationSlug: "ghost", Slug: "x"}), repository.ErrNotFound)
	assert.ErrorIs(t, m.CreateBatch(ctx, &model.Batch{Token: "t", DatasetID: 99}), repository.ErrNotFound)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	m, ds := seeded(t)
	ctx := context.Background()

	got, err := m.DatasetByID(ctx, ds.ID)
	require.NoError(t, err)
	got.Size = 42

	again, err := m.Dataset(ctx, "acme", "drones")
	require.NoError(t, err)
	assert.Zero(t, again.Size)
}

func TestCloseBatch(t *testing.T) {
	m, ds := seeded(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, m.CreateBatch(ctx, &model.Batch{Token: "t", DatasetID: ds.ID, Start: now}))
	require.NoError(t, m.AddEntry(ctx, &model.Entry{BatchToken: "t", Path: "a", Size: 10, Type: model.EntryFile}))
	require.NoError(t, m.AddEntry(ctx, &model.Entry{BatchToken: "t", Path: "d", Size: 5, Type: model.EntryDirectory}))

	b, changed, err := m.CloseBatch(ctx, "t", model.BatchCommitted, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.BatchCommitted, b.Status)

	_, changed, err = m.CloseBatch(ctx, "t", model.BatchCommitted, now)
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = m.CloseBatch(ctx, "t", model.BatchRolledBack, now)
	assert.ErrorIs(t, err, model.ErrBatchConflict)
	assert.ErrorIs(t, m.AddEntry(ctx, &model.Entry{BatchToken: "t", Path: "late"}), model.ErrBatchConflict)

	got, err := m.DatasetByID(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Size)
	assert.Equal(t, int64(1), got.ObjectsCount)

	_, _, err = m.CloseBatch(ctx, "missing", model.BatchCommitted, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConcurrentCommitsDoNotLoseUpdates(t *testing.T) {
	m, ds := seeded(t)
	ctx := context.Background()
	const batches = 25
	for i := 0; i < batches; i++ {
		token := string(rune('a' + i))
		require.NoError(t, m.CreateBatch(ctx, &model.Batch{Token: token, DatasetID: ds.ID}))
		require.NoError(t, m.AddEntry(ctx, &model.Entry{BatchToken: token, Path: "f", Size: 100, Type: model.EntryFile}))
	}

	var wg sync.WaitGroup
	for i := 0; i < batches; i++ {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			_, _, err := m.CloseBatch(ctx, token, model.BatchCommitted, time.Now())
			assert.NoError(t, err)
		}(string(rune('a' + i)))
	}
	wg.Wait()

	got, err := m.DatasetByID(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(batches*100), got.Size)
	assert.Equal(t, int64(batches), got.ObjectsCount)
}

func TestDeleteDatasetCascades(t *testing.T) {
	m, ds := seeded(t)
	ctx := context.Background()
	require.NoError(t, m.CreateBatch(ctx, &model.Batch{Token: "t", DatasetID: ds.ID}))
	require.NoError(t, m.AddEntry(ctx, &model.Entry{BatchToken: "t", Path: "a"}))
	require.NoError(t, m.CreateDownloadPackage(ctx, &model.DownloadPackage{ID: "p", DatasetID: ds.ID}))

	require.NoError(t, m.DeleteDataset(ctx, ds.ID))
	_, err := m.Batch(ctx, "t")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	entries, err := m.Entries(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, entries)
	pkgs, err := m.DownloadPackages(ctx, ds.ID)
	require.NoError(t, err)
	assert.Empty(t, pkgs)

	assert.ErrorIs(t, m.DeleteDataset(ctx, ds.ID), repository.ErrNotFound)
}

func TestCommittedEntriesFiltersByStatusAndPrefix(t *testing.T) {
	m, ds := seeded(t)
	ctx := context.Background()
	for _, tok := range []string{"c", "o", "r"} {
		require.NoError(t, m.CreateBatch(ctx, &model.Batch{Token: tok, DatasetID: ds.ID}))
		require.NoError(t, m.AddEntry(ctx, &model.Entry{BatchToken: tok, Path: "data/" + tok}))
	}
	require.NoError(t, m.AddEntry(ctx, &model.Entry{BatchToken: "c", Path: "other"}))
	_, _, err := m.CloseBatch(ctx, "c", model.BatchCommitted, time.Now())
	require.NoError(t, err)
	_, _, err = m.CloseBatch(ctx, "r", model.BatchRolledBack, time.Now())
	require.NoError(t, err)

	entries, err := m.CommittedEntries(ctx, ds.ID, "data/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data/c", entries[0].Path)
}
