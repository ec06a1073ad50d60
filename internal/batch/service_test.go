package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/registry/internal/apperr"
	"github.com/dharsanguruparan/registry/internal/auth"
	"github.com/dharsanguruparan/registry/internal/bucket"
	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/namespace"
	"github.com/dharsanguruparan/registry/internal/queue"
	"github.com/dharsanguruparan/registry/internal/s3storage"
	"github.com/dharsanguruparan/registry/internal/storage"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	promoted []queue.BatchPayload
	purged   []queue.BatchPayload
	err      error
}

func (d *recordingDispatcher) Promote(_ context.Context, p queue.BatchPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.promoted = append(d.promoted, p)
	return d.err
}

func (d *recordingDispatcher) Purge(_ context.Context, p queue.BatchPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purged = append(d.purged, p)
	return d.err
}

type fixture struct {
	store    *storage.MemoryStore
	objects  *s3storage.MemorySystem
	dispatch *recordingDispatcher
	svc      *Service
}

func newFixture(t *testing.T, am auth.Manager) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	owner := "alice"
	require.NoError(t, store.CreateOrganization(ctx, &model.Organization{Slug: "acme", Name: "Acme", OwnerID: &owner}))
	require.NoError(t, store.CreateDataset(ctx, &model.Dataset{OrganizationSlug: "acme", Slug: "drones", Name: "Drones"}))

	objects := s3storage.NewMemory()
	d := &recordingDispatcher{}
	svc := NewService(store, namespace.NewResolver(store, am), bucket.NewManager(objects, "us-east-1"), objects, WithDispatcher(d))
	return &fixture{store: store, objects: objects, dispatch: d, svc: svc}
}

func (f *fixture) dataset(t *testing.T) *model.Dataset {
	t.Helper()
	ds, err := f.store.Dataset(context.Background(), "acme", "drones")
	require.NoError(t, err)
	return ds
}

func TestBeginRecordsOpenBatch(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	b, err := f.svc.Begin(context.Background(), "acme", "drones")
	require.NoError(t, err)

	assert.NotEmpty(t, b.Token)
	assert.Equal(t, model.BatchOpen, b.Status)
	assert.Equal(t, "alice", b.UserName)
	assert.Nil(t, b.End)

	exists, err := f.objects.BucketExists(context.Background(), "acme-drones")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBeginAccess(t *testing.T) {
	ctx := context.Background()

	_, err := newFixture(t, auth.As("bob")).svc.Begin(ctx, "acme", "drones")
	assert.Equal(t, apperr.Unauthorized, apperr.KindOf(err))

	_, err = newFixture(t, auth.As("alice")).svc.Begin(ctx, "acme", "ghost")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	_, err = newFixture(t, auth.As("alice")).svc.Begin(ctx, "acme", "Bad Slug")
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
}

func addFixtureEntries(t *testing.T, svc *Service, token string) {
	t.Helper()
	ctx := context.Background()
	inputs := []EntryInput{
		{Path: "flights/a.bin", Hash: "h1", Size: 1_000_000, Type: model.EntryFile},
		{Path: "flights/b.bin", Hash: "h2", Size: 400_000, Type: model.EntryFile},
		{Path: "c.bin", Hash: "h3", Size: 96_000, Type: model.EntryFile},
		{Path: "flights", Size: 4_000, Type: model.EntryDirectory},
	}
	for _, in := range inputs {
		_, err := svc.AddEntry(ctx, token, in)
		require.NoError(t, err)
	}
}

func TestCommitFoldsFileEntriesIntoDataset(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	ctx := context.Background()
	b, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)
	addFixtureEntries(t, f.svc, b.Token)

	before := f.dataset(t)
	assert.Zero(t, before.Size, "entries must not touch aggregates before commit")

	closed, err := f.svc.Commit(ctx, b.Token)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCommitted, closed.Status)
	require.NotNil(t, closed.End)

	after := f.dataset(t)
	assert.Equal(t, int64(1_500_000), after.Size)
	assert.Equal(t, int64(3), after.ObjectsCount)

	require.Len(t, f.dispatch.promoted, 1)
	assert.Equal(t, queue.BatchPayload{Token: b.Token, Bucket: "acme-drones", Org: "acme", Dataset: "drones"}, f.dispatch.promoted[0])
}

func TestRollbackLeavesDatasetUnchanged(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	ctx := context.Background()
	b, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)
	addFixtureEntries(t, f.svc, b.Token)

	closed, err := f.svc.Rollback(ctx, b.Token)
	require.NoError(t, err)
	assert.Equal(t, model.BatchRolledBack, closed.Status)

	after := f.dataset(t)
	assert.Zero(t, after.Size)
	assert.Zero(t, after.ObjectsCount)
	assert.Len(t, f.dispatch.purged, 1)

	_, entries, err := f.svc.Get(ctx, b.Token)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "rolled back entries stay recorded")
}

func TestCommitTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	ctx := context.Background()
	b, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)
	addFixtureEntries(t, f.svc, b.Token)

	_, err = f.svc.Commit(ctx, b.Token)
	require.NoError(t, err)
	again, err := f.svc.Commit(ctx, b.Token)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCommitted, again.Status)

	after := f.dataset(t)
	assert.Equal(t, int64(1_500_000), after.Size)
	assert.Equal(t, int64(3), after.ObjectsCount)
}

func TestClosedBatchRejectsTransitions(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	ctx := context.Background()

	committed, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)
	_, err = f.svc.Commit(ctx, committed.Token)
	require.NoError(t, err)

	_, err = f.svc.Rollback(ctx, committed.Token)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, committed.Token, e.Token)

	_, err = f.svc.AddEntry(ctx, committed.Token, EntryInput{Path: "x", Hash: "h", Size: 1, Type: model.EntryFile})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))

	rolled, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)
	_, err = f.svc.Rollback(ctx, rolled.Token)
	require.NoError(t, err)

	_, err = f.svc.AddEntry(ctx, rolled.Token, EntryInput{Path: "x", Hash: "h", Size: 1, Type: model.EntryFile})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	_, err = f.svc.Commit(ctx, rolled.Token)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestAddEntryValidation(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	ctx := context.Background()
	b, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   EntryInput
	}{
		{"empty path", EntryInput{Path: "", Hash: "h", Type: model.EntryFile}},
		{"escaping path", EntryInput{Path: "../etc/passwd", Hash: "h", Type: model.EntryFile}},
		{"staging path", EntryInput{Path: ".batches/t/x", Hash: "h", Type: model.EntryFile}},
		{"negative size", EntryInput{Path: "a", Hash: "h", Size: -1, Type: model.EntryFile}},
		{"file without hash", EntryInput{Path: "a", Type: model.EntryFile}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddEntry(ctx, b.Token, tt.in)
			assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
		})
	}

	_, err = f.svc.AddEntry(ctx, "missing", EntryInput{Path: "a", Hash: "h", Type: model.EntryFile})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestBatchOperationsRecheckAccess(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	ctx := context.Background()
	b, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)

	stranger := NewService(f.store, namespace.NewResolver(f.store, auth.As("bob")), bucket.NewManager(f.objects, ""), f.objects)
	_, err = stranger.AddEntry(ctx, b.Token, EntryInput{Path: "a", Hash: "h", Type: model.EntryFile})
	assert.Equal(t, apperr.Unauthorized, apperr.KindOf(err))
	_, err = stranger.Commit(ctx, b.Token)
	assert.Equal(t, apperr.Unauthorized, apperr.KindOf(err))

	got, err := f.store.Batch(ctx, b.Token)
	require.NoError(t, err)
	assert.Equal(t, model.BatchOpen, got.Status)
}

func TestUploadStagesAndHashes(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	ctx := context.Background()
	b, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)

	body := "telemetry payload"
	e, err := f.svc.Upload(ctx, b.Token, "/logs/run.txt", strings.NewReader(body), int64(len(body)), "text/plain")
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(body))
	assert.Equal(t, hex.EncodeToString(sum[:]), e.Hash)
	assert.Equal(t, int64(len(body)), e.Size)
	assert.Equal(t, "logs/run.txt", e.Path)
	assert.Equal(t, model.EntryFile, e.Type)

	rc, err := f.objects.GetObject(ctx, "acme-drones", bucket.StagingKey(b.Token, "logs/run.txt"))
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, body, string(data))
}

func TestUploadAfterCommitConflicts(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	ctx := context.Background()
	b, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)
	_, err = f.svc.Commit(ctx, b.Token)
	require.NoError(t, err)

	_, err = f.svc.Upload(ctx, b.Token, "late.txt", strings.NewReader("x"), 1, "")
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestDispatchFailureDoesNotFailCommit(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	f.dispatch.err = errors.New("redis down")
	ctx := context.Background()
	b, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)

	closed, err := f.svc.Commit(ctx, b.Token)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCommitted, closed.Status)
}

func TestConcurrentAddEntryAndCommit(t *testing.T) {
	f := newFixture(t, auth.As("alice"))
	ctx := context.Background()
	b, err := f.svc.Begin(ctx, "acme", "drones")
	require.NoError(t, err)

	const writers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int64
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddEntry(ctx, b.Token, EntryInput{Path: "f", Hash: "h", Size: 10, Type: model.EntryFile})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.svc.Commit(ctx, b.Token)
		assert.NoError(t, err)
	}()
	wg.Wait()

	_, entries, err := f.svc.Get(ctx, b.Token)
	require.NoError(t, err)
	assert.Equal(t, accepted, int64(len(entries)))

	after := f.dataset(t)
	assert.Equal(t, accepted*10, after.Size, "every accepted entry is counted exactly once")
	assert.Equal(t, accepted, after.ObjectsCount)
	assert.Zero(t, f.svc.locks.size())
}
