package worker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/registry/internal/bucket"
	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/queue"
	"github.com/dharsanguruparan/registry/internal/s3storage"
	"github.com/dharsanguruparan/registry/internal/storage"
)

const testBucket = "acme-drones"

func setup(t *testing.T, status model.BatchStatus, files ...string) (*Finalizer, *s3storage.MemorySystem, queue.BatchPayload) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateOrganization(ctx, &model.Organization{Slug: "acme", Name: "Acme"}))
	ds := &model.Dataset{OrganizationSlug: "acme", Slug: "drones", Name: "Drones"}
	require.NoError(t, store.CreateDataset(ctx, ds))
	require.NoError(t, store.CreateBatch(ctx, &model.Batch{Token: "tok", DatasetID: ds.ID, Status: model.BatchOpen, Start: time.Now()}))

	objects := s3storage.NewMemory()
	require.NoError(t, objects.MakeBucket(ctx, testBucket, ""))
	for _, path := range files {
		require.NoError(t, store.AddEntry(ctx, &model.Entry{BatchToken: "tok", Path: path, Hash: "h", Size: 1, Type: model.EntryFile}))
		_, err := objects.PutObject(ctx, testBucket, bucket.StagingKey("tok", path), strings.NewReader("data:"+path), -1, "text/plain")
		require.NoError(t, err)
	}
	require.NoError(t, store.AddEntry(ctx, &model.Entry{BatchToken: "tok", Path: "dir", Type: model.EntryDirectory}))
	if status != model.BatchOpen {
		_, _, err := store.CloseBatch(ctx, "tok", status, time.Now())
		require.NoError(t, err)
	}
	return NewFinalizer(store, objects, nil, nil), objects, queue.BatchPayload{Token: "tok", Bucket: testBucket, Org: "acme", Dataset: "drones"}
}

func keys(t *testing.T, objects *s3storage.MemorySystem) []string {
	t.Helper()
	var out []string
	for info, err := range objects.ListObjects(context.Background(), testBucket, "", true) {
		require.NoError(t, err)
		out = append(out, info.Key)
	}
	return out
}

func TestPromoteMovesStagedObjects(t *testing.T) {
	f, objects, p := setup(t, model.BatchCommitted, "a.txt", "sub/b.txt")
	require.NoError(t, f.Promote(context.Background(), p))

	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, keys(t, objects))
	rc, err := objects.GetObject(context.Background(), testBucket, "sub/b.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "data:sub/b.txt", string(data))

	require.NoError(t, f.Promote(context.Background(), p), "promote is safe to retry")
	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, keys(t, objects))
}

func TestPromoteRequiresCommittedBatch(t *testing.T) {
	f, _, p := setup(t, model.BatchOpen, "a.txt")
	err := f.Promote(context.Background(), p)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestPurgeDeletesStaging(t *testing.T) {
	f, objects, p := setup(t, model.BatchRolledBack, "a.txt", "sub/b.txt")
	require.NoError(t, f.Purge(context.Background(), p))
	assert.Empty(t, keys(t, objects))

	p.Bucket = "missing"
	assert.NoError(t, f.Purge(context.Background(), p))
}

func TestHandlerSkipsMalformedTasks(t *testing.T) {
	f, _, _ := setup(t, model.BatchCommitted)
	err := f.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.PromoteBatchTask, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandlerDispatchesByType(t *testing.T) {
	f, objects, p := setup(t, model.BatchCommitted, "a.txt")
	task, _, err := queue.NewTask(queue.PromoteBatchTask, p)
	require.NoError(t, err)

	require.NoError(t, f.Handler().ProcessTask(context.Background(), task))
	assert.Equal(t, []string{"a.txt"}, keys(t, objects))
}
