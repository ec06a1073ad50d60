// Package s3storage talks to the physical object store. ObjectSystem is the
// contract the registry core depends on; MinioSystem implements it for
// MinIO/S3 and MemorySystem for tests and local runs.
package s3storage

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"
)

var (
	// ErrBucketNotFound is returned by object operations on a missing bucket.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrBucketExists is returned by MakeBucket when the bucket is already
	// there. Racing creators treat it as success.
	ErrBucketExists = errors.New("bucket already exists")
	// ErrObjectNotFound is returned for missing objects.
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	IsDir        bool
}

// ObjectSystem is the object-store collaborator. Operations have per-call
// atomicity only.
type ObjectSystem interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	// MakeBucket creates the bucket; region may be empty to use the
	// backend's default.
	MakeBucket(ctx context.Context, bucket, region string) error
	// RemoveBucket deletes the bucket and everything in it.
	RemoveBucket(ctx context.Context, bucket string) error
	StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// ListObjects yields objects under prefix. With recursive false, common
	// prefixes come back as IsDir entries. The sequence reflects the store
	// while it is being consumed and is not restartable.
	ListObjects(ctx context.Context, bucket, prefix string, recursive bool) iter.Seq2[ObjectInfo, error]
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error)
	CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error
	RemoveObject(ctx context.Context, bucket, key string) error
}
