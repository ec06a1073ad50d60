package s3storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures the MinIO client.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// MinioSystem implements ObjectSystem with minio-go.
type MinioSystem struct {
	client *minio.Client
}

// NewMinio creates a MinIO client.
func NewMinio(opts MinioOptions) (*MinioSystem, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &MinioSystem{client: client}, nil
}

// mapError turns S3 error codes into the package sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return fmt.Errorf("%w: %s", ErrObjectNotFound, resp.Message)
	case "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrBucketNotFound, resp.Message)
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return fmt.Errorf("%w: %s", ErrBucketExists, resp.Message)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}

func (s *MinioSystem) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	return exists, nil
}

func (s *MinioSystem) MakeBucket(ctx context.Context, bucket, region string) error {
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", bucket, mapError(err))
	}
	return nil
}

// RemoveBucket empties the bucket and then deletes it.
func (s *MinioSystem) RemoveBucket(ctx context.Context, bucket string) error {
	objects := s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true})
	for rerr := range s.client.RemoveObjects(ctx, bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return fmt.Errorf("remove object %s/%s: %w", bucket, rerr.ObjectName, mapError(rerr.Err))
		}
	}
	if err := s.client.RemoveBucket(ctx, bucket); err != nil {
		return fmt.Errorf("remove bucket %s: %w", bucket, mapError(err))
	}
	return nil
}

func toInfo(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		IsDir:        info.Size == 0 && len(info.Key) > 0 && info.Key[len(info.Key)-1] == '/',
	}
}

func (s *MinioSystem) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat object %s/%s: %w", bucket, key, mapError(err))
	}
	return toInfo(info), nil
}

func (s *MinioSystem) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, mapError(err))
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, mapError(err))
	}
	return obj, nil
}

func (s *MinioSystem) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		// Cancelling stops the lister goroutine when the caller breaks early.
		defer cancel()
		for info := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
			if info.Err != nil {
				yield(ObjectInfo{}, fmt.Errorf("list objects %s/%s: %w", bucket, prefix, mapError(info.Err)))
				return
			}
			if !yield(toInfo(info), nil) {
				return
			}
		}
	}
}

func (s *MinioSystem) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	info, err := s.client.PutObject(ctx, bucket, key, r, size, opts)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("put object %s/%s: %w", bucket, key, mapError(err))
	}
	return ObjectInfo{Key: info.Key, Size: info.Size, ETag: info.ETag, ContentType: contentType, LastModified: info.LastModified}, nil
}

func (s *MinioSystem) CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: bucket, Object: srcKey},
	)
	if err != nil {
		return fmt.Errorf("copy object %s/%s -> %s: %w", bucket, srcKey, dstKey, mapError(err))
	}
	return nil
}

func (s *MinioSystem) RemoveObject(ctx context.Context, bucket, key string) error {
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		err = mapError(err)
		if errors.Is(err, ErrObjectNotFound) {
			return nil
		}
		return fmt.Errorf("remove object %s/%s: %w", bucket, key, err)
	}
	return nil
}

var _ ObjectSystem = (*MinioSystem)(nil)
