package s3storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemorySystem is an in-process ObjectSystem. Bucket creation counts are kept
// so tests can assert that racing creators produced a single bucket.
type MemorySystem struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memObject
	// regions records the region hint each bucket was created with.
	regions map[string]string
	creates int
}

// NewMemory returns an empty MemorySystem.
func NewMemory() *MemorySystem {
	return &MemorySystem{
		buckets: make(map[string]map[string]memObject),
		regions: make(map[string]string),
	}
}

// Creates returns how many buckets MakeBucket actually created.
func (m *MemorySystem) Creates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creates
}

// Region returns the region hint the bucket was created with.
func (m *MemorySystem) Region(bucket string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regions[bucket]
}

func (m *MemorySystem) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[bucket]
	return ok, nil
}

func (m *MemorySystem) MakeBucket(ctx context.Context, bucket, region string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; ok {
		return fmt.Errorf("make bucket %s: %w", bucket, ErrBucketExists)
	}
	m.buckets[bucket] = make(map[string]memObject)
	m.regions[bucket] = region
	m.creates++
	return nil
}

func (m *MemorySystem) RemoveBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		return fmt.Errorf("remove bucket %s: %w", bucket, ErrBucketNotFound)
	}
	delete(m.buckets, bucket)
	delete(m.regions, bucket)
	return nil
}

func (m *MemorySystem) object(bucket, key string) (memObject, error) {
	objs, ok := m.buckets[bucket]
	if !ok {
		return memObject{}, fmt.Errorf("bucket %s: %w", bucket, ErrBucketNotFound)
	}
	obj, ok := objs[key]
	if !ok {
		return memObject{}, fmt.Errorf("object %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return obj, nil
}

func info(key string, obj memObject) ObjectInfo {
	sum := md5.Sum(obj.data)
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: obj.modified,
	}
}

func (m *MemorySystem) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, err := m.object(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	return info(key, obj), nil
}

func (m *MemorySystem) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, err := m.object(bucket, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// ListObjects snapshots matching keys lazily: each step re-reads the bucket,
// so objects removed mid-iteration are skipped.
func (m *MemorySystem) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		m.mu.RLock()
		objs, ok := m.buckets[bucket]
		if !ok {
			m.mu.RUnlock()
			yield(ObjectInfo{}, fmt.Errorf("list objects %s: %w", bucket, ErrBucketNotFound))
			return
		}
		var keys []string
		dirs := map[string]bool{}
		for key := range objs {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if !recursive {
				if i := strings.Index(key[len(prefix):], "/"); i >= 0 {
					dir := key[:len(prefix)+i+1]
					if !dirs[dir] {
						dirs[dir] = true
						keys = append(keys, dir)
					}
					continue
				}
			}
			keys = append(keys, key)
		}
		m.mu.RUnlock()
		sort.Strings(keys)

		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				yield(ObjectInfo{}, err)
				return
			}
			if dirs[key] {
				if !yield(ObjectInfo{Key: key, IsDir: true}, nil) {
					return
				}
				continue
			}
			m.mu.RLock()
			obj, err := m.object(bucket, key)
			m.mu.RUnlock()
			if err != nil {
				continue
			}
			if !yield(info(key, obj), nil) {
				return
			}
		}
	}
}

func (m *MemorySystem) PutObject(ctx context.Context, bucket, key string, r io.Reader, _ int64, contentType string) (ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("read object body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	objs, ok := m.buckets[bucket]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("put object %s: %w", bucket, ErrBucketNotFound)
	}
	obj := memObject{data: data, contentType: contentType, modified: time.Now().UTC()}
	objs[key] = obj
	return info(key, obj), nil
}

func (m *MemorySystem) CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, err := m.object(bucket, srcKey)
	if err != nil {
		return err
	}
	obj.modified = time.Now().UTC()
	m.buckets[bucket][dstKey] = obj
	return nil
}

func (m *MemorySystem) RemoveObject(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	objs, ok := m.buckets[bucket]
	if !ok {
		return fmt.Errorf("remove object %s: %w", bucket, ErrBucketNotFound)
	}
	delete(objs, key)
	return nil
}

var _ ObjectSystem = (*MemorySystem)(nil)
