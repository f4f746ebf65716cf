package blobstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
)

// MinioStore implements Store on MinIO and other S3-compatible endpoints.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore creates a store over an existing client.
func NewMinioStore(client *minio.Client, bucket, prefix string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinioStore) key(name string) string {
	return path.Join(s.prefix, name)
}

// Put uploads an object. size -1 streams with unknown length.
func (s *MinioStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), r, size, minio.PutObjectOptions{})
	return err
}

// Open downloads an object as a stream.
func (s *MinioStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject defers errors to the first read; surface missing objects now.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return obj, nil
}

// Delete removes an object.
func (s *MinioStore) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return nil
		}
	}
	return err
}

// List returns object names under prefix, sorted.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		name = strings.TrimPrefix(name, "/")
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
