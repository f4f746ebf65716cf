package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements Store on Amazon S3. Uploads stream through the
// multipart upload manager.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates a store over an existing client. prefix is prepended
// to every object name.
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

// NewS3StoreFromConfig resolves the default AWS configuration chain and
// creates a store.
func NewS3StoreFromConfig(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewS3Store(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func (s *S3Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Put uploads an object.
func (s *S3Store) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   r,
	})
	return err
}

// Open downloads an object as a stream.
func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return out.Body, nil
}

// Delete removes an object.
func (s *S3Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

// List returns object names under prefix, sorted.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := aws.ToString(obj.Key)
			if s.prefix != "" && len(name) > len(s.prefix) {
				name = name[len(s.prefix):]
				if name[0] == '/' {
					name = name[1:]
				}
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
