package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/adaptauthoring/backend/internal/apperr"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// gcsStorage implements Backend on a Google Cloud Storage bucket
type gcsStorage struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStorage connects to a bucket. Stored paths are resolved below prefix.
// When credentialsFile is empty, application default credentials are used.
func NewGCSStorage(ctx context.Context, bucket, prefix, credentialsFile string) (*gcsStorage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadOnly)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &gcsStorage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *gcsStorage) key(p string) string {
	return path.Join(s.prefix, strings.TrimPrefix(p, "/"))
}

// Open opens an object reader that stays valid until closed
func (s *gcsStorage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)

	r, err := s.client.Bucket(s.bucket).Object(s.key(p)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		cancel()
		return nil, apperr.NotFound("asset file", p)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}

	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

// List returns the objects stored below the folder p
func (s *gcsStorage) List(ctx context.Context, p string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	folder := s.key(p) + "/"
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: folder})
	var files []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		files = append(files, strings.TrimPrefix(attrs.Name, folder))
	}
	return files, nil
}

// Close releases the storage client
func (s *gcsStorage) Close() error {
	return s.client.Close()
}

type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}
