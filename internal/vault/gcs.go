package vault

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"simjur/internal/simjur"
)

// gcsBucket is the slice of the GCS API used by GCSVault. Object names are
// full names, prefix included. A writer whose context is cancelled before
// Close must not produce an object.
type gcsBucket interface {
	NewWriter(ctx context.Context, name string) io.WriteCloser
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	Check(ctx context.Context) error
	Close() error
}

// storageBucket adapts *storage.Client to gcsBucket.
type storageBucket struct {
	client *storage.Client
	bucket string
}

func (b storageBucket) handle(name string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(name)
}

func (b storageBucket) NewWriter(ctx context.Context, name string) io.WriteCloser {
	w := b.handle(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return w
}

func (b storageBucket) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.handle(name).NewReader(ctx)
}

func (b storageBucket) Delete(ctx context.Context, name string) error {
	return b.handle(name).Delete(ctx)
}

func (b storageBucket) Check(ctx context.Context) error {
	_, err := b.client.Bucket(b.bucket).Attrs(ctx)
	return err
}

func (b storageBucket) Close() error {
	return b.client.Close()
}

// GCSVault stores blobs as objects under <prefix><key> in a Google Cloud
// Storage bucket. Credentials come from Application Default Credentials.
type GCSVault struct {
	name   string
	bucket string
	prefix string
	api    gcsBucket
}

// NewGCSVault creates a GCS-backed vault.
func NewGCSVault(ctx context.Context, name, bucket, prefix string) (*GCSVault, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs vault requires gcs_bucket to be set")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return newGCSVault(name, bucket, prefix, storageBucket{client: client, bucket: bucket}), nil
}

func newGCSVault(name, bucket, prefix string, api gcsBucket) *GCSVault {
	return &GCSVault{name: name, bucket: bucket, prefix: prefix, api: api}
}

func (v *GCSVault) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := validateKey(key); err != nil {
		return err
	}

	// cancelling the writer's context aborts the upload, so a short
	// stream never becomes a visible object
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := v.api.NewWriter(wctx, v.prefix+key)
	written, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if written != size {
		cancel()
		_ = w.Close()
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", key, err)
	}
	return nil
}

func (v *GCSVault) Get(ctx context.Context, key string, w io.Writer) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	reader, err := v.api.NewReader(ctx, v.prefix+key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs get %s: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	if _, err := io.Copy(w, reader); err != nil {
		return true, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return true, nil
}

func (v *GCSVault) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	err := v.api.Delete(ctx, v.prefix+key)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

func (v *GCSVault) ValidateSetup(ctx context.Context) error {
	if err := v.api.Check(ctx); err != nil {
		return fmt.Errorf("gcs bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

// Close closes the GCS client.
func (v *GCSVault) Close() error {
	return v.api.Close()
}

var _ simjur.Vault = (*GCSVault)(nil)
