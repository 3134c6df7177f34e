package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSConfig holds configuration for a GCS-backed store.
type GCSConfig struct {
	Bucket string
	Prefix string
}

type gcsBucket struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a store on a GCS bucket using application default
// credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*ObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return newObjectStore(&gcsBucket{client: client, bucket: cfg.Bucket}, cfg.Prefix), nil
}

func (b *gcsBucket) object(key string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(key)
}

func (b *gcsBucket) read(ctx context.Context, key string) ([]byte, string, error) {
	r, err := b.object(key).NewReader(ctx)
	if err != nil {
		return nil, "", gcsError(err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("gcs read failed: %w", err)
	}
	return data, strconv.FormatInt(r.Attrs.Generation, 10), nil
}

func (b *gcsBucket) create(ctx context.Context, key string, data []byte) error {
	return b.write(ctx, b.object(key).If(storage.Conditions{DoesNotExist: true}), data)
}

func (b *gcsBucket) replace(ctx context.Context, key string, data []byte, version string) error {
	gen, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid generation %q: %w", version, err)
	}
	return b.write(ctx, b.object(key).If(storage.Conditions{GenerationMatch: gen}), data)
}

func (b *gcsBucket) write(ctx context.Context, obj *storage.ObjectHandle, data []byte) error {
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return gcsError(err)
	}
	return gcsError(w.Close())
}

func (b *gcsBucket) ping(ctx context.Context) error {
	_, err := b.client.Bucket(b.bucket).Attrs(ctx)
	return err
}

func (b *gcsBucket) close() error {
	return b.client.Close()
}

// gcsError maps GCS responses onto the bucket sentinels. Failed
// generation preconditions answer 412.
func gcsError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %v", errObjectMissing, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %v", errPreconditionFailed, err)
	}
	return err
}
