package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

const defaultObjectPrefix = "agents/"

var (
	errObjectMissing      = errors.New("object does not exist")
	errPreconditionFailed = errors.New("object precondition failed")
)

// objectBucket is the conditional-write surface an object store needs.
// Versions are opaque tokens (an S3 ETag, a GCS generation) returned by read
// and required by replace.
type objectBucket interface {
	read(ctx context.Context, key string) (data []byte, version string, err error)
	create(ctx context.Context, key string, data []byte) error
	replace(ctx context.Context, key string, data []byte, version string) error
	ping(ctx context.Context) error
	close() error
}

// ObjectStore keeps one object per record in a bucket. Create is a
// write-if-absent and Update a write-if-unchanged, so a concurrent writer
// makes the losing request fail with agent.ErrConflict.
type ObjectStore struct {
	bucket objectBucket
	prefix string
}

func newObjectStore(b objectBucket, prefix string) *ObjectStore {
	if prefix == "" {
		prefix = defaultObjectPrefix
	}
	return &ObjectStore{bucket: b, prefix: prefix}
}

func (s *ObjectStore) key(h agent.Handle) string {
	return s.prefix + h.String() + ".bin"
}

func (s *ObjectStore) Create(ctx context.Context, h agent.Handle, a *agent.Agent) error {
	err := s.bucket.create(ctx, s.key(h), agent.Encode(a))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errPreconditionFailed):
		return agent.ErrAlreadyExists
	default:
		return fmt.Errorf("failed to create agent: %w", err)
	}
}

func (s *ObjectStore) Get(ctx context.Context, h agent.Handle) (*agent.Agent, error) {
	raw, _, err := s.bucket.read(ctx, s.key(h))
	if errors.Is(err, errObjectMissing) {
		return nil, agent.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	return agent.Decode(raw)
}

func (s *ObjectStore) Update(ctx context.Context, h agent.Handle, fn func(*agent.Agent) error) (*agent.Agent, error) {
	key := s.key(h)
	raw, version, err := s.bucket.read(ctx, key)
	if errors.Is(err, errObjectMissing) {
		return nil, agent.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	a, err := agent.Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}

	err = s.bucket.replace(ctx, key, agent.Encode(a), version)
	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, errPreconditionFailed), errors.Is(err, errObjectMissing):
		return nil, agent.ErrConflict
	default:
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
}

func (s *ObjectStore) Ping(ctx context.Context) error {
	return s.bucket.ping(ctx)
}

func (s *ObjectStore) Close() error {
	return s.bucket.close()
}
