package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

// memBucket is an objectBucket with generation numbers, enough to drive the
// conditional-write paths without a cloud account.
type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	gens    map[string]int64
	next    int64
	// beforeReplace runs once, outside the lock, ahead of the next replace.
	beforeReplace func()
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}, gens: map[string]int64{}}
}

func (b *memBucket) read(_ context.Context, key string) ([]byte, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, "", errObjectMissing
	}
	return append([]byte(nil), data...), strconv.FormatInt(b.gens[key], 10), nil
}

func (b *memBucket) put(key string, data []byte) {
	b.next++
	b.objects[key] = append([]byte(nil), data...)
	b.gens[key] = b.next
}

func (b *memBucket) create(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; ok {
		return errPreconditionFailed
	}
	b.put(key, data)
	return nil
}

func (b *memBucket) replace(_ context.Context, key string, data []byte, version string) error {
	if hook := b.beforeReplace; hook != nil {
		b.beforeReplace = nil
		hook()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if strconv.FormatInt(b.gens[key], 10) != version {
		return errPreconditionFailed
	}
	b.put(key, data)
	return nil
}

func (b *memBucket) ping(context.Context) error { return nil }
func (b *memBucket) close() error               { return nil }

func TestObjectStore_Contract(t *testing.T) {
	runStoreContract(t, newObjectStore(newMemBucket(), ""))
}

func TestObjectStore_Key(t *testing.T) {
	h := agent.DeriveHandle(agent.PublicKey{1})
	assert.Equal(t, "agents/"+h.String()+".bin", newObjectStore(newMemBucket(), "").key(h))
	assert.Equal(t, "prod/"+h.String()+".bin", newObjectStore(newMemBucket(), "prod/").key(h))
}

func TestObjectStore_ConcurrentWriteConflicts(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	s := newObjectStore(b, "")
	h, a := newTestAgent(t)
	require.NoError(t, s.Create(ctx, h, a))

	// Another writer lands between our read and our write.
	b.beforeReplace = func() {
		_, err := s.Update(ctx, h, func(a *agent.Agent) error {
			a.Apply(agent.ReputationDelta{ScoreChange: 100})
			return nil
		})
		require.NoError(t, err)
	}
	_, err := s.Update(ctx, h, func(a *agent.Agent) error {
		a.Apply(agent.ReputationDelta{ScoreChange: 7})
		return nil
	})
	assert.True(t, errors.Is(err, agent.ErrConflict))

	got, err := s.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ReputationScore)
}

// fakeS3 answers the subset of the S3 REST API the store uses, including
// If-Match and If-None-Match on PUT.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	etags   map[string]string
	next    int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	if !strings.Contains(path, "/") {
		// Bucket-level request (HeadBucket).
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.Method {
	case http.MethodGet:
		data, ok := f.objects[path]
		if !ok {
			s3Fail(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("ETag", f.etags[path])
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	case http.MethodPut:
		_, exists := f.objects[path]
		if r.Header.Get("If-None-Match") == "*" && exists {
			s3Fail(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		if m := r.Header.Get("If-Match"); m != "" && (!exists || m != f.etags[path]) {
			s3Fail(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			s3Fail(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		f.next++
		f.objects[path] = data
		f.etags[path] = fmt.Sprintf("%q", strconv.Itoa(f.next))
		w.Header().Set("ETag", f.etags[path])
		w.WriteHeader(http.StatusOK)
	default:
		s3Fail(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func s3Fail(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

func newS3TestStore(t *testing.T) (*ObjectStore, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, etags: map[string]string{}}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(ts.URL),
		UsePathStyle:               true,
		Credentials:                aws.AnonymousCredentials{},
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	return NewS3StoreWithClient(client, "agent-records", ""), fake
}

func TestS3Store_Contract(t *testing.T) {
	s, _ := newS3TestStore(t)
	runStoreContract(t, s)
}

func TestS3Store_StaleETagConflicts(t *testing.T) {
	ctx := context.Background()
	s, fake := newS3TestStore(t)
	h, a := newTestAgent(t)
	require.NoError(t, s.Create(ctx, h, a))

	_, err := s.Update(ctx, h, func(*agent.Agent) error {
		// Simulate a writer that committed after our read.
		fake.mu.Lock()
		fake.etags["agent-records/"+s.key(h)] = `"other"`
		fake.mu.Unlock()
		return nil
	})
	assert.True(t, errors.Is(err, agent.ErrConflict))
}

func TestGCSError(t *testing.T) {
	assert.NoError(t, gcsError(nil))
	assert.True(t, errors.Is(gcsError(storage.ErrObjectNotExist), errObjectMissing))
	assert.True(t, errors.Is(gcsError(&googleapi.Error{Code: http.StatusPreconditionFailed}), errPreconditionFailed))

	other := &googleapi.Error{Code: http.StatusForbidden}
	err := gcsError(other)
	assert.False(t, errors.Is(err, errPreconditionFailed))
	assert.False(t, errors.Is(err, errObjectMissing))
}
