package store

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

// Backend is the full surface shared by every store.
type Backend interface {
	Create(ctx context.Context, h agent.Handle, a *agent.Agent) error
	Get(ctx context.Context, h agent.Handle) (*agent.Agent, error)
	Update(ctx context.Context, h agent.Handle, fn func(*agent.Agent) error) (*agent.Agent, error)
	Ping(ctx context.Context) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverS3       = "s3"
	DriverGCS      = "gcs"
)

// Options selects and configures a backend.
type Options struct {
	Driver         string
	DatabaseURL    string
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MemoryCapacity int
	ObjectBucket   string
	ObjectPrefix   string
	S3Region       string
	S3Endpoint     string
}

// Open builds the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemoryStore(WithCapacity(opts.MemoryCapacity)), nil
	case DriverSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite driver requires a database path")
		}
		return OpenSQLite(ctx, opts.SQLitePath)
	case DriverPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres driver requires DATABASE_URL")
		}
		return OpenPostgres(ctx, opts.DatabaseURL)
	case DriverRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis driver requires REDIS_ADDR")
		}
		s := NewRedisStoreFromAddr(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return s, nil
	case DriverS3:
		if opts.ObjectBucket == "" {
			return nil, fmt.Errorf("s3 driver requires OBJECT_BUCKET")
		}
		region := opts.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   opts.ObjectBucket,
			Region:   region,
			Endpoint: opts.S3Endpoint,
			Prefix:   opts.ObjectPrefix,
		})
	case DriverGCS:
		if opts.ObjectBucket == "" {
			return nil, fmt.Errorf("gcs driver requires OBJECT_BUCKET")
		}
		return NewGCSStore(ctx, GCSConfig{Bucket: opts.ObjectBucket, Prefix: opts.ObjectPrefix})
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
