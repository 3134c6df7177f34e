package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name   string
	schema string
	insert string // handle, authority, record, score
	load   string // handle -> record, version
	update string // record, score, handle, version
	// allocation reports whether err means the database ran out of space.
	allocation func(error) bool
	// conflict reports whether err is a lock or serialization failure.
	conflict func(error) bool
}

// SQLStore implements the agent store on database/sql with optimistic
// concurrency: each row carries a version that an update must match.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("%s: migrate agents table: %w", s.dialect.name, err)
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, h agent.Handle, a *agent.Agent) error {
	res, err := s.db.ExecContext(ctx, s.dialect.insert,
		h.String(), a.Authority.String(), agent.Encode(a), a.ReputationScore,
	)
	if err != nil {
		if s.dialect.allocation(err) {
			return fmt.Errorf("%w: %v", agent.ErrAllocationFailed, err)
		}
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	if n == 0 {
		return agent.ErrAlreadyExists
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, h agent.Handle) (*agent.Agent, error) {
	a, _, err := s.load(ctx, h)
	return a, err
}

// Update reads the row and its version, applies fn, and writes back only if
// the version is unchanged. A lost race returns agent.ErrConflict.
func (s *SQLStore) Update(ctx context.Context, h agent.Handle, fn func(*agent.Agent) error) (*agent.Agent, error) {
	a, version, err := s.load(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, s.dialect.update,
		agent.Encode(a), a.ReputationScore, h.String(), version,
	)
	if err != nil {
		if s.dialect.conflict(err) {
			return nil, fmt.Errorf("%w: %v", agent.ErrConflict, err)
		}
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	if n == 0 {
		return nil, agent.ErrConflict
	}
	return a, nil
}

func (s *SQLStore) load(ctx context.Context, h agent.Handle) (*agent.Agent, int64, error) {
	var (
		record  []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.load, h.String()).Scan(&record, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, agent.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load agent: %w", err)
	}
	a, err := agent.Decode(record)
	if err != nil {
		return nil, 0, err
	}
	return a, version, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
