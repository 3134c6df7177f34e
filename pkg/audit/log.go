// Package audit keeps an append-only, hash-chained history of committed
// registry events. The agent record only retains its last event; this log
// is where the sequence lives.
//
// The log is held in memory and bounded. It starts empty on every process
// start, and once full it drops its oldest entries, so the history it
// returns for an agent may begin after that agent's registration.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/agent-registry/pkg/crypto"
	"github.com/Mindburn-Labs/agent-registry/pkg/registry"
)

var ErrChainBroken = errors.New("hash chain is broken")

const (
	genesis = "genesis"

	// DefaultMaxEntries bounds the log when no WithMaxEntries is given.
	DefaultMaxEntries = 100_000
)

// Entry is a single immutable record of one committed event.
type Entry struct {
	EntryID       string             `json:"entry_id"`
	Sequence      uint64             `json:"sequence"`
	Timestamp     time.Time          `json:"timestamp"`
	Kind          registry.EventKind `json:"kind"`
	Handle        string             `json:"handle"`
	Authority     string             `json:"authority"`
	ScoreChange   int64              `json:"score_change"`
	Reference     string             `json:"reference,omitempty"`
	PreviousScore int64              `json:"previous_score"`
	Score         int64              `json:"score"`
	Clamped       bool               `json:"clamped"`
	PreviousHash  string             `json:"previous_hash"`
	EntryHash     string             `json:"entry_hash"`
}

// Log is an in-memory append-only audit log. It implements
// registry.Observer.
type Log struct {
	mu         sync.RWMutex
	entries    []*Entry
	maxEntries int
	sequence   uint64
	chainHead  string
	// anchor is the previous_hash the oldest retained entry must carry.
	anchor  string
	evicted uint64
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithMaxEntries keeps at most n entries, dropping the oldest first. Zero or
// less keeps DefaultMaxEntries.
func WithMaxEntries(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

func NewLog(opts ...Option) *Log {
	l := &Log{
		maxEntries: DefaultMaxEntries,
		chainHead:  genesis,
		anchor:     genesis,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Observe appends ev to the log.
func (l *Log) Observe(_ context.Context, ev registry.Event) error {
	_, err := l.Append(ev)
	return err
}

// Append adds ev as the next entry in the chain.
func (l *Log) Append(ev registry.Event) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &Entry{
		EntryID:       uuid.New().String(),
		Sequence:      l.sequence + 1,
		Timestamp:     l.now(),
		Kind:          ev.Kind,
		Handle:        ev.Handle.String(),
		Authority:     ev.Authority.String(),
		ScoreChange:   ev.Delta.ScoreChange,
		PreviousScore: ev.PreviousScore,
		Score:         ev.Score,
		Clamped:       ev.Clamped,
		PreviousHash:  l.chainHead,
	}
	if ev.Kind == registry.EventReputationRecorded {
		entry.Reference = hex.EncodeToString(ev.Delta.Reference[:])
	}

	entryHash, err := computeEntryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to compute entry hash: %w", err)
	}
	entry.EntryHash = entryHash

	l.sequence = entry.Sequence
	l.chainHead = entryHash
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxEntries {
		l.anchor = l.entries[0].EntryHash
		l.entries[0] = nil
		l.entries = l.entries[1:]
		l.evicted++
	}

	c := *entry
	return &c, nil
}

func computeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// computeEntryHash hashes the canonical form of every field but the hash
// itself.
func computeEntryHash(e *Entry) (string, error) {
	hashable := *e
	hashable.EntryHash = ""
	data, err := crypto.CanonicalMarshal(hashable)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry for hashing: %w", err)
	}
	return computeHash(data), nil
}

// ChainHead returns the hash of the latest entry.
func (l *Log) ChainHead() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chainHead
}

// Size returns the number of retained entries.
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Evicted returns how many entries were dropped to stay within bounds.
func (l *Log) Evicted() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}

// QueryFilter defines filtering criteria for queries.
type QueryFilter struct {
	Handle     string
	Kind       registry.EventKind
	StartSeq   uint64
	MaxResults int
}

func (f QueryFilter) matches(e *Entry) bool {
	if f.Handle != "" && e.Handle != f.Handle {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.StartSeq > 0 && e.Sequence < f.StartSeq {
		return false
	}
	return true
}

// Query returns copies of the entries matching filter, oldest first.
func (l *Log) Query(filter QueryFilter) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]*Entry, 0)
	for _, e := range l.entries {
		if !filter.matches(e) {
			continue
		}
		c := *e
		results = append(results, &c)
		if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
			break
		}
	}
	return results
}

// VerifyChain verifies the integrity of the hash chain.
func (l *Log) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyEntries(l.entries, l.anchor)
}

func verifyEntries(entries []*Entry, anchor string) error {
	expectedPrev := anchor
	for i, entry := range entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		computed, err := computeEntryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, entry.EntryHash)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}
