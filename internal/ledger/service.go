package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"plantgate.org/internal/auth"
)

const shardCount = 64

type entryKey struct {
	kind     string
	objectID string
}

type shard struct {
	mu      sync.Mutex
	entries map[entryKey]*Entry
}

// InMemory implements Ledger with one lock per shard, so races on the same
// object serialize while unrelated objects proceed in parallel.
type InMemory struct {
	shards [shardCount]shard
	now    func() time.Time
}

// NewInMemory creates an empty ledger. now may be nil.
func NewInMemory(now func() time.Time) *InMemory {
	if now == nil {
		now = time.Now
	}
	s := &InMemory{now: now}
	for i := range s.shards {
		s.shards[i].entries = make(map[entryKey]*Entry)
	}
	return s
}

func (s *InMemory) shardFor(k entryKey) *shard {
	h := xxhash.New()
	_, _ = h.WriteString(k.kind)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.objectID)
	return &s.shards[h.Sum64()%shardCount]
}

func (s *InMemory) RecordRequest(ctx context.Context, objectID, kind, requesterID string) (Entry, error) {
	objectID, kind, err := normalizeKey(objectID, kind)
	if err != nil {
		return Entry{}, err
	}
	if requesterID, err = requireUser(requesterID); err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	k := entryKey{kind: kind, objectID: objectID}
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now().UTC()
	e, ok := sh.entries[k]
	if !ok {
		e = &Entry{ObjectID: objectID, Kind: kind, RequesterID: requesterID, CreatedAt: now}
		sh.entries[k] = e
		return copyEntry(e), nil
	}
	if e.Consumed() {
		return copyEntry(e), auth.ErrNoSuchRequest
	}
	e.CreatedAt = now
	return copyEntry(e), nil
}

func (s *InMemory) CheckAndConsume(ctx context.Context, objectID, kind, authorizerID string) (Entry, error) {
	objectID, kind, err := normalizeKey(objectID, kind)
	if err != nil {
		return Entry{}, err
	}
	if authorizerID, err = requireUser(authorizerID); err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	k := entryKey{kind: kind, objectID: objectID}
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[k]
	if !ok || e.Consumed() {
		return Entry{}, auth.ErrNoSuchRequest
	}
	if e.RequesterID == authorizerID {
		return copyEntry(e), auth.ErrSelfAuthorization
	}
	at := s.now().UTC()
	e.ConsumedAt = &at
	e.ConsumedBy = authorizerID
	return copyEntry(e), nil
}

func (s *InMemory) Lookup(ctx context.Context, objectID, kind string) (Entry, error) {
	objectID, kind, err := normalizeKey(objectID, kind)
	if err != nil {
		return Entry{}, err
	}
	k := entryKey{kind: kind, objectID: objectID}
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[k]
	if !ok {
		return Entry{}, auth.ErrNoSuchRequest
	}
	return copyEntry(e), nil
}

func copyEntry(e *Entry) Entry {
	out := *e
	if e.ConsumedAt != nil {
		t := *e.ConsumedAt
		out.ConsumedAt = &t
	}
	return out
}
