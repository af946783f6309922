package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"plantgate.org/internal/auth"
)

// Entry is a pending business action: who asked for what, on which object.
type Entry struct {
	ObjectID    string     `json:"object_id"`
	Kind        string     `json:"kind"`
	RequesterID string     `json:"requester_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	ConsumedBy  string     `json:"consumed_by,omitempty"`
}

// Consumed reports whether an authorizer already used the entry.
func (e Entry) Consumed() bool { return e.ConsumedAt != nil }

// Ledger records requests and lets a distinct user consume them exactly once.
//
// Entries are keyed by (kind, objectID). RecordRequest is idempotent: a
// repeat refreshes CreatedAt and never replaces the requester of record.
// Once consumed an entry stays closed: RecordRequest returns it unchanged
// with auth.ErrNoSuchRequest.
// CheckAndConsume returns auth.ErrNoSuchRequest for a missing or consumed
// entry and auth.ErrSelfAuthorization when authorizerID is the requester.
// Concurrent consumers of one key see exactly one success.
type Ledger interface {
	RecordRequest(ctx context.Context, objectID, kind, requesterID string) (Entry, error)
	CheckAndConsume(ctx context.Context, objectID, kind, authorizerID string) (Entry, error)
	Lookup(ctx context.Context, objectID, kind string) (Entry, error)
}

func normalizeKey(objectID, kind string) (string, string, error) {
	objectID = strings.TrimSpace(objectID)
	kind = strings.TrimSpace(kind)
	if objectID == "" {
		return "", "", fmt.Errorf("%w: object id is required", auth.ErrInvalidInput)
	}
	if kind == "" {
		return "", "", fmt.Errorf("%w: object kind is required", auth.ErrInvalidInput)
	}
	return objectID, kind, nil
}

func requireUser(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	return id, nil
}
