package ledger

import (
	"context"
	"errors"

	"plantgate.org/internal/auth"
	"plantgate.org/internal/obs"
)

type instrumented struct {
	next Ledger
}

// WithMetrics counts every ledger operation by result in
// plantgate_sod_operations_total.
func WithMetrics(l Ledger) Ledger {
	return instrumented{next: l}
}

func (m instrumented) RecordRequest(ctx context.Context, objectID, kind, requesterID string) (Entry, error) {
	e, err := m.next.RecordRequest(ctx, objectID, kind, requesterID)
	observe("record", err)
	return e, err
}

func (m instrumented) CheckAndConsume(ctx context.Context, objectID, kind, authorizerID string) (Entry, error) {
	e, err := m.next.CheckAndConsume(ctx, objectID, kind, authorizerID)
	observe("consume", err)
	return e, err
}

func (m instrumented) Lookup(ctx context.Context, objectID, kind string) (Entry, error) {
	e, err := m.next.Lookup(ctx, objectID, kind)
	observe("lookup", err)
	return e, err
}

func observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrNoSuchRequest):
		result = string(auth.ReasonNoSuchRequest)
	case errors.Is(err, auth.ErrSelfAuthorization):
		result = string(auth.ReasonSelfAuthorization)
	case errors.Is(err, auth.ErrInvalidInput):
		result = "invalid"
	default:
		result = "error"
	}
	obs.SoDOperationsTotal.WithLabelValues(op, result).Inc()
}
