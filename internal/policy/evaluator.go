package policy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"plantgate.org/internal/audit"
	"plantgate.org/internal/auth"
	"plantgate.org/internal/ledger"
	"plantgate.org/internal/obs"
)

// Evaluator decides whether a session may exercise a permission. Authorize-class
// checks deny when either ObjectContext.RequesterID or the ledger's requester
// of record is the subject.
type Evaluator struct {
	catalog *auth.Catalog
	ledger  ledger.Ledger
	sink    audit.Sink
	now     func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithLedger(l ledger.Ledger) Option {
	return func(e *Evaluator) { e.ledger = l }
}

func WithAuditSink(s audit.Sink) Option {
	return func(e *Evaluator) { e.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func New(cat *auth.Catalog, opts ...Option) *Evaluator {
	e := &Evaluator{catalog: cat, sink: audit.Discard{}, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns the decision for s exercising perm on obj and appends it
// to the audit sink. It has no side effects on the ledger.
func (e *Evaluator) Evaluate(ctx context.Context, s *auth.Session, perm auth.Permission, obj *ObjectContext) Decision {
	start := time.Now()
	d, _ := e.decide(ctx, s, perm, obj)
	e.finish(ctx, d, start)
	return d
}

// EvaluateContext evaluates against the session stored in ctx.
func (e *Evaluator) EvaluateContext(ctx context.Context, perm auth.Permission, obj *ObjectContext) Decision {
	s, _ := auth.SessionFromContext(ctx)
	return e.Evaluate(ctx, s, perm, obj)
}

// Exercise evaluates and, when allowed, applies the ledger effect of the
// permission: request-class actions open an entry for the object and
// authorize-class actions consume it. The error is non-nil only when the
// decision could not be reached (missing object id, ledger failure); the
// returned decision is then a deny.
func (e *Evaluator) Exercise(ctx context.Context, s *auth.Session, perm auth.Permission, obj *ObjectContext) (Decision, error) {
	start := time.Now()
	d, cp := e.decide(ctx, s, perm, obj)
	if !d.Allowed() || (cp.Class != auth.ClassRequest && cp.Class != auth.ClassAuthorize) {
		e.finish(ctx, d, start)
		return d, nil
	}
	if e.ledger == nil {
		d = deny(d, auth.ReasonUnavailable)
		e.finish(ctx, d, start)
		return d, fmt.Errorf("%w: no ledger configured", auth.ErrUnavailable)
	}
	if d.ObjectID == "" {
		d = deny(d, auth.ReasonNoSuchRequest)
		e.finish(ctx, d, start)
		return d, fmt.Errorf("%w: %s needs an object id", auth.ErrInvalidInput, perm)
	}

	var err error
	if cp.Class == auth.ClassRequest {
		_, err = e.ledger.RecordRequest(ctx, d.ObjectID, d.ObjectKind, d.SubjectID)
	} else {
		_, err = e.ledger.CheckAndConsume(ctx, d.ObjectID, d.ObjectKind, d.SubjectID)
	}
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrSelfAuthorization), errors.Is(err, auth.ErrNoSuchRequest):
		d = deny(d, auth.ReasonOf(err))
		err = nil
	default:
		d = deny(d, auth.ReasonUnavailable)
		err = fmt.Errorf("%w: %v", auth.ErrUnavailable, err)
	}
	e.finish(ctx, d, start)
	return d, err
}

func (e *Evaluator) decide(ctx context.Context, s *auth.Session, perm auth.Permission, obj *ObjectContext) (Decision, auth.Capability) {
	d := Decision{
		Outcome:    OutcomeDeny,
		Permission: perm,
		At:         e.now().UTC(),
	}
	if obj != nil {
		d.ObjectID = obj.ObjectID
		d.ObjectKind = obj.Kind
	}
	if s == nil || s.User == nil {
		d.Reason = auth.ReasonUnknownSession
		return d, auth.Capability{}
	}
	u := s.User
	d.SubjectID = u.ID
	d.SessionID = s.ID
	d.Mode = s.Mode

	if !u.Active {
		d.Reason = auth.ReasonAccountInactive
		return d, auth.Capability{}
	}
	if s.Expired(d.At) {
		d.Reason = auth.ReasonSessionExpired
		return d, auth.Capability{}
	}
	cp, ok := e.catalog.Lookup(perm)
	if !ok {
		obs.UnknownPermissionTotal.Inc()
		obs.Error("unknown permission", map[string]any{
			"permission":      string(perm),
			"catalog_version": e.catalog.Version(),
			"subject_id":      u.ID,
		})
		d.Reason = auth.ReasonUnknownPermission
		return d, auth.Capability{}
	}
	if cp.ObjectKind != "" {
		d.ObjectKind = cp.ObjectKind
	}
	if !u.HasPermission(perm) {
		d.Reason = auth.ReasonNotGranted
		return d, cp
	}
	if !cp.HasMode(s.Mode) {
		d.Reason = auth.ReasonModeNotPermitted
		return d, cp
	}
	if cp.Class == auth.ClassAuthorize {
		if obj != nil && obj.RequesterID != "" && obj.RequesterID == u.ID {
			d.Reason = auth.ReasonSelfAuthorization
			return d, cp
		}
		requester, err := e.recordedRequester(ctx, obj, d.ObjectKind)
		if err != nil {
			d.Reason = auth.ReasonUnavailable
			return d, cp
		}
		if requester != "" && requester == u.ID {
			d.Reason = auth.ReasonSelfAuthorization
			return d, cp
		}
	}
	if cp.AreaScoped && u.AreaRestricted() {
		area := ""
		if obj != nil {
			area = obj.Area
		}
		if !u.InArea(area) {
			d.Reason = auth.ReasonOutOfArea
			return d, cp
		}
	}

	d.Outcome = OutcomeAllow
	if r, ok := e.catalog.RedactionFor(perm); ok && !u.HasPermission(r.Sensitive) {
		d.Outcome = OutcomeRedact
		d.Redact = slices.Clone(r.Fields)
	}
	return d, cp
}

// recordedRequester returns the requester the ledger holds for the object,
// "" when there is no entry. A caller-supplied RequesterID never replaces it.
func (e *Evaluator) recordedRequester(ctx context.Context, obj *ObjectContext, kind string) (string, error) {
	if obj == nil || obj.ObjectID == "" || e.ledger == nil {
		return "", nil
	}
	entry, err := e.ledger.Lookup(ctx, obj.ObjectID, kind)
	if err != nil {
		if errors.Is(err, auth.ErrNoSuchRequest) {
			return "", nil
		}
		obs.Error("ledger lookup failed", map[string]any{
			"object_id": obj.ObjectID,
			"kind":      kind,
			"error":     err.Error(),
		})
		return "", err
	}
	return entry.RequesterID, nil
}

func deny(d Decision, reason auth.Reason) Decision {
	d.Outcome = OutcomeDeny
	d.Reason = reason
	d.Redact = nil
	return d
}

func (e *Evaluator) finish(ctx context.Context, d Decision, start time.Time) {
	obs.EvaluationDuration.Observe(time.Since(start).Seconds())
	label := string(d.Permission)
	if d.Reason == auth.ReasonUnknownPermission {
		label = "unknown"
	}
	obs.DecisionsTotal.WithLabelValues(label, string(d.Outcome), string(d.Reason)).Inc()
	e.sink.Record(ctx, audit.Record{
		OccurredAt: d.At,
		SubjectID:  d.SubjectID,
		SessionID:  d.SessionID,
		Permission: string(d.Permission),
		ObjectID:   d.ObjectID,
		ObjectKind: d.ObjectKind,
		Outcome:    string(d.Outcome),
		Reason:     string(d.Reason),
		Redacted:   d.Redact,
		Mode:       string(d.Mode),
	})
}
