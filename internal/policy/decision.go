package policy

import (
	"time"

	"plantgate.org/internal/auth"
)

// Outcome is the verdict of one evaluation.
type Outcome string

const (
	OutcomeAllow  Outcome = "allow"
	OutcomeDeny   Outcome = "deny"
	OutcomeRedact Outcome = "redact"
)

// ObjectContext describes the business object an action targets. Every
// field is optional; which ones matter depends on the permission.
type ObjectContext struct {
	ObjectID string
	// Kind defaults to the object kind of the permission.
	Kind string
	// RequesterID is the requester as the caller knows it. It is checked in
	// addition to the ledger entry, never instead of it.
	RequesterID string
	// Area is the plant area the object lives in.
	Area string
}

// Decision is the result of Evaluate. Redact is only set with OutcomeRedact,
// which is an allow with fields to strip.
type Decision struct {
	Outcome    Outcome
	Reason     auth.Reason
	Redact     []string
	Permission auth.Permission
	SubjectID  string
	SessionID  string
	Mode       auth.Mode
	ObjectID   string
	ObjectKind string
	At         time.Time
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow || d.Outcome == OutcomeRedact
}

// Redacted reports whether the caller must strip fields before rendering.
func (d Decision) Redacted() bool {
	return d.Outcome == OutcomeRedact && len(d.Redact) > 0
}

// Err returns the sentinel error for a denial, nil otherwise.
func (d Decision) Err() error {
	if d.Allowed() {
		return nil
	}
	return d.Reason.Err()
}

// Filter applies the decision's redaction to payload.
func (d Decision) Filter(payload map[string]any) map[string]any {
	if !d.Redacted() {
		return payload
	}
	return ApplyRedaction(payload, d.Redact)
}
