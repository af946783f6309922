package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"plantgate.org/internal/obs"
)

type ctxKey struct{}

// WithRequestID tags ctx so sinks and admin events carry the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext returns the id set by WithRequestID, "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(ctxKey{}).(string)
	return rid
}

// Admin event names written by the provisioner.
const (
	EventUserCreated       = "user.created"
	EventPermissionsSet    = "user.permissions_set"
	EventUserReprovisioned = "user.reprovisioned"
	EventAreasSet          = "user.areas_set"
	EventUserDeactivated   = "user.deactivated"
	EventUserActivated     = "user.activated"
	EventSessionsRevoked   = "sessions.revoked"
)

// AdminEvent is an account change. Access decisions are Records and go
// through a Sink instead.
type AdminEvent struct {
	OccurredAt time.Time      `json:"occurred_at"`
	Type       string         `json:"type"`
	Event      string         `json:"event"`
	UserID     string         `json:"user_id"`
	RequestID  string         `json:"request_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// LogEvent writes one admin event about userID as a JSON line on the shared
// logger.
func LogEvent(ctx context.Context, event, userID string, detail map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("audit: event name is required")
	}
	ev := AdminEvent{
		OccurredAt: time.Now().UTC(),
		Type:       "admin",
		Event:      event,
		UserID:     strings.TrimSpace(userID),
		RequestID:  RequestIDFromContext(ctx),
		Detail:     maps.Clone(detail),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: encode %s: %w", event, err)
	}
	obs.Logger().Println(string(data))
	return nil
}
