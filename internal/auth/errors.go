package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")

	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUnknownSession     = errors.New("auth: unknown session")
)

// Decision errors. Each one carries a stable Reason code.
var (
	ErrSessionExpired    = errors.New("auth: session expired")
	ErrAccountInactive   = errors.New("auth: account inactive")
	ErrUnknownPermission = errors.New("auth: unknown permission")
	ErrNotGranted        = errors.New("auth: permission not granted")
	ErrSelfAuthorization = errors.New("auth: requester may not authorize own request")
	ErrOutOfArea         = errors.New("auth: object outside assigned plant areas")
	ErrNoSuchRequest     = errors.New("auth: no pending request for object")
	ErrModeNotPermitted  = errors.New("auth: mode not permitted")
	ErrUnavailable       = errors.New("auth: decision backend unavailable")
)

// Reason is the stable code attached to every denial. The presentation layer
// maps it to localized text.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonSessionExpired    Reason = "session_expired"
	ReasonUnknownSession    Reason = "unknown_session"
	ReasonAccountInactive   Reason = "account_inactive"
	ReasonUnknownPermission Reason = "unknown_permission"
	ReasonNotGranted        Reason = "not_granted"
	ReasonSelfAuthorization Reason = "self_authorization"
	ReasonOutOfArea         Reason = "out_of_area"
	ReasonNoSuchRequest     Reason = "no_such_request"
	ReasonModeNotPermitted  Reason = "mode_not_permitted"
	ReasonUnavailable       Reason = "unavailable"
)

var reasonErrors = []struct {
	reason Reason
	err    error
}{
	{ReasonSessionExpired, ErrSessionExpired},
	{ReasonUnknownSession, ErrUnknownSession},
	{ReasonAccountInactive, ErrAccountInactive},
	{ReasonUnknownPermission, ErrUnknownPermission},
	{ReasonNotGranted, ErrNotGranted},
	{ReasonSelfAuthorization, ErrSelfAuthorization},
	{ReasonOutOfArea, ErrOutOfArea},
	{ReasonNoSuchRequest, ErrNoSuchRequest},
	{ReasonModeNotPermitted, ErrModeNotPermitted},
	{ReasonUnavailable, ErrUnavailable},
}

// Err returns the sentinel error for the reason, or nil for ReasonNone.
func (r Reason) Err() error {
	for _, re := range reasonErrors {
		if re.reason == r {
			return re.err
		}
	}
	return nil
}

// ReasonOf maps an error chain back to its reason code. Errors outside the
// decision taxonomy map to ReasonUnavailable.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, re := range reasonErrors {
		if errors.Is(err, re.err) {
			return re.reason
		}
	}
	return ReasonUnavailable
}
