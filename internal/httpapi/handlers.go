package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"plantgate.org/internal/auth"
	"plantgate.org/internal/obs"
)

// Pinger is a backing store that can answer a readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ReadyProbe pings every named backing store concurrently.
type ReadyProbe struct {
	Checks  map[string]Pinger
	Timeout time.Duration
}

// Check returns the failing store names mapped to their errors.
func (rp ReadyProbe) Check(ctx context.Context) map[string]string {
	timeout := rp.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names := make([]string, 0, len(rp.Checks))
	for name := range rp.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		p := rp.Checks[name]
		g.Go(func() error {
			errs[i] = p.Ping(ctx)
			return nil
		})
	}
	_ = g.Wait()

	failed := make(map[string]string)
	for i, err := range errs {
		if err != nil {
			failed[names[i]] = err.Error()
		}
	}
	return failed
}

// API is the ops HTTP surface: probes, metrics and the catalog listing.
// Authorization decisions are made in process, not over HTTP.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	catalog    *auth.Catalog
	roles      *auth.RoleProfiles
	version    string

	rateBurst  int
	ratePerSec float64
}

// Option configures an API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

// WithRoleProfiles exposes role defaults next to the catalog.
func WithRoleProfiles(rp *auth.RoleProfiles) Option {
	return func(a *API) { a.roles = rp }
}

func New(rp ReadyProbe, cat *auth.Catalog, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		catalog:    cat,
		version:    version,
		rateBurst:  40,
		ratePerSec: 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.HandleFunc("GET /v1/catalog", a.Catalog)
	a.mux.Handle("GET /metrics", obs.Handler())
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	return a
}

// Handler wraps the mux in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "plantgate",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	failed := a.readyProbe.Check(r.Context())
	obs.SetReady(len(failed) == 0)
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"failed": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":            "plantgate",
		"time":            time.Now().UTC().Format(time.RFC3339),
		"version":         a.version,
		"catalog_version": a.catalog.Version(),
	})
}

type capabilityView struct {
	Permission  string   `json:"permission"`
	Domain      string   `json:"domain"`
	Class       string   `json:"class"`
	Description string   `json:"description,omitempty"`
	Modes       []string `json:"modes"`
	AreaScoped  bool     `json:"area_scoped,omitempty"`
	ObjectKind  string   `json:"object_kind,omitempty"`
	Redacts     []string `json:"redacts,omitempty"`
}

// Catalog lists the capability catalog, optionally filtered by ?domain=.
func (a *API) Catalog(w http.ResponseWriter, r *http.Request) {
	domain := strings.TrimSpace(r.URL.Query().Get("domain"))
	out := make([]capabilityView, 0, 32)
	for _, c := range a.catalog.All() {
		if domain != "" && string(c.Domain) != domain {
			continue
		}
		v := capabilityView{
			Permission:  string(c.Permission),
			Domain:      string(c.Domain),
			Class:       c.Class.String(),
			Description: c.Description,
			AreaScoped:  c.AreaScoped,
			ObjectKind:  c.ObjectKind,
		}
		for _, m := range c.Modes {
			v.Modes = append(v.Modes, string(m))
		}
		if red, ok := a.catalog.RedactionFor(c.Permission); ok {
			v.Redacts = red.Fields
		}
		out = append(out, v)
	}
	resp := map[string]any{
		"version":      a.catalog.Version(),
		"capabilities": out,
	}
	if a.roles != nil {
		roles := make(map[string]any)
		for _, role := range a.roles.Roles() {
			p, _ := a.roles.Profile(role)
			roles[string(role)] = map[string]any{
				"default_mode": string(p.DefaultMode),
				"permissions":  p.Permissions.Strings(),
			}
		}
		resp["roles"] = roles
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
