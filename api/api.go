package api

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"golang.org/x/time/rate"

	"github.com/jmcleod/checkoutgate/gate"
	"github.com/jmcleod/checkoutgate/metrics"
	"github.com/jmcleod/checkoutgate/web"
)

// ControlPrefix is the path prefix of the gate's own endpoints. Everything
// else belongs to the upstream application.
const ControlPrefix = "/checkoutgate"

const (
	DefaultAsyncPath  = ControlPrefix + "/verify"
	DefaultAssetsPath = ControlPrefix + "/assets"
	// DefaultAjaxParam marks WooCommerce background requests.
	DefaultAjaxParam = "wc-ajax"
)

// API holds the dependencies needed by the HTTP handlers.
type API struct {
	engine   *gate.Engine
	admin    *gate.Admin
	renderer *web.Renderer
	assets   http.Handler
	upstream http.Handler

	logger         *slog.Logger
	audit          *auditLogger
	metrics        *metrics.Metrics
	ipLimiter      *ipRateLimiter
	submitLimiter  *rate.Limiter
	trustedProxies []netip.Prefix
	alertFn        AlertFunc
	webhookURL     string
	webhookAuth    string

	adminToken   string
	cookie       CookieOptions
	asyncPath    string
	assetsPath   string
	ajaxParam    string
	maxFormBytes int64
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and errors.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithMetrics records decisions and submissions on m and serves it at
// ControlPrefix/metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// WithAlertFunc registers a callback invoked when rejected submissions
// spike across all clients.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAuditWebhook forwards every audit event as JSON to url. authHeader,
// when non-empty, is a "Name: value" header added to each delivery.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookAuth = authHeader
	}
}

// WithAdminToken enables the admin API, authenticated by a bearer token.
func WithAdminToken(token string) Option {
	return func(a *API) {
		a.adminToken = token
	}
}

// WithCookieOptions sets the Domain and Path of the auth cookie.
func WithCookieOptions(c CookieOptions) Option {
	return func(a *API) {
		a.cookie = c
	}
}

// WithAsyncPath sets the path of the asynchronous verify endpoint.
func WithAsyncPath(p string) Option {
	return func(a *API) {
		a.asyncPath = p
	}
}

// WithAjaxParam sets the query parameter that marks background requests of
// the upstream application. Such requests on the guarded route are not
// challenged. An empty name disables the exemption.
func WithAjaxParam(name string) Option {
	return func(a *API) {
		a.ajaxParam = name
	}
}

// WithAssetsPath sets the URL prefix of the challenge page assets.
func WithAssetsPath(p string) Option {
	return func(a *API) {
		a.assetsPath = strings.TrimSuffix(p, "/")
	}
}

// WithUpstream sets the handler allowed requests are passed to, normally
// the reverse proxy returned by NewReverseProxy.
func WithUpstream(h http.Handler) Option {
	return func(a *API) {
		a.upstream = h
	}
}

// WithSubmissionRate caps password submissions across all clients.
func WithSubmissionRate(perSecond float64, burst int) Option {
	return func(a *API) {
		a.submitLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTrustedProxies configures the CIDR ranges whose forwarding headers
// are trusted when resolving the client IP for rate limiting. Bare
// addresses are treated as single-host ranges.
func WithTrustedProxies(entries []string) (Option, error) {
	prefixes, err := parseTrustedProxies(entries)
	if err != nil {
		return nil, fmt.Errorf("parsing trusted proxies: %w", err)
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance around a gate engine and its settings
// service.
func New(engine *gate.Engine, admin *gate.Admin, opts ...Option) (*API, error) {
	if engine == nil || admin == nil {
		return nil, errors.New("api: engine and admin are required")
	}
	a := &API{
		engine:       engine,
		admin:        admin,
		ipLimiter:    newIPRateLimiter(),
		cookie:       CookieOptions{Path: "/"},
		asyncPath:    DefaultAsyncPath,
		assetsPath:   DefaultAssetsPath,
		ajaxParam:    DefaultAjaxParam,
		maxFormBytes: defaultMaxFormBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	a.audit.metrics = newMetricsCollector(a.alertFn)
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookAuth, a.logger)
	}
	a.logger = a.logger.With("component", "api")
	if a.upstream == nil {
		a.upstream = http.NotFoundHandler()
	}
	if a.cookie.Path == "" {
		a.cookie.Path = "/"
	}

	renderer, err := web.NewRenderer(a.assetsPath)
	if err != nil {
		return nil, err
	}
	a.renderer = renderer
	if a.assets, err = web.Assets(); err != nil {
		return nil, err
	}
	return a, nil
}

// Router returns the complete router: the gate's own endpoints, and every
// other path passed through GateMiddleware to the upstream.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get(ControlPrefix+"/health", a.Health)
	if a.metrics != nil {
		r.Method(http.MethodGet, ControlPrefix+"/metrics", a.metrics.Handler())
	}

	r.Route(ControlPrefix+"/api", func(r chi.Router) {
		r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/yaml")
			w.Write(openapiSpec)
		})
		r.Handle("/docs", middleware.SwaggerUI(middleware.SwaggerUIOpts{
			SpecURL: ControlPrefix + "/api/openapi.yaml",
			Path:    strings.TrimPrefix(ControlPrefix, "/") + "/api/docs",
		}, nil))
		r.Handle("/redoc", middleware.Redoc(middleware.RedocOpts{
			SpecURL: ControlPrefix + "/api/openapi.yaml",
			Path:    strings.TrimPrefix(ControlPrefix, "/") + "/api/redoc",
		}, nil))
	})

	r.With(SecurityHeaders).Post(a.asyncPath, a.Verify)
	r.Method(http.MethodGet, a.assetsPath+"/*", http.StripPrefix(a.assetsPath, a.assets))

	if a.adminToken != "" {
		r.Route(ControlPrefix+"/admin", func(r chi.Router) {
			r.Use(SecurityHeaders, a.AdminAuth)
			r.Get("/settings", a.GetSettings)
			r.Put("/settings", a.PutSettings)
			r.Delete("/settings", a.DeleteSettings)
			r.Get("/status", a.GetStatus)
		})
	}

	r.Handle("/*", a.GateMiddleware(a.upstream))
	return r
}

// StartSweeper periodically drops expired rate-limit records until ctx is
// cancelled.
func (a *API) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.ipLimiter.sweep()
			}
		}
	}()
}

// Close flushes queued audit webhook deliveries. It is safe to call when no
// webhook is configured.
func (a *API) Close() {
	if a.audit != nil && a.audit.webhook != nil {
		a.audit.webhook.close()
		a.audit.webhook = nil
	}
}

// Health reports liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}
