// Package gate implements the request-gating engine: it decides whether a
// request for the guarded route is let through, challenged for the shared
// password, or redirected after a successful submission.
//
// The engine is pure with respect to the request: it receives an explicit
// RequestContext and returns a Decision. It holds no mutable state, so one
// Engine serves any number of concurrent requests.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jmcleod/checkoutgate/hostmatch"
	"github.com/jmcleod/checkoutgate/password"
	"github.com/jmcleod/checkoutgate/storage"
	"github.com/jmcleod/checkoutgate/token"
)

// Names shared with the HTTP adapter and the challenge form.
const (
	CookieName        = "checkoutgate_auth"
	BindingCookieName = "checkoutgate_csrf"
	FieldSecret       = "secret"
	FieldAntiForgery  = "csrf_token"
	// AntiForgeryAction scopes anti-forgery tokens to the password form.
	AntiForgeryAction = "checkoutgate_verify_password"
)

// DefaultBypassEndpoints are the guarded-route endpoints that are never
// challenged.
var DefaultBypassEndpoints = []string{"order-received"}

// RequestContext is everything the engine needs to know about a request.
type RequestContext struct {
	Method string
	// Host is the request host, including a non-default port.
	Host string
	Path string
	// Cookies maps cookie names to values.
	Cookies map[string]string
	// Form holds submitted form fields. A key that is present with an empty
	// value counts as submitted.
	Form map[string]string
	// Async marks background requests of the application itself, which
	// never render the guarded page.
	Async bool
	// Admit, when set, is consulted once before a submitted secret is
	// checked. Returning false yields a Throttled decision and the secret is
	// not compared.
	Admit func() bool
}

// Config describes the guarded route and how tokens are scoped.
type Config struct {
	// SiteURL is the canonical base URL of the deployment. It is the site
	// identity tokens are bound to.
	SiteURL string
	// GuardedPath is the path of the guarded route, e.g. "/checkout/".
	GuardedPath string
	// BypassEndpoints are first path segments beneath GuardedPath that are
	// never challenged.
	BypassEndpoints []string
	// TokenTTL is the lifetime of an issued auth token.
	TokenTTL time.Duration
}

func (c *Config) validate() error {
	u, err := url.Parse(c.SiteURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site url %q must be an absolute URL", c.SiteURL)
	}
	if !strings.HasPrefix(c.GuardedPath, "/") {
		return fmt.Errorf("guarded path %q must start with /", c.GuardedPath)
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = token.DefaultTTL
	}
	if c.BypassEndpoints == nil {
		c.BypassEndpoints = DefaultBypassEndpoints
	}
	return nil
}

// Engine is the gate decision engine.
type Engine struct {
	cfg         Config
	repo        storage.Repository
	codec       *token.Codec
	hasher      password.Hasher
	antiForgery *AntiForgery
	now         func() time.Time
	logger      *slog.Logger

	guardedBase string // GuardedPath without trailing slash
	guardedURL  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger used for decision diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine builds an engine from its collaborators.
func NewEngine(cfg Config, repo storage.Repository, codec *token.Codec, hasher password.Hasher, af *AntiForgery, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if repo == nil || codec == nil || hasher == nil || af == nil {
		return nil, errors.New("gate: repository, codec, hasher and anti-forgery are required")
	}
	e := &Engine{
		cfg:         cfg,
		repo:        repo,
		codec:       codec,
		hasher:      hasher,
		antiForgery: af,
		now:         time.Now,
		logger:      slog.Default(),
		guardedBase: strings.TrimSuffix(CleanPath(cfg.GuardedPath), "/"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "gate")
	e.guardedURL = strings.TrimSuffix(cfg.SiteURL, "/") + cfg.GuardedPath
	return e, nil
}

// GuardedURL returns the canonical URL of the guarded route.
func (e *Engine) GuardedURL() string {
	return e.guardedURL
}

// TokenTTL returns the lifetime of issued tokens.
func (e *Engine) TokenTTL() time.Duration {
	return e.cfg.TokenTTL
}

// CleanPath returns the canonical form of a request path: repeated slashes
// and dot segments are resolved the way web servers resolve them, and a
// trailing slash is kept.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	c := path.Clean(p)
	if c != "/" && (strings.HasSuffix(p, "/") || strings.HasSuffix(p, "/.") || strings.HasSuffix(p, "/..")) {
		c += "/"
	}
	return c
}

// IsGuarded reports whether p, once cleaned, is the guarded route or beneath
// it. The comparison ignores case.
func (e *Engine) IsGuarded(p string) bool {
	_, ok := e.guardedRest(CleanPath(p))
	return ok
}

// guardedRest returns what follows the guarded base in the cleaned path p.
func (e *Engine) guardedRest(p string) (string, bool) {
	n := len(e.guardedBase)
	if len(p) < n || !strings.EqualFold(p[:n], e.guardedBase) {
		return "", false
	}
	rest := p[n:]
	if rest == "" {
		return "", true
	}
	if rest[0] != '/' {
		return "", false
	}
	return rest[1:], true
}

// isBypass matches the first segment beneath the guarded base exactly.
func (e *Engine) isBypass(p string) bool {
	rest, ok := e.guardedRest(p)
	if !ok || rest == "" {
		return false
	}
	segment, _, _ := strings.Cut(rest, "/")
	for _, b := range e.cfg.BypassEndpoints {
		if segment == b {
			return true
		}
	}
	return false
}

// Decide gates a request for the application. The rules are evaluated in a
// fixed order and the first match wins.
func (e *Engine) Decide(ctx context.Context, rc RequestContext) Decision {
	p := CleanPath(rc.Path)
	if _, guarded := e.guardedRest(p); !guarded {
		return allow(ReasonNotGuarded)
	}
	if rc.Async || e.isBypass(p) {
		return allow(ReasonBypass)
	}

	settings, err := e.repo.Load(ctx)
	if err != nil {
		// Fail open: a broken settings store must never lock out the route.
		e.logger.WarnContext(ctx, "loading settings failed; allowing request", slog.Any("error", err))
		return allow(ReasonSettingsError)
	}
	if !hostmatch.IsProtected(rc.Host, settings.ProtectedHosts) {
		return allow(ReasonHostNotProtected)
	}
	if !settings.HasPassword() {
		return allow(ReasonNoPassword)
	}

	now := e.now()
	if raw := rc.Cookies[CookieName]; raw != "" && e.codec.Verify(raw, settings.PasswordHash, e.cfg.SiteURL, now) {
		return allow(ReasonValidToken)
	}

	var failed bool
	reason := ReasonChallenge
	if rc.Method == http.MethodPost {
		if _, submitted := rc.Form[FieldSecret]; submitted {
			if rc.Admit != nil && !rc.Admit() {
				return Decision{Kind: Throttled, Reason: ReasonThrottled}
			}
			sub := submissionFrom(rc)
			outcome, why := e.attempt(sub, settings.PasswordHash)
			if outcome == Accepted {
				hash := e.upgradeHash(ctx, settings, sub.Secret)
				tok := e.codec.Issue(hash, e.cfg.SiteURL, now, e.cfg.TokenTTL)
				return Decision{
					Kind:        Redirect,
					Reason:      ReasonAccepted,
					Token:       &tok,
					RedirectURL: e.guardedURL,
				}
			}
			failed = true
			reason = why
		}
	}
	return e.challenge(rc, failed, reason)
}

// SubmitAsync handles a password submission made from client-side code and
// always returns a JSONResult.
func (e *Engine) SubmitAsync(ctx context.Context, rc RequestContext) Decision {
	fail := func(r Reason) Decision {
		return Decision{Kind: JSONResult, Reason: r, Message: MessageIncorrectPassword}
	}

	settings, err := e.repo.Load(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "loading settings failed; rejecting async submission", slog.Any("error", err))
		return fail(ReasonSettingsError)
	}
	if rc.Admit != nil && !rc.Admit() {
		return Decision{Kind: Throttled, Reason: ReasonThrottled}
	}
	sub := submissionFrom(rc)
	outcome, why := e.attempt(sub, settings.PasswordHash)
	if outcome != Accepted {
		return fail(why)
	}
	hash := e.upgradeHash(ctx, settings, sub.Secret)
	tok := e.codec.Issue(hash, e.cfg.SiteURL, e.now(), e.cfg.TokenTTL)
	return Decision{
		Kind:        JSONResult,
		Reason:      ReasonAccepted,
		Success:     true,
		Token:       &tok,
		RedirectURL: e.guardedURL,
	}
}

// upgradeHash replaces a stored hash the hasher considers outdated, once
// the secret it protects has been accepted. It returns the hash new tokens
// are bound to. Tokens bound to the old hash stop verifying.
func (e *Engine) upgradeHash(ctx context.Context, s *storage.Settings, secret string) string {
	rh, ok := e.hasher.(password.Rehasher)
	if !ok || !rh.NeedsRehash(s.PasswordHash) {
		return s.PasswordHash
	}
	hash, err := rh.Hash(secret)
	if err != nil {
		e.logger.WarnContext(ctx, "rehashing password failed", slog.Any("error", err))
		return s.PasswordHash
	}
	next := s.Clone()
	next.PasswordHash = hash
	next.UpdatedAt = e.now().UTC()
	if err := e.repo.Save(ctx, next); err != nil {
		// A concurrent save won; keep issuing for the hash we verified.
		e.logger.WarnContext(ctx, "storing upgraded password hash failed", slog.Any("error", err))
		return s.PasswordHash
	}
	e.logger.InfoContext(ctx, "password hash upgraded")
	return hash
}

func (e *Engine) challenge(rc RequestContext, failed bool, reason Reason) Decision {
	d := Decision{Kind: Challenge, Reason: reason, Failed: failed}
	binding := rc.Cookies[BindingCookieName]
	if !ValidBinding(binding) {
		binding = e.antiForgery.NewBinding()
		d.NewBinding = binding
	}
	d.AntiForgeryToken = e.antiForgery.Issue(binding, e.now())
	return d
}
