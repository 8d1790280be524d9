package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/checkoutgate/gate"
	"github.com/jmcleod/checkoutgate/token"
	"github.com/jmcleod/checkoutgate/web"
)

const (
	protocolForm  = "form"
	protocolAsync = "async"
)

// GateMiddleware gates requests for the guarded route and passes everything
// it allows to next.
func (a *API) GateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := gate.CleanPath(r.URL.Path)
		if !a.engine.IsGuarded(clean) {
			next.ServeHTTP(w, r)
			return
		}
		// Only canonical paths are gated and forwarded.
		if canonical := (&url.URL{Path: clean}).EscapedPath(); r.URL.EscapedPath() != canonical {
			if r.URL.RawQuery != "" {
				canonical += "?" + r.URL.RawQuery
			}
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, canonical, http.StatusPermanentRedirect)
			return
		}

		rc := a.requestContext(r)
		ip := a.clientIP(r)
		var refusal *submissionRefusal
		rc.Admit = func() bool {
			refusal = a.admitSubmission(ip)
			return refusal == nil
		}

		start := time.Now()
		d := a.engine.Decide(r.Context(), rc)
		a.observe(d, time.Since(start))

		switch d.Kind {
		case gate.Allow:
			if d.Reason == gate.ReasonSettingsError {
				a.audit.log(AuditSettingsUnavailable, r)
			}
			next.ServeHTTP(w, r)
		case gate.Redirect:
			a.acceptSubmission(w, r, ip, protocolForm, d.Token)
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, d.RedirectURL, http.StatusSeeOther)
		case gate.Challenge:
			if d.Failed {
				a.rejectSubmission(r, ip, protocolForm, d.Reason)
			}
			a.renderChallenge(w, r, d)
		case gate.Throttled:
			a.refuseSubmission(w, r, refusal)
		default:
			a.logger.ErrorContext(r.Context(), "unexpected gate decision", slog.String("kind", d.Kind.String()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	})
}

// Verify handles asynchronous password submissions from the challenge page
// script and answers with a VerifyResponse.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	ip := a.clientIP(r)
	var refusal *submissionRefusal
	rc := gate.RequestContext{
		Method:  r.Method,
		Host:    strings.ToLower(r.Host),
		Path:    r.URL.Path,
		Cookies: cookieMap(r),
		Form:    firstValues(r.PostForm),
		Async:   true,
		Admit: func() bool {
			refusal = a.admitSubmission(ip)
			return refusal == nil
		},
	}
	start := time.Now()
	d := a.engine.SubmitAsync(r.Context(), rc)
	a.observe(d, time.Since(start))

	if d.Kind == gate.Throttled {
		a.refuseSubmission(w, r, refusal)
		return
	}

	if d.Success {
		a.acceptSubmission(w, r, ip, protocolAsync, d.Token)
		writeJSON(w, http.StatusOK, VerifyResponse{Success: true, Redirect: d.RedirectURL})
		return
	}
	if d.Reason == gate.ReasonSettingsError {
		a.audit.log(AuditSettingsUnavailable, r)
	} else {
		a.rejectSubmission(r, ip, protocolAsync, d.Reason)
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		Success: false,
		Message: web.Localize(r.Header.Get("Accept-Language"), web.MsgIncorrectPassword),
	})
}

// submissionRefusal says why a password submission was not admitted.
type submissionRefusal struct {
	reason     string
	retryAfter time.Duration
}

// admitSubmission returns nil when a submission from ip may be checked, or
// the refusal when ip is locked out or the global submission rate is
// exhausted.
func (a *API) admitSubmission(ip string) *submissionRefusal {
	if blocked, retryAfter := a.ipLimiter.check(ip); blocked {
		return &submissionRefusal{reason: "ip_lockout", retryAfter: retryAfter}
	}
	if a.submitLimiter != nil && !a.submitLimiter.Allow() {
		return &submissionRefusal{reason: "global_rate", retryAfter: time.Second}
	}
	return nil
}

// refuseSubmission answers a refused submission with 429.
func (a *API) refuseSubmission(w http.ResponseWriter, r *http.Request, refusal *submissionRefusal) {
	if refusal == nil {
		refusal = &submissionRefusal{reason: "refused", retryAfter: time.Second}
	}
	a.audit.logFailure(AuditSubmissionLimited, r, refusal.reason)
	a.countRateLimited()
	writeRateLimited(w, refusal.retryAfter)
}

func (a *API) acceptSubmission(w http.ResponseWriter, r *http.Request, ip, protocol string, tok *token.Token) {
	if tok != nil {
		a.writeAuthCookie(w, r, *tok)
	}
	a.ipLimiter.recordSuccess(ip)
	a.audit.log(AuditPasswordAccepted, r, slog.String("protocol", protocol))
	if a.metrics != nil {
		a.metrics.Submissions.WithLabelValues(protocol, "accepted").Inc()
		a.metrics.TokensIssued.Inc()
	}
}

func (a *API) rejectSubmission(r *http.Request, ip, protocol string, reason gate.Reason) {
	a.ipLimiter.recordFailure(ip)
	a.audit.logFailure(AuditPasswordRejected, r, string(reason), slog.String("protocol", protocol))
	if a.metrics != nil {
		a.metrics.Submissions.WithLabelValues(protocol, "rejected").Inc()
	}
}

func (a *API) renderChallenge(w http.ResponseWriter, r *http.Request, d gate.Decision) {
	if d.NewBinding != "" {
		a.writeBindingCookie(w, r, d.NewBinding)
	}
	page, err := a.renderer.Challenge(web.ChallengeData{
		Language:         r.Header.Get("Accept-Language"),
		Failed:           d.Failed,
		Action:           r.URL.RequestURI(),
		AsyncURL:         a.asyncPath,
		FieldSecret:      gate.FieldSecret,
		FieldAntiForgery: gate.FieldAntiForgery,
		AntiForgeryToken: d.AntiForgeryToken,
	})
	if err != nil {
		a.logger.ErrorContext(r.Context(), "rendering challenge failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	setSecurityHeaders(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	status := http.StatusOK
	if d.Failed {
		status = http.StatusForbidden
	}
	w.WriteHeader(status)
	w.Write(page)
}

func (a *API) observe(d gate.Decision, elapsed time.Duration) {
	if a.metrics == nil {
		return
	}
	a.metrics.Decisions.WithLabelValues(d.Kind.String(), string(d.Reason)).Inc()
	a.metrics.DecisionDuration.Observe(elapsed.Seconds())
	if d.Reason == gate.ReasonSettingsError {
		a.metrics.SettingsLoadError.Inc()
	}
}

func (a *API) countRateLimited() {
	if a.metrics != nil {
		a.metrics.RateLimited.Inc()
	}
}
