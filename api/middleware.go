package api

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/checkoutgate/gate"
	"github.com/jmcleod/checkoutgate/token"
)

// defaultMaxFormBytes bounds how much of a guarded POST body is buffered to
// look for a password submission.
const defaultMaxFormBytes = 64 << 10

// CookieOptions scopes the cookies the gate sets.
type CookieOptions struct {
	Domain string
	Path   string
}

func (a *API) writeAuthCookie(w http.ResponseWriter, r *http.Request, tok token.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     gate.CookieName,
		Value:    tok.String(),
		Path:     a.cookie.Path,
		Domain:   a.cookie.Domain,
		Expires:  tok.Expires(),
		MaxAge:   int(a.engine.TokenTTL() / time.Second),
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

// isAsync reports whether r is a background request of the upstream
// application, marked by a non-empty ajax query parameter that the
// application answers without rendering the page. Browser navigations never
// count.
func (a *API) isAsync(r *http.Request) bool {
	if a.ajaxParam == "" || strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return false
	}
	values, ok := r.URL.Query()[a.ajaxParam]
	if !ok {
		return false
	}
	for _, v := range values {
		if v == "" {
			return false
		}
	}
	return true
}

// requestContext converts r into the engine's view of it. For a form POST
// the body is buffered (up to maxFormBytes) and restored so the upstream
// still receives it when the request is allowed.
func (a *API) requestContext(r *http.Request) gate.RequestContext {
	rc := gate.RequestContext{
		Method:  r.Method,
		Host:    strings.ToLower(r.Host),
		Path:    r.URL.Path,
		Cookies: cookieMap(r),
		Async:   a.isAsync(r),
	}
	if r.Method == http.MethodPost && r.Body != nil && isURLEncoded(r) {
		rc.Form = a.bufferForm(r)
	}
	return rc
}

func (a *API) bufferForm(r *http.Request) map[string]string {
	body, err := io.ReadAll(io.LimitReader(r.Body, a.maxFormBytes+1))
	if err != nil {
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
		return nil
	}
	if int64(len(body)) > a.maxFormBytes {
		// Too large to be a password form; hand it on untouched.
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil
	}
	return firstValues(values)
}

func isURLEncoded(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/x-www-form-urlencoded"
}

func firstValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func cookieMap(r *http.Request) map[string]string {
	cookies := r.Cookies()
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		if _, seen := out[c.Name]; !seen {
			out[c.Name] = c.Value
		}
	}
	return out
}
