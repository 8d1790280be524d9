package api

import (
	"net/http"

	"github.com/jmcleod/checkoutgate/gate"
)

// writeBindingCookie sets the anti-forgery binding cookie that challenge
// form tokens are tied to. It lives for the browser session and is scoped to
// the whole site so the verify endpoint receives it too.
func (a *API) writeBindingCookie(w http.ResponseWriter, r *http.Request, binding string) {
	http.SetCookie(w, &http.Cookie{
		Name:     gate.BindingCookieName,
		Value:    binding,
		Path:     "/",
		Domain:   a.cookie.Domain,
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
	})
}
