package api

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// NewReverseProxy returns a reverse proxy to the upstream application. The
// client's Host header is passed through unchanged since host protection
// and the application both depend on it.
func NewReverseProxy(target *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	logger = logger.With("component", "proxy")
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.ErrorContext(r.Context(), "upstream request failed",
				slog.String("path", r.URL.Path), slog.Any("error", err))
			writeError(w, http.StatusBadGateway, "upstream unavailable")
		},
	}
}
