package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/checkoutgate/gate"
	"github.com/jmcleod/checkoutgate/hostmatch"
	"github.com/jmcleod/checkoutgate/storage"
)

const maxSettingsBody = 64 << 10

// AdminAuth requires the configured admin token as a bearer token.
func (a *API) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(a.adminToken)) != 1 {
			a.audit.logFailure(AuditAdminUnauthorized, r, "invalid_token")
			w.Header().Set("WWW-Authenticate", `Bearer realm="checkoutgate"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetSettings handles GET /admin/settings.
func (a *API) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.admin.Current(r.Context())
	if err != nil {
		a.logger.ErrorContext(r.Context(), "loading settings failed", slog.Any("error", err))
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse(s))
}

// PutSettings handles PUT /admin/settings. An empty password keeps the
// current one.
func (a *API) PutSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSettingsBody)
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hosts := append([]string{}, req.ProtectedHosts...)
	hosts = append(hosts, hostmatch.ParseList(req.ProtectedHostsText)...)

	s, err := a.admin.Save(r.Context(), gate.SettingsInput{Hosts: hosts, Password: req.Password})
	if err != nil {
		a.logger.ErrorContext(r.Context(), "saving settings failed", slog.Any("error", err))
		mapError(w, err)
		return
	}
	a.audit.log(AuditSettingsSaved, r,
		slog.Int("protected_hosts", len(s.ProtectedHosts)),
		slog.Bool("password_changed", req.Password != ""),
	)
	writeJSON(w, http.StatusOK, settingsResponse(s))
}

// DeleteSettings handles DELETE /admin/settings, removing all configuration.
func (a *API) DeleteSettings(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.Clear(r.Context()); err != nil {
		a.logger.ErrorContext(r.Context(), "clearing settings failed", slog.Any("error", err))
		mapError(w, err)
		return
	}
	a.audit.log(AuditSettingsCleared, r)
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus handles GET /admin/status?host=... and reports how the gate
// treats the host. Without a host parameter the request's own host is used.
func (a *API) GetStatus(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		host = r.Host
	}
	host = strings.ToLower(host)
	st, err := a.admin.Status(r.Context(), host)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "loading settings failed", slog.Any("error", err))
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Host:      host,
		Status:    st.String(),
		Protected: st == gate.StatusProtected,
	})
}

func settingsResponse(s *storage.Settings) SettingsResponse {
	resp := SettingsResponse{
		ProtectedHosts: s.ProtectedHosts,
		PasswordSet:    s.HasPassword(),
		Version:        s.Version,
	}
	if resp.ProtectedHosts == nil {
		resp.ProtectedHosts = []string{}
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}
