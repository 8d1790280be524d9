package api

import "time"

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// VerifyResponse is returned from the asynchronous verify endpoint.
type VerifyResponse struct {
	Success  bool   `json:"success"`
	Redirect string `json:"redirect,omitempty"`
	Message  string `json:"message,omitempty"`
}

// SettingsRequest is the JSON body for PUT /admin/settings.
type SettingsRequest struct {
	// ProtectedHosts replaces the protected host list.
	ProtectedHosts []string `json:"protected_hosts"`
	// ProtectedHostsText is an alternative newline- or comma-separated list,
	// merged after ProtectedHosts.
	ProtectedHostsText string `json:"protected_hosts_text,omitempty"`
	// Password sets a new shared password. Empty keeps the current one.
	Password string `json:"password,omitempty"`
}

// SettingsResponse describes the stored settings. The password hash is
// never included.
type SettingsResponse struct {
	ProtectedHosts []string   `json:"protected_hosts"`
	PasswordSet    bool       `json:"password_set"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	Version        uint64     `json:"version"`
}

// StatusResponse is returned from GET /admin/status.
type StatusResponse struct {
	Host      string `json:"host"`
	Status    string `json:"status"`
	Protected bool   `json:"protected"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
