package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/checkoutgate/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrCASFailed):
		writeError(w, http.StatusConflict, "settings were changed concurrently; reload and retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
