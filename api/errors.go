package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jmcleod/gatekey/verify"
)

// ErrorResponse is the JSON error body for every rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// mapVerifyError translates a verification failure into a protocol response.
// Every case is recoverable: the user may redo the task and try again.
func mapVerifyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verify.ErrBadCode):
		writeError(w, http.StatusUnauthorized, "invalid_code")
	case errors.Is(err, verify.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token_expired")
	case errors.Is(err, verify.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid_token")
	case errors.Is(err, verify.ErrIPMismatch):
		writeError(w, http.StatusUnauthorized, "token_ip_mismatch")
	case errors.Is(err, verify.ErrMalformedResponse):
		writeError(w, http.StatusBadGateway, "verification_failed")
	case errors.Is(err, verify.ErrAPIUnavailable):
		writeError(w, http.StatusBadGateway, "verification_unavailable")
	default:
		writeError(w, http.StatusUnauthorized, "verification_failed")
	}
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
