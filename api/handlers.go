package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/gatekey/credential"
	"github.com/jmcleod/gatekey/session"
	"github.com/jmcleod/gatekey/verify"
)

// InitResponse tells the adwall page everything it needs to run the flow.
type InitResponse struct {
	Session  string `json:"session"`
	DwellMs  int64  `json:"dwellMs"`
	Callback string `json:"callback"`
}

// ValidateResponse is the JSON success payload for API-style callers.
type ValidateResponse struct {
	Valid bool `json:"valid"`
}

// handleInit serves GET /init: the remote adwall page's first contact. The
// response embeds the full session context so the page can complete the flow
// even when routed through an intermediary; the in-memory session table
// remains authoritative.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	resp := InitResponse{
		Session:  s.primary.ID,
		DwellMs:  s.cfg.MinDwell.Milliseconds(),
		Callback: s.CallbackURL(),
	}

	s.audit.log(EventInit, r, slog.String("session", s.primary.ID))

	if r.URL.Query().Get("redirect") == "1" && s.cfg.GateOrigin != nil {
		target := *s.cfg.GateOrigin
		q := target.Query()
		q.Set("s", resp.Session)
		q.Set("dwell", strconv.FormatInt(resp.DwellMs, 10))
		q.Set("callback", resp.Callback)
		target.RawQuery = q.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLink serves GET /link: the optional hop that hands the browser off
// to the task provider, embedding the callback the provider will substitute
// its one-time token into.
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("s")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_session")
		return
	}

	if _, err := s.sessions.Lookup(id); err != nil {
		s.audit.log(EventLinkRejected, r, slog.String("session", id))
		writeError(w, http.StatusNotFound, "invalid_session")
		return
	}

	target, err := url.Parse(s.cfg.TaskURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "bad_task_url")
		return
	}

	callback := s.CallbackURL() + "?s=" + url.QueryEscape(id)
	q := target.Query()
	q.Set("callback", callback)
	target.RawQuery = q.Encode()

	s.audit.log(EventLinkRedirect, r, slog.String("session", id))
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleValidate serves GET /validate: the terminal protocol step. Checks
// run strictly in order — referrer, session, dwell, rate limit,
// verification — and only a fully passed attempt writes a credential.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("s")

	// 1. Referrer: the request must come from the configured adwall origin.
	// A mismatch is a forgery signal, terminal for the session and for this
	// server instance.
	if !s.referrerOK(r) {
		s.audit.log(EventReferrerMismatch, r,
			slog.String("session", id),
			slog.String("referer", r.Header.Get("Referer")))
		if id != "" {
			s.sessions.Fail(id)
		}
		writeError(w, http.StatusForbidden, "invalid_referrer")
		s.terminate(Outcome{Success: false, Reason: "invalid_referrer"})
		return
	}

	// 2. Session existence and expiration.
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_session")
		return
	}
	sess, err := s.sessions.Lookup(id)
	switch {
	case errors.Is(err, session.ErrExpired):
		s.audit.log(EventSessionRejected, r, slog.String("session", id), slog.String("cause", "expired"))
		writeError(w, http.StatusRequestTimeout, "session_expired")
		return
	case err != nil:
		s.audit.log(EventSessionRejected, r, slog.String("session", id), slog.String("cause", "unknown"))
		writeError(w, http.StatusBadRequest, "invalid_session")
		return
	}
	if sess.State() != session.StatePending {
		// Single use: a validated or failed session rejects cleanly.
		s.audit.log(EventSessionRejected, r, slog.String("session", id), slog.String("cause", "consumed"))
		writeError(w, http.StatusBadRequest, "invalid_session")
		return
	}

	// 3. Minimum dwell. Premature attempts are not failures — the session
	// stays open and the caller is told how long to wait.
	if remaining := sess.RemainingDwell(time.Now()); remaining > 0 {
		s.audit.log(EventDwellRejected, r,
			slog.String("session", id),
			slog.Int64("remaining_ms", remaining.Milliseconds()))
		w.Header().Set("Retry-After", retryAfterString(remaining))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":     "minimum_delay_not_met",
			"retryInMs": remaining.Milliseconds(),
			"dwellMs":   sess.MinDwell.Milliseconds(),
			"elapsedMs": time.Since(sess.StartedAt).Milliseconds(),
		})
		return
	}

	// 4. Rate limit on the caller's network identity.
	identity := s.clientIP(r)
	if d := s.limiter.Check(identity); !d.Allowed {
		s.audit.log(EventRateLimited, r,
			slog.String("session", id),
			slog.String("identity", identity))
		w.Header().Set("Retry-After", retryAfterString(time.Until(d.NextRetryAt)))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "rate_limited",
			"nextRetryAt": d.NextRetryAt.UTC().Format(time.RFC3339),
		})
		return
	}

	// 5. Code or token verification.
	attempt := verify.Attempt{
		SessionID:    id,
		ExpectedCode: sess.ExpectedCode,
		Code:         r.URL.Query().Get("v"),
		Token:        r.URL.Query().Get("token"),
		CallerIP:     identity,
	}
	if err := s.strategy.Verify(r.Context(), attempt); err != nil {
		s.audit.log(EventVerifyFailed, r,
			slog.String("session", id),
			slog.String("error", err.Error()))
		mapVerifyError(w, err)
		return
	}

	// 6. Claim the session atomically; exactly one concurrent attempt may
	// proceed to issue a credential.
	if err := s.sessions.Claim(id); err != nil {
		s.audit.log(EventSessionRejected, r, slog.String("session", id), slog.String("cause", "claim_lost"))
		writeError(w, http.StatusBadRequest, "invalid_session")
		return
	}

	s.limiter.RecordSuccess(identity)

	if err := s.store.Write(credential.Payload{
		Valid:    true,
		IssuedAt: time.Now(),
		Token:    attempt.Token,
	}); err != nil {
		s.audit.log(EventCredentialError, r, slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "credential_write_failed")
		s.terminate(Outcome{Success: false, Reason: "credential_write_failed"})
		return
	}

	s.audit.log(EventValidateSuccess, r,
		slog.String("session", id),
		slog.String("identity", identity))

	writeSuccess(w, r)
	s.terminate(Outcome{Success: true, Reason: "validated"})
}

// referrerOK compares the Referer origin (scheme+host) against the
// configured gate origin.
func (s *Server) referrerOK(r *http.Request) bool {
	if s.cfg.GateOrigin == nil {
		return false
	}
	ref, err := url.Parse(r.Header.Get("Referer"))
	if err != nil {
		return false
	}
	return ref.Scheme == s.cfg.GateOrigin.Scheme && ref.Host == s.cfg.GateOrigin.Host
}

// writeSuccess answers a validated attempt. Browser callers (detected via a
// User-Agent heuristic) get a human-readable message; everything else gets
// JSON.
func writeSuccess(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.UserAgent(), "Mozilla") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Validation complete. You can close this tab and return to the application.\n"))
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: true})
}
