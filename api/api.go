// Package api implements the temporary loopback HTTP server that drives one
// gate attempt: issuing session parameters, handing the browser off to the
// task provider, and finalizing validation before persisting a credential.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/gatekey/credential"
	"github.com/jmcleod/gatekey/ledger"
	"github.com/jmcleod/gatekey/session"
	"github.com/jmcleod/gatekey/verify"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config carries the protocol parameters for one gate server instance.
type Config struct {
	// Port to bind on the loopback interface. 0 picks a free port.
	Port int
	// GateOrigin is the adwall page origin (scheme+host) that /validate
	// requests must originate from.
	GateOrigin *url.URL
	// TaskURL is the third-party task provider page /link redirects to.
	TaskURL string
	// MinDwell is the minimum time between session start and validation.
	MinDwell time.Duration
	// SessionTimeout is the absolute session expiry. 0 disables it.
	SessionTimeout time.Duration
	// IdleTimeout stops the server if no validation succeeds in time.
	IdleTimeout time.Duration
}

// Outcome is the terminal state of a gate server run.
type Outcome struct {
	Success bool
	Reason  string
}

// Server is the local gate HTTP server. One instance serves exactly one gate
// attempt and shuts itself down on the first terminal success or failure.
type Server struct {
	cfg      Config
	sessions *session.Manager
	limiter  *ledger.Limiter
	store    *credential.Store
	strategy verify.Strategy
	audit    *auditLogger

	serveDocs      bool
	trustedProxies []netip.Prefix

	// primary is the session created for this attempt; /init hands out its
	// parameters.
	primary *session.Session

	httpSrv   *http.Server
	ln        net.Listener
	idleTimer *time.Timer

	termOnce sync.Once
	done     chan Outcome
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the structured logger for protocol audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.audit = newAuditLogger(logger)
	}
}

// WithDocs serves the embedded OpenAPI document and a Swagger UI at
// /openapi.yaml and /docs. Intended for local debugging.
func WithDocs() Option {
	return func(s *Server) {
		s.serveDocs = true
	}
}

// WithTrustedProxies allows proxy headers from the given CIDR ranges when
// resolving the caller's network identity.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(s *Server) {
		s.trustedProxies = prefixes
	}
}

// New creates a gate server around an already-created primary session.
func New(cfg Config, sessions *session.Manager, primary *session.Session,
	limiter *ledger.Limiter, store *credential.Store, strategy verify.Strategy,
	opts ...Option) *Server {

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		primary:  primary,
		limiter:  limiter,
		store:    store,
		strategy: strategy,
		done:     make(chan Outcome, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	return s
}

// Router returns the chi router with the protocol endpoints mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/init", s.handleInit)
	r.Get("/link", s.handleLink)
	r.Get("/validate", s.handleValidate)

	if s.serveDocs {
		mountDocs(r)
	}

	return r
}

// Start binds the loopback listener and begins serving. The returned error
// covers bind failures only; serve errors surface through Done.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("binding gate server: %w", err)
	}
	s.ln = ln

	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	if s.cfg.IdleTimeout > 0 {
		s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, func() {
			s.audit.log(EventIdleTimeout, nil)
			s.terminate(Outcome{Success: false, Reason: "idle_timeout"})
		})
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.terminate(Outcome{Success: false, Reason: "serve_error: " + err.Error()})
		}
	}()

	return nil
}

// Addr returns the bound listener address, e.g. "127.0.0.1:4173".
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// CallbackURL is the /validate endpoint the redirect chain targets.
func (s *Server) CallbackURL() string {
	return "http://" + s.Addr() + "/validate"
}

// Done resolves with the terminal outcome of this gate attempt.
func (s *Server) Done() <-chan Outcome {
	return s.done
}

// Stop terminates the server externally, e.g. when the caller gives up
// waiting. Idempotent.
func (s *Server) Stop() {
	s.terminate(Outcome{Success: false, Reason: "stopped"})
}

// terminate records the outcome once and releases the port. The shutdown
// runs asynchronously so an in-flight response can still be written.
func (s *Server) terminate(outcome Outcome) {
	s.termOnce.Do(func() {
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		s.done <- outcome

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if s.httpSrv != nil {
				s.httpSrv.Shutdown(ctx)
			}
		}()
	})
}
