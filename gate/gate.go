// Package gate is the single entry point: it answers from the cached
// credential when possible, and otherwise runs one validation session end to
// end through the local gate server.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"os"

	"github.com/jmcleod/gatekey/api"
	"github.com/jmcleod/gatekey/credential"
	"github.com/jmcleod/gatekey/ledger"
	"github.com/jmcleod/gatekey/session"
	"github.com/jmcleod/gatekey/verify"
)

// Result is the overall answer of a gate invocation.
type Result struct {
	// Valid reports whether the machine now holds a usable credential.
	Valid bool
	// URL is the external gate page to present to the user. Empty when the
	// credential fast path answered.
	URL string
}

// Option configures a gate run.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	docs           bool
	trustedProxies []netip.Prefix
	ledgerStore    ledger.Store
}

// WithLogger sets the structured logger for protocol and credential events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDocs serves OpenAPI docs on the gate server for local debugging.
func WithDocs() Option {
	return func(o *options) {
		o.docs = true
	}
}

// WithTrustedProxies forwards proxy CIDR ranges to the gate server's client
// IP resolution.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(o *options) {
		o.trustedProxies = prefixes
	}
}

// WithLedgerStore overrides the rate-limit ledger backing store. Takes
// precedence over Config.LedgerPath.
func WithLedgerStore(store ledger.Store) Option {
	return func(o *options) {
		o.ledgerStore = store
	}
}

// Pending is an in-flight gate attempt. The caller presents URL to the user
// and waits on Done for the terminal result.
type Pending struct {
	// URL is the external gate page, carrying the session id.
	URL string

	server      *api.Server
	revalidator *credential.Revalidator
	boltLedger  *ledger.BoltStore
	done        chan Result
}

// Done resolves once the gate attempt reaches a terminal state.
func (p *Pending) Done() <-chan Result {
	return p.done
}

// Addr is the bound loopback address of the gate server, empty when the
// credential fast path answered without starting one.
func (p *Pending) Addr() string {
	if p.server == nil {
		return ""
	}
	return p.server.Addr()
}

// Wait blocks until the attempt resolves or ctx is cancelled. Cancellation
// stops the server so the port is released.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-p.done:
		return res, nil
	case <-ctx.Done():
		p.Stop()
		return Result{Valid: false, URL: p.URL}, ctx.Err()
	}
}

// Stop aborts the attempt and releases all resources. Idempotent.
func (p *Pending) Stop() {
	if p.server != nil {
		p.server.Stop()
	}
}

// teardown releases background resources once the server has terminated.
func (p *Pending) teardown() {
	if p.revalidator != nil {
		p.revalidator.Stop()
	}
	if p.boltLedger != nil {
		p.boltLedger.Close()
	}
}

// Open checks the credential store and, on a miss, starts the local gate
// server. The returned Pending is already resolved when the fast path hits
// (its URL is empty and Done yields immediately).
func Open(cfg Config, opts ...Option) (*Pending, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalized()

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	store := credential.NewStore(cfg.KeyPath)

	// Fast path: a valid machine-bound credential skips the whole protocol.
	if store.HasValid(cfg.KeyMaxAge) {
		p := &Pending{done: make(chan Result, 1)}
		p.done <- Result{Valid: true}
		return p, nil
	}

	gateURL, err := url.Parse(cfg.GateURL)
	if err != nil {
		return nil, &ConfigError{Field: "gateUrl", Reason: err.Error()}
	}
	gateOrigin := &url.URL{Scheme: gateURL.Scheme, Host: gateURL.Host}

	sessions := session.NewManager([]byte(cfg.Secret))
	primary, err := sessions.Create(cfg.MinDwell, cfg.SessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	p := &Pending{done: make(chan Result, 1)}

	ledgerOpts := []ledger.Option{}
	switch {
	case o.ledgerStore != nil:
		ledgerOpts = append(ledgerOpts, ledger.WithStore(o.ledgerStore))
	case cfg.LedgerPath != "":
		bolt, err := ledger.NewBoltStoreFromFile(cfg.LedgerPath, nil)
		if err != nil {
			return nil, fmt.Errorf("opening ledger store: %w", err)
		}
		p.boltLedger = bolt
		ledgerOpts = append(ledgerOpts, ledger.WithStore(bolt))
	}
	limiter := ledger.NewLimiter(cfg.RateLimit, cfg.RateWindow, ledgerOpts...)

	var strategy verify.Strategy
	switch cfg.Strategy {
	case StrategyToken:
		strategy = verify.NewTokenVerifier(cfg.VerifyURL,
			verify.WithLogger(o.logger),
			verify.WithIPMismatchRejection(cfg.RejectIPMismatch))
	default:
		strategy = verify.CodeStrategy{}
	}

	srvOpts := []api.Option{api.WithLogger(o.logger)}
	if o.docs {
		srvOpts = append(srvOpts, api.WithDocs())
	}
	if len(o.trustedProxies) > 0 {
		srvOpts = append(srvOpts, api.WithTrustedProxies(o.trustedProxies))
	}

	srv := api.New(api.Config{
		Port:           cfg.Port,
		GateOrigin:     gateOrigin,
		TaskURL:        cfg.TaskURL,
		MinDwell:       cfg.MinDwell,
		SessionTimeout: cfg.SessionTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	}, sessions, primary, limiter, store, strategy, srvOpts...)

	if err := srv.Start(); err != nil {
		p.teardown()
		return nil, err
	}
	p.server = srv

	if cfg.Revalidate {
		p.revalidator = credential.NewRevalidator(store, cfg.KeyMaxAge, cfg.RevalidateInterval, o.logger)
		p.revalidator.Start()
	}

	// The user-facing URL carries the session id back to the adwall page.
	userURL := *gateURL
	q := userURL.Query()
	q.Set("s", primary.ID)
	userURL.RawQuery = q.Encode()
	p.URL = userURL.String()

	go func() {
		outcome := <-srv.Done()
		p.teardown()
		p.done <- Result{Valid: outcome.Success, URL: p.URL}
	}()

	return p, nil
}

// Run is the blocking convenience wrapper: fast path or a full gate attempt
// resolved before returning. Most callers want Open to present the URL while
// waiting; Run suits tests and headless automation.
func Run(ctx context.Context, cfg Config, opts ...Option) (Result, error) {
	p, err := Open(cfg, opts...)
	if err != nil {
		return Result{}, err
	}
	return p.Wait(ctx)
}
