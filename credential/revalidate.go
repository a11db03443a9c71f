package credential

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultRevalidateInterval is how often the background check re-examines
// the credential file.
const DefaultRevalidateInterval = 7 * time.Minute

// Revalidator periodically re-checks the on-disk credential and deletes it
// once it is no longer valid, catching post-issuance tampering or machine
// migration without disturbing the main gate flow. All errors are swallowed;
// deletion is best effort.
type Revalidator struct {
	store    *Store
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewRevalidator(store *Store, maxAge, interval time.Duration, logger *slog.Logger) *Revalidator {
	if interval <= 0 {
		interval = DefaultRevalidateInterval
	}
	return &Revalidator{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Call Stop to terminate it.
func (rv *Revalidator) Start() {
	go rv.loop()
}

// Stop terminates the background loop and waits for it to exit. Safe to call
// more than once.
func (rv *Revalidator) Stop() {
	rv.stopOnce.Do(func() {
		close(rv.stop)
	})
	<-rv.done
}

func (rv *Revalidator) loop() {
	defer close(rv.done)

	ticker := time.NewTicker(rv.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rv.stop:
			return
		case <-ticker.C:
			rv.checkOnce()
		}
	}
}

// checkOnce deletes the credential file if it no longer validates. A panic
// or error here must never take down the host process.
func (rv *Revalidator) checkOnce() {
	defer func() {
		if r := recover(); r != nil && rv.logger != nil {
			rv.logger.Warn("credential revalidation panicked", "panic", r)
		}
	}()

	if rv.store.HasValid(rv.maxAge) {
		return
	}
	if _, err := os.Stat(rv.store.Path()); err != nil {
		// Nothing on disk to clean up.
		return
	}
	if err := rv.store.Delete(); err != nil {
		if rv.logger != nil {
			rv.logger.Warn("failed to remove stale credential", "error", err)
		}
		return
	}
	if rv.logger != nil {
		rv.logger.Info("removed stale credential", "path", rv.store.Path())
	}
}
