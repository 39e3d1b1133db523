package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"simjur/internal/simjur"
)

// NeedsRefresh reports whether token should be refreshed now. The token is
// decoded without verification; anything unreadable counts as expiring.
func NeedsRefresh(token string, now time.Time, horizon time.Duration) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !claims.ExpiresAt.Time.After(now.Add(horizon))
}

// Refresher exchanges a token for a fresh one.
type Refresher interface {
	Refresh(ctx context.Context, token string) (string, error)
}

// Outcome is the result of one lifecycle tick.
type Outcome int

const (
	Idle      Outcome = iota // no token, not due, or a refresh already running
	Refreshed                // token replaced
	Failed                   // refresh failed, will retry next tick
	Expired                  // retry ceiling hit, session cleared
)

func (o Outcome) String() string {
	switch o {
	case Refreshed:
		return "refreshed"
	case Failed:
		return "failed"
	case Expired:
		return "expired"
	default:
		return "idle"
	}
}

// Lifecycle keeps a stored session token fresh in the background.
type Lifecycle struct {
	store      Store
	refresher  Refresher
	logger     simjur.Logger
	clock      simjur.Clock
	interval   time.Duration
	horizon    time.Duration
	maxRetries int
	onExpired  func()

	inFlight atomic.Bool
	failures atomic.Int32
	// token given up on; stays set when clearing the store fails
	expired atomic.Pointer[string]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Lifecycle.
type Option func(*Lifecycle)

func WithInterval(d time.Duration) Option { return func(l *Lifecycle) { l.interval = d } }
func WithHorizon(d time.Duration) Option  { return func(l *Lifecycle) { l.horizon = d } }
func WithMaxRetries(n int) Option         { return func(l *Lifecycle) { l.maxRetries = n } }

// WithOnExpired sets the callback run after the session is cleared,
// typically a forced logout.
func WithOnExpired(fn func()) Option { return func(l *Lifecycle) { l.onExpired = fn } }

// NewLifecycle creates a Lifecycle with a 60s interval, a 5 minute horizon
// and 3 retries unless overridden.
func NewLifecycle(store Store, refresher Refresher, logger simjur.Logger, clock simjur.Clock, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store:      store,
		refresher:  refresher,
		logger:     logger,
		clock:      clock,
		interval:   60 * time.Second,
		horizon:    5 * time.Minute,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs Tick immediately and then on every interval until Stop or ctx
// is done. Starting a running lifecycle does nothing.
func (l *Lifecycle) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the ticker, waits for it to exit and resets the failure count.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	l.failures.Store(0)
}

// Failures returns the number of consecutive failed refreshes.
func (l *Lifecycle) Failures() int {
	return int(l.failures.Load())
}

// Token returns the stored session token, if any.
func (l *Lifecycle) Token() (string, error) {
	token, err := l.store.Get(KeyAuthToken)
	if err != nil || token != "" {
		return token, err
	}
	return l.store.Get(KeyToken)
}

// Tick performs one refresh check.
func (l *Lifecycle) Tick(ctx context.Context) Outcome {
	token, err := l.Token()
	if err != nil {
		l.logger.Error("reading session token", "error", err)
		return Idle
	}
	if token == "" {
		return Idle
	}
	if last := l.expired.Load(); last != nil && *last == token {
		return Idle
	}
	if !NeedsRefresh(token, l.clock.Now(), l.horizon) {
		return Idle
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		return Idle
	}
	defer l.inFlight.Store(false)

	fresh, err := l.refresher.Refresh(ctx, token)
	if err == nil {
		err = l.store.Set(map[string]string{KeyAuthToken: fresh, KeyToken: fresh})
	}
	if err == nil {
		l.failures.Store(0)
		l.logger.Debug("session token refreshed")
		return Refreshed
	}

	n := int(l.failures.Add(1))
	l.logger.Warn("session refresh failed", "attempt", n, "max", l.maxRetries, "error", err)
	if n < l.maxRetries {
		return Failed
	}

	l.expired.Store(&token)
	if err := l.store.Delete(AllKeys...); err != nil {
		l.logger.Error("clearing session", "error", err)
	}
	l.failures.Store(0)
	l.logger.Warn("session expired, please log in again")
	if l.onExpired != nil {
		l.onExpired()
	}
	return Expired
}
