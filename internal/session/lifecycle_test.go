package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"simjur/internal/simjur"
	"simjur/internal/testutil"
)

func makeToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-admin",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	horizon := 5 * time.Minute

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("k"))

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"expired", makeToken(t, now.Add(-time.Minute)), true},
		{"inside horizon", makeToken(t, now.Add(4*time.Minute)), true},
		{"outside horizon", makeToken(t, now.Add(20*time.Minute)), false},
		{"unparseable", "abc.def", true},
		{"empty", "", true},
		{"no exp", noExp, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsRefresh(tt.token, now, horizon); got != tt.want {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeRefresher struct {
	mu     sync.Mutex
	calls  int
	err    error
	token  string
	block  chan struct{}
	inside chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	f.calls++
	block, inside := f.block, f.inside
	f.mu.Unlock()

	if inside != nil {
		inside <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return f.token, f.err
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestLifecycle_Tick(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()

	t.Run("idle without token", func(t *testing.T) {
		r := &fakeRefresher{}
		l := NewLifecycle(NewMemoryStore(), r, simjur.NewNopLogger(), clock)
		if got := l.Tick(ctx); got != Idle || r.Calls() != 0 {
			t.Errorf("Tick() = %s with %d calls, want idle and none", got, r.Calls())
		}
	})

	t.Run("idle while token is fresh", func(t *testing.T) {
		store := NewMemoryStore()
		store.Set(map[string]string{KeyAuthToken: makeToken(t, clock.Now().Add(time.Hour))})
		r := &fakeRefresher{}
		l := NewLifecycle(store, r, simjur.NewNopLogger(), clock)
		if got := l.Tick(ctx); got != Idle || r.Calls() != 0 {
			t.Errorf("Tick() = %s with %d calls", got, r.Calls())
		}
	})

	t.Run("refreshes and persists", func(t *testing.T) {
		store := NewMemoryStore()
		store.Set(map[string]string{KeyToken: makeToken(t, clock.Now().Add(time.Minute))})
		fresh := makeToken(t, clock.Now().Add(time.Hour))
		l := NewLifecycle(store, &fakeRefresher{token: fresh}, simjur.NewNopLogger(), clock)

		if got := l.Tick(ctx); got != Refreshed {
			t.Fatalf("Tick() = %s, want refreshed", got)
		}
		for _, k := range []string{KeyAuthToken, KeyToken} {
			if v, _ := store.Get(k); v != fresh {
				t.Errorf("%s not updated", k)
			}
		}
	})
}

func TestLifecycle_ClearsAfterRetryCeiling(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()

	store := NewMemoryStore()
	store.Set(map[string]string{
		KeyAuthToken: makeToken(t, clock.Now().Add(-time.Minute)),
		KeyToken:     makeToken(t, clock.Now().Add(-time.Minute)),
		KeyUserData:  `{"username":"kajur"}`,
	})
	r := &fakeRefresher{err: errors.New("connection refused")}
	var expired atomic.Int32
	l := NewLifecycle(store, r, simjur.NewNopLogger(), clock, WithOnExpired(func() { expired.Add(1) }))

	want := []Outcome{Failed, Failed, Expired}
	for i, w := range want {
		if got := l.Tick(ctx); got != w {
			t.Fatalf("Tick() #%d = %s, want %s", i+1, got, w)
		}
	}
	if expired.Load() != 1 {
		t.Errorf("OnExpired called %d times, want 1", expired.Load())
	}
	for _, k := range AllKeys {
		if v, _ := store.Get(k); v != "" {
			t.Errorf("%s not cleared", k)
		}
	}

	// nothing more happens until a new login stores a token
	for i := 0; i < 5; i++ {
		l.Tick(ctx)
	}
	if r.Calls() != 3 {
		t.Errorf("refresher called %d times, want 3", r.Calls())
	}
}

type stuckStore struct {
	*MemoryStore
}

func (stuckStore) Delete(keys ...string) error {
	return errors.New("read-only file system")
}

func TestLifecycle_ExpiresOnceWhenClearFails(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()

	store := stuckStore{NewMemoryStore()}
	stale := makeToken(t, clock.Now().Add(-time.Minute))
	store.Set(map[string]string{KeyAuthToken: stale})
	r := &fakeRefresher{err: errors.New("connection refused")}
	var expired atomic.Int32
	l := NewLifecycle(store, r, simjur.NewNopLogger(), clock, WithOnExpired(func() { expired.Add(1) }))

	for i := 0; i < 9; i++ {
		l.Tick(ctx)
	}
	if r.Calls() != 3 {
		t.Errorf("refresher called %d times, want 3", r.Calls())
	}
	if expired.Load() != 1 {
		t.Errorf("OnExpired called %d times, want 1", expired.Load())
	}

	// a new login replaces the token and refreshing resumes
	r.mu.Lock()
	r.err, r.token = nil, makeToken(t, clock.Now().Add(time.Hour))
	r.mu.Unlock()
	store.Set(map[string]string{KeyAuthToken: makeToken(t, clock.Now().Add(time.Minute))})
	if got := l.Tick(ctx); got != Refreshed {
		t.Errorf("Tick() after new login = %s, want refreshed", got)
	}
}

func TestLifecycle_SuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()

	store := NewMemoryStore()
	store.Set(map[string]string{KeyAuthToken: makeToken(t, clock.Now())})
	r := &fakeRefresher{err: errors.New("timeout")}
	l := NewLifecycle(store, r, simjur.NewNopLogger(), clock)

	l.Tick(ctx)
	l.Tick(ctx)
	if l.Failures() != 2 {
		t.Fatalf("Failures() = %d, want 2", l.Failures())
	}

	r.mu.Lock()
	r.err, r.token = nil, makeToken(t, clock.Now())
	r.mu.Unlock()
	if got := l.Tick(ctx); got != Refreshed {
		t.Fatalf("Tick() = %s, want refreshed", got)
	}
	if l.Failures() != 0 {
		t.Errorf("Failures() = %d after success, want 0", l.Failures())
	}
}

func TestLifecycle_NoOverlappingRefresh(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()

	store := NewMemoryStore()
	store.Set(map[string]string{KeyAuthToken: makeToken(t, clock.Now())})
	r := &fakeRefresher{
		token:  makeToken(t, clock.Now().Add(time.Hour)),
		block:  make(chan struct{}),
		inside: make(chan struct{}),
	}
	l := NewLifecycle(store, r, simjur.NewNopLogger(), clock)

	result := make(chan Outcome)
	go func() { result <- l.Tick(ctx) }()
	<-r.inside

	if got := l.Tick(ctx); got != Idle {
		t.Errorf("concurrent Tick() = %s, want idle", got)
	}
	close(r.block)
	if got := <-result; got != Refreshed {
		t.Errorf("first Tick() = %s, want refreshed", got)
	}
	if r.Calls() != 1 {
		t.Errorf("refresher called %d times, want 1", r.Calls())
	}
}

func TestLifecycle_StartStop(t *testing.T) {
	clock := testutil.FixedClock()
	store := NewMemoryStore()
	store.Set(map[string]string{KeyAuthToken: makeToken(t, clock.Now())})
	r := &fakeRefresher{err: errors.New("down")}
	l := NewLifecycle(store, r, simjur.NewNopLogger(), clock, WithInterval(time.Hour), WithMaxRetries(10))

	l.Start(context.Background())
	l.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for r.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	l.Stop()

	if r.Calls() != 1 {
		t.Errorf("refresher called %d times, want 1 initial tick", r.Calls())
	}
	if l.Failures() != 0 {
		t.Errorf("Failures() = %d after Stop, want 0", l.Failures())
	}
	l.Stop()
}
