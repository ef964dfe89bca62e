package directory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

func provider(id string, online, photo bool) entity.Provider {
	p := entity.Provider{
		ID:           id,
		Name:         "Provider " + id,
		Kind:         entity.KindLawyer,
		Country:      "France",
		Avatar:       entity.DefaultAvatar,
		IsOnline:     online,
		Availability: entity.AvailabilityOffline,
		IsApproved:   true,
		IsVisible:    true,
		IsActive:     true,
	}
	if online {
		p.Availability = entity.AvailabilityAvailable
	}
	if photo {
		p.Avatar = "https://cdn.example.com/" + id + ".jpg"
	}
	return p
}

func makePool(n int) []entity.Provider {
	pool := make([]entity.Provider, n)
	for i := range n {
		pool[i] = provider(fmt.Sprintf("p%03d", i), i%3 == 0, i%2 == 0)
	}
	return pool
}

func ids(ps []entity.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

type manualTicker struct {
	ch chan time.Time

	mu      sync.Mutex
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *manualTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// manualClock hands out tickers that only fire on Tick.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick advances time and fires every live ticker. It reports how many fired.
func (c *manualClock) Tick(d time.Duration) int {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	live := make([]*manualTicker, 0, len(c.tickers))
	for _, t := range c.tickers {
		if !t.isStopped() {
			live = append(live, t)
		}
	}
	c.mu.Unlock()
	for _, t := range live {
		select {
		case t.ch <- now:
		default:
		}
	}
	return len(live)
}

func (c *manualClock) live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.isStopped() {
			n++
		}
	}
	return n
}

type fakeResult struct {
	pool []entity.Provider
	err  error
}

// fakeFetcher replays queued results; the last one repeats.
type fakeFetcher struct {
	mu      sync.Mutex
	results []fakeResult
	calls   int
	block   chan struct{}
}

func (f *fakeFetcher) push(pool []entity.Provider, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, fakeResult{pool: pool, err: err})
}

func (f *fakeFetcher) Fetch(ctx context.Context, locale string) ([]entity.Provider, error) {
	f.mu.Lock()
	f.calls++
	var res fakeResult
	if len(f.results) > 0 {
		res = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	pool := make([]entity.Provider, len(res.pool))
	copy(pool, res.pool)
	return pool, res.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSub struct {
	ids       []string
	ch        chan entity.PresenceChange
	cancelled bool
}

// fakePresence records subscriptions and lets tests push changes into the
// most recent one.
type fakePresence struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (p *fakePresence) Subscribe(ctx context.Context, ids []string) (<-chan entity.PresenceChange, func(), error) {
	sub := &fakeSub{ids: append([]string(nil), ids...), ch: make(chan entity.PresenceChange, 16)}
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
	return sub.ch, func() {
		p.mu.Lock()
		sub.cancelled = true
		p.mu.Unlock()
	}, nil
}

func (p *fakePresence) active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subs {
		if !s.cancelled {
			n++
		}
	}
	return n
}

func (p *fakePresence) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *fakePresence) last() *fakeSub {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) == 0 {
		return nil
	}
	return p.subs[len(p.subs)-1]
}

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func noEvent(t *testing.T, events <-chan Event, wait time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("unexpected %s event", ev.Kind)
		}
	case <-time.After(wait):
	}
}
