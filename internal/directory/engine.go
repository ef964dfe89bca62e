package directory

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
	"github.com/ovaphlow/pitchfork/service-directory-go/pkg/utilities"
)

// PresenceSource opens one consolidated presence subscription for a set of
// provider ids. The returned cancel func releases it; the channel may be
// closed by the source when the subscription dies.
type PresenceSource interface {
	Subscribe(ctx context.Context, ids []string) (<-chan entity.PresenceChange, func(), error)
}

// EventKind names what changed in a session.
type EventKind string

const (
	EventWindow   EventKind = "window"
	EventRotated  EventKind = "rotated"
	EventPresence EventKind = "presence"
	EventError    EventKind = "error"
)

// Event is emitted on every window replacement, rotation, presence
// transition and failed refresh.
type Event struct {
	Kind         EventKind           `json:"kind"`
	ID           string              `json:"id,omitempty"`
	IsOnline     bool                `json:"is_online"`
	Availability entity.Availability `json:"availability,omitempty"`
	Error        string              `json:"error,omitempty"`
	At           time.Time           `json:"at"`
}

// EngineDeps are the collaborators of an Engine. Nil Clock, Rand, Metrics
// and Logger get defaults; a nil Presence disables presence sync.
type EngineDeps struct {
	Fetcher  PoolFetcher
	Presence PresenceSource
	Clock    Clock
	Rand     *rand.Rand
	Metrics  *Metrics
	Logger   *zap.SugaredLogger
}

// Engine owns one session's pool, visible window and recency set.
// All state is mutated on a single goroutine; fetch results, rotation ticks
// and presence changes are funneled into it.
//
// Lifecycle: NewEngine -> Start -> (Refresh | Snapshot)* -> Stop.
type Engine struct {
	cfg      Config
	locale   string
	fetcher  PoolFetcher
	presence PresenceSource
	clock    Clock
	rng      *rand.Rand
	metrics  *Metrics
	logger   *zap.SugaredLogger

	cmds   chan func()
	events chan Event
	done   chan struct{}

	lifeMu  sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// loop-owned state
	pool           []entity.Provider
	window         []entity.Provider
	recent         *Recency
	loading        bool
	lastErr        error
	rotation       int
	updatedAt      time.Time
	ticker         Ticker
	tickC          <-chan time.Time
	presenceC      <-chan entity.PresenceChange
	presenceCancel func()
	presenceSubID  string
	fetching       bool
	waiters        []chan error
}

// NewEngine builds an idle engine for locale.
func NewEngine(cfg Config, locale string, deps EngineDeps) *Engine {
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if locale == "" {
		locale = cfg.DefaultLocale
	}
	buf := cfg.EventBuffer
	if buf < 0 {
		buf = 0
	}
	return &Engine{
		cfg:      cfg,
		locale:   locale,
		fetcher:  deps.Fetcher,
		presence: deps.Presence,
		clock:    deps.Clock,
		rng:      deps.Rand,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With("locale", locale),
		cmds:     make(chan func()),
		events:   make(chan Event, buf),
		done:     make(chan struct{}),
		recent:   NewRecency(cfg.RecencyHighWater, cfg.RecencyTrim),
		loading:  true,
	}
}

// Start launches the owner goroutine and the initial fetch. The engine
// lives until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.started = true
	e.wg.Add(1)
	go e.run()
	return nil
}

// Stop stops rotation, cancels the presence subscription and any pending
// fetch, and waits until no background work is left. Safe to call twice.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	if !e.started || e.stopped {
		e.lifeMu.Unlock()
		return
	}
	e.stopped = true
	e.lifeMu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// Events streams session events. The channel is closed after Stop.
// Events are dropped when the buffer is full.
func (e *Engine) Events() <-chan Event { return e.events }

// Refresh fetches a new pool and waits for it to be applied. On failure the
// previous pool and window are kept and the fetch error is returned.
func (e *Engine) Refresh(ctx context.Context) error {
	wait := make(chan error, 1)
	if err := e.send(ctx, func() {
		e.waiters = append(e.waiters, wait)
		e.startFetch()
	}); err != nil {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Snapshot returns a deep copy of the session state.
func (e *Engine) Snapshot(ctx context.Context) (entity.Snapshot, error) {
	ready := make(chan entity.Snapshot, 1)
	if err := e.send(ctx, func() { ready <- e.snapshot() }); err != nil {
		return entity.Snapshot{}, err
	}
	select {
	case snap := <-ready:
		return snap, nil
	case <-ctx.Done():
		return entity.Snapshot{}, ctx.Err()
	case <-e.done:
		select {
		case snap := <-ready:
			return snap, nil
		default:
			return entity.Snapshot{}, ErrStopped
		}
	}
}

func (e *Engine) send(ctx context.Context, fn func()) error {
	e.lifeMu.Lock()
	running := e.started && !e.stopped
	e.lifeMu.Unlock()
	if !running {
		return ErrStopped
	}
	select {
	case e.cmds <- fn:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run() {
	defer e.wg.Done()
	defer close(e.done)
	defer e.teardown()

	e.startFetch()
	for {
		select {
		case <-e.ctx.Done():
			return
		case fn := <-e.cmds:
			fn()
		case <-e.tickC:
			e.rotate()
		case c, ok := <-e.presenceC:
			if !ok {
				e.logger.Warnw("presence subscription closed", "subscription", e.presenceSubID)
				e.unsubscribe()
				continue
			}
			e.applyPresence(c)
		}
	}
}

func (e *Engine) teardown() {
	e.disarm()
	e.unsubscribe()
	for _, w := range e.waiters {
		w <- ErrStopped
	}
	e.waiters = nil
	close(e.events)
	e.logger.Debugw("directory engine stopped")
}

func (e *Engine) startFetch() {
	if e.fetching {
		return
	}
	e.fetching = true
	e.loading = true
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		pool, err := e.fetcher.Fetch(e.ctx, e.locale)
		select {
		case e.cmds <- func() { e.applyFetch(pool, err) }:
		case <-e.ctx.Done():
		}
	}()
}

func (e *Engine) applyFetch(pool []entity.Provider, err error) {
	e.fetching = false
	e.loading = false
	waiters := e.waiters
	e.waiters = nil
	defer func() {
		for _, w := range waiters {
			w <- err
		}
	}()

	if err != nil {
		e.lastErr = err
		e.logger.Warnw("refresh failed, keeping previous window", "err", err, "window", len(e.window))
		e.emit(Event{Kind: EventError, Error: err.Error()})
		return
	}
	e.lastErr = nil
	e.pool = pool
	e.installWindow(Select(pool, e.recent, e.cfg.MaxVisible, e.rng), EventWindow)
	e.rearm()
	e.logger.Infow("provider pool refreshed", "pool", len(pool), "window", len(e.window))
}

func (e *Engine) installWindow(window []entity.Provider, kind EventKind) {
	e.window = window
	e.updatedAt = e.clock.Now()
	e.resubscribe()
	e.emit(Event{Kind: kind})
}

// rearm arms rotation only when the pool holds more than one window's worth.
func (e *Engine) rearm() {
	armed := len(e.pool) > e.cfg.MaxVisible && len(e.window) > 0
	switch {
	case armed && e.ticker == nil:
		e.ticker = e.clock.NewTicker(e.cfg.RotateInterval)
		e.tickC = e.ticker.C()
		e.logger.Debugw("rotation armed", "interval", e.cfg.RotateInterval)
	case !armed && e.ticker != nil:
		e.disarm()
	}
}

func (e *Engine) disarm() {
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	e.ticker = nil
	e.tickC = nil
	e.logger.Debugw("rotation disarmed")
}

func (e *Engine) rotate() {
	if len(e.pool) <= e.cfg.MaxVisible {
		e.disarm()
		return
	}
	e.rotation++
	e.metrics.Rotations.Inc()
	e.installWindow(Rotate(e.pool, e.window, e.recent, e.cfg.MaxVisible, e.cfg.RotateCount, e.rng), EventRotated)
}

// resubscribe cancels the current presence subscription and opens one for
// the first PresenceFanIn members of the window.
func (e *Engine) resubscribe() {
	e.unsubscribe()
	if e.presence == nil || len(e.window) == 0 {
		return
	}
	n := min(len(e.window), e.cfg.PresenceFanIn)
	ids := make([]string, n)
	for i := range n {
		ids[i] = e.window[i].ID
	}
	ch, cancel, err := e.presence.Subscribe(e.ctx, ids)
	if err != nil {
		e.logger.Warnw("presence subscribe failed", "ids", n, "err", err)
		return
	}
	e.presenceC = ch
	e.presenceCancel = cancel
	e.presenceSubID = utilities.NewSnowflakeID()
	e.metrics.PresenceSubscriptions.Inc()
	e.logger.Debugw("presence subscribed", "subscription", e.presenceSubID, "ids", n)
}

func (e *Engine) unsubscribe() {
	if e.presenceCancel == nil {
		return
	}
	e.presenceCancel()
	e.presenceCancel = nil
	e.presenceC = nil
	e.metrics.PresenceSubscriptions.Dec()
	e.logger.Debugw("presence unsubscribed", "subscription", e.presenceSubID)
	e.presenceSubID = ""
}

// applyPresence patches pool and window in place when the change alters
// IsOnline or Availability of a window member.
func (e *Engine) applyPresence(c entity.PresenceChange) {
	c = c.Normalize()
	idx := -1
	for i := range e.window {
		if e.window[i].ID == c.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	cur := e.window[idx]
	if cur.IsOnline == c.IsOnline && cur.Availability == c.Availability {
		return
	}
	patch := func(p *entity.Provider) {
		p.IsOnline = c.IsOnline
		p.Availability = c.Availability
		p.BusyReason = c.BusyReason
	}
	patch(&e.window[idx])
	for i := range e.pool {
		if e.pool[i].ID == c.ID {
			patch(&e.pool[i])
		}
	}
	e.updatedAt = e.clock.Now()
	e.metrics.PresenceTransitions.Inc()
	e.emit(Event{Kind: EventPresence, ID: c.ID, IsOnline: c.IsOnline, Availability: c.Availability})
}

func (e *Engine) emit(ev Event) {
	ev.At = e.clock.Now()
	select {
	case e.events <- ev:
	default:
		e.logger.Debugw("event dropped", "kind", ev.Kind)
	}
}

func (e *Engine) snapshot() entity.Snapshot {
	window := make([]entity.Provider, len(e.window))
	for i, p := range e.window {
		window[i] = p.Clone()
	}
	snap := entity.Snapshot{
		Window:    window,
		Loading:   e.loading,
		Stats:     entity.ComputeStats(e.pool),
		Rotation:  e.rotation,
		Armed:     e.ticker != nil,
		UpdatedAt: e.updatedAt,
	}
	if e.lastErr != nil {
		snap.Error = e.lastErr.Error()
	}
	return snap
}
