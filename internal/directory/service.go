package directory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-directory-go/pkg/utilities"
)

type session struct {
	engine    *Engine
	lastSeen  time.Time
	streaming bool
}

// Service keeps one Engine per viewer session and reaps idle ones.
type Service struct {
	cfg      Config
	fetcher  PoolFetcher
	presence PresenceSource
	clock    Clock
	metrics  *Metrics
	logger   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService builds a session registry. Engines it opens share fetcher and
// presence and live until closed, reaped or the service shuts down.
func NewService(cfg Config, fetcher PoolFetcher, presence PresenceSource, metrics *Metrics, logger *zap.SugaredLogger) *Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		fetcher:  fetcher,
		presence: presence,
		clock:    systemClock{},
		metrics:  metrics,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Open starts a new session engine for locale and returns its id.
func (s *Service) Open(locale string) (string, *Engine, error) {
	id := utilities.NewKSUID()
	eng := NewEngine(s.cfg, locale, EngineDeps{
		Fetcher:  s.fetcher,
		Presence: s.presence,
		Metrics:  s.metrics,
		Logger:   s.logger.With("session", id),
	})
	if err := eng.Start(s.ctx); err != nil {
		return "", nil, err
	}
	s.mu.Lock()
	s.sessions[id] = &session{engine: eng, lastSeen: s.clock.Now()}
	n := len(s.sessions)
	s.mu.Unlock()
	s.metrics.Sessions.Set(float64(n))
	s.logger.Infow("directory session opened", "session", id, "locale", eng.locale, "sessions", n)
	return id, eng, nil
}

// Get returns the engine of an open session and marks it as used.
func (s *Service) Get(id string) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastSeen = s.clock.Now()
	return sess.engine, nil
}

// AttachStream claims the event channel of a session for one consumer.
// The returned release func must be called when the consumer goes away.
func (s *Service) AttachStream(id string) (*Engine, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	if sess.streaming {
		return nil, nil, ErrStreamBusy
	}
	sess.streaming = true
	sess.lastSeen = s.clock.Now()
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			sess.streaming = false
			sess.lastSeen = s.clock.Now()
			s.mu.Unlock()
		})
	}
	return sess.engine, release, nil
}

// Close tears a session down.
func (s *Service) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sess.engine.Stop()
	s.metrics.Sessions.Set(float64(n))
	s.logger.Infow("directory session closed", "session", id, "sessions", n)
	return nil
}

// Len returns the number of open sessions.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run reaps idle sessions until ctx is done, then shuts every session down.
func (s *Service) Run(ctx context.Context) {
	interval := s.cfg.SessionTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	t := s.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-t.C():
			s.reap(s.clock.Now())
		}
	}
}

func (s *Service) reap(now time.Time) int {
	if s.cfg.SessionTTL <= 0 {
		return 0
	}
	var idle []string
	s.mu.Lock()
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.cfg.SessionTTL {
			idle = append(idle, id)
		}
	}
	s.mu.Unlock()
	for _, id := range idle {
		if err := s.Close(id); err == nil {
			s.logger.Debugw("reaped idle directory session", "session", id)
		}
	}
	return len(idle)
}

// Shutdown stops every session engine and waits for them.
func (s *Service) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	s.cancel()
	for _, sess := range sessions {
		sess.engine.Stop()
	}
	s.metrics.Sessions.Set(0)
	s.logger.Infow("directory sessions shut down", "count", len(sessions))
}
