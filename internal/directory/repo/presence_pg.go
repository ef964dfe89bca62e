package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

const subscriptionBuffer = 64

var ErrPresenceClosed = errors.New("presence source closed")

// Notifier is the notification side of a *pq.Listener.
type Notifier interface {
	NotificationChannel() <-chan *pq.Notification
}

// PGPresence fans the provider_presence NOTIFY stream of one shared
// listener out to per-session subscriptions keyed by provider id.
type PGPresence struct {
	src    Notifier
	logger *zap.SugaredLogger

	mu     sync.Mutex
	subs   map[uint64]*pgSub
	seq    uint64
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type pgSub struct {
	ids  map[string]struct{}
	ch   chan entity.PresenceChange
	gone chan struct{}
}

// NewPGPresence starts dispatching notifications from src. The caller is
// expected to have issued LISTEN on PresenceChannel.
func NewPGPresence(src Notifier, logger *zap.SugaredLogger) *PGPresence {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &PGPresence{src: src, logger: logger, subs: make(map[uint64]*pgSub), stop: make(chan struct{})}
	p.wg.Add(1)
	go p.dispatch()
	return p
}

// Subscribe registers interest in ids. The subscription ends when cancel is
// called, ctx is done or the source is closed; its channel is then closed.
func (p *PGPresence) Subscribe(ctx context.Context, ids []string) (<-chan entity.PresenceChange, func(), error) {
	sub := &pgSub{
		ids:  make(map[string]struct{}, len(ids)),
		ch:   make(chan entity.PresenceChange, subscriptionBuffer),
		gone: make(chan struct{}),
	}
	for _, id := range ids {
		sub.ids[id] = struct{}{}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, ErrPresenceClosed
	}
	p.seq++
	key := p.seq
	p.subs[key] = sub
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			p.drop(key)
			p.mu.Unlock()
		})
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-sub.gone:
			}
		}()
	}
	return sub.ch, cancel, nil
}

// Close stops the dispatcher and ends every subscription. It does not
// close the underlying listener.
func (p *PGPresence) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.closeAll()
}

// Len reports the number of live subscriptions.
func (p *PGPresence) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *PGPresence) dispatch() {
	defer p.wg.Done()
	notes := p.src.NotificationChannel()
	for {
		select {
		case <-p.stop:
			return
		case n, ok := <-notes:
			if !ok {
				p.logger.Warnw("presence listener channel closed")
				p.closeAll()
				return
			}
			if n == nil {
				// pq sends nil after re-establishing the connection.
				p.logger.Infow("presence listener reconnected, changes during the gap are not replayed")
				continue
			}
			c, err := parsePresencePayload(n.Extra)
			if err != nil {
				p.logger.Debugw("skipping presence notification", "payload", n.Extra, "err", err)
				continue
			}
			p.fanOut(c)
		}
	}
}

func (p *PGPresence) fanOut(c entity.PresenceChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, sub := range p.subs {
		if _, ok := sub.ids[c.ID]; !ok {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			p.logger.Warnw("presence subscriber lagging, change dropped", "subscription", key, "id", c.ID)
		}
	}
}

func (p *PGPresence) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for key := range p.subs {
		p.drop(key)
	}
}

// drop must be called with p.mu held.
func (p *PGPresence) drop(key uint64) {
	sub, ok := p.subs[key]
	if !ok {
		return
	}
	delete(p.subs, key)
	close(sub.ch)
	close(sub.gone)
}

func parsePresencePayload(payload string) (entity.PresenceChange, error) {
	var c entity.PresenceChange
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return c, fmt.Errorf("decode presence payload: %w", err)
	}
	if c.ID == "" {
		return c, errors.New("presence payload without id")
	}
	return c.Normalize(), nil
}
