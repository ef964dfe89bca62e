package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

// PresenceBucket is the default KV bucket holding one presence entry per
// provider id.
const PresenceBucket = "PROVIDER_PRESENCE"

// NATSPresence watches a JetStream KV bucket where each key is a provider id
// and each value a JSON presence document.
type NATSPresence struct {
	kv     jetstream.KeyValue
	logger *zap.SugaredLogger
}

// NewNATSPresence opens (creating if needed) the presence bucket.
func NewNATSPresence(ctx context.Context, js jetstream.JetStream, bucket string, logger *zap.SugaredLogger) (*NATSPresence, error) {
	if bucket == "" {
		bucket = PresenceBucket
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Live provider presence",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}
	return &NATSPresence{kv: kv, logger: logger}, nil
}

// Subscribe watches the keys of ids in the bucket. Initial values are not
// replayed; the window already carries the state it was fetched with.
func (p *NATSPresence) Subscribe(ctx context.Context, ids []string) (<-chan entity.PresenceChange, func(), error) {
	want := make(map[string]struct{}, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := want[id]; dup || id == "" {
			continue
		}
		want[id] = struct{}{}
		keys = append(keys, id)
	}
	if len(keys) == 0 {
		return nil, nil, errors.New("presence subscription needs at least one id")
	}
	wctx, cancel := context.WithCancel(ctx)
	watcher, err := p.kv.WatchFiltered(wctx, keys, jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("watch presence: %w", err)
	}
	out := make(chan entity.PresenceChange, subscriptionBuffer)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Stop() }()
		updates := watcher.Updates()
		for {
			select {
			case <-wctx.Done():
				return
			case entry, ok := <-updates:
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				if _, ok := want[entry.Key()]; !ok {
					continue
				}
				c, err := changeFromEntry(entry.Operation(), entry.Key(), entry.Value())
				if err != nil {
					p.logger.Debugw("skipping presence entry", "key", entry.Key(), "err", err)
					continue
				}
				select {
				case out <- c:
				case <-wctx.Done():
					return
				}
			}
		}
	}()
	var once sync.Once
	return out, func() { once.Do(cancel) }, nil
}

// Set publishes a provider's presence.
func (p *NATSPresence) Set(ctx context.Context, c entity.PresenceChange) error {
	if c.ID == "" {
		return errors.New("presence id required")
	}
	c = c.Normalize()
	if c.Removed {
		if err := p.kv.Delete(ctx, c.ID); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("delete presence %s: %w", c.ID, err)
		}
		return nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if _, err := p.kv.Put(ctx, c.ID, raw); err != nil {
		return fmt.Errorf("put presence %s: %w", c.ID, err)
	}
	return nil
}

func changeFromEntry(op jetstream.KeyValueOp, key string, value []byte) (entity.PresenceChange, error) {
	if op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
		return entity.PresenceChange{ID: key, Removed: true}.Normalize(), nil
	}
	var c entity.PresenceChange
	if err := json.Unmarshal(value, &c); err != nil {
		return c, fmt.Errorf("decode presence value: %w", err)
	}
	c.ID = key
	return c.Normalize(), nil
}
