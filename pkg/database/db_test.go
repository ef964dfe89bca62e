package database

import (
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'UTC'", quoteLiteral("UTC"))
	assert.Equal(t, "'it''s'", quoteLiteral("it's"))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_MAX_CONNS", "12")
	cfg := ConfigFromEnv()
	assert.Contains(t, cfg.DSN, "localhost:5432")
	assert.Equal(t, 12, cfg.MaxConns)
	assert.Equal(t, time.Minute, cfg.ListenMaxReconnect)

	t.Setenv("DATABASE_MAX_CONNS", "-1")
	assert.Equal(t, 5, ConfigFromEnv().MaxConns)
}

func TestListenerEventLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cb := listenerEventLogger(zap.New(core).Sugar())
	cb(pq.ListenerEventConnected, nil)
	cb(pq.ListenerEventDisconnected, errors.New("eof"))
	cb(pq.ListenerEventReconnected, nil)
	assert.Equal(t, 3, logs.Len())
	assert.Equal(t, 1, logs.FilterMessage("db listener disconnected").Len())

	// nil logger is tolerated
	listenerEventLogger(nil)(pq.ListenerEventConnected, nil)
}
