package server

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/config"
	"github.com/dmitrijs2005/credkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/credkeeper/internal/server/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer lets the app log from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDSN = config.MemoryDSN
	c.HTTPAddr = "127.0.0.1:0"
	c.GRPCAddr = "127.0.0.1:0"
	c.PasswordHashCost = 10
	return c
}

func TestApp_RunAndShutdown(t *testing.T) {
	logs := &syncBuffer{}
	app, err := NewApp(context.Background(), testConfig(), logs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(logs.String()), []byte("Starting HTTP server"))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
	assert.Contains(t, logs.String(), "App stopped")
}

func TestApp_StopsWhenListenerFails(t *testing.T) {
	c := testConfig()
	c.GRPCAddr = "127.0.0.1:99999"

	app, err := NewApp(context.Background(), c, &syncBuffer{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app kept running after the gRPC listener failed")
	}
}

func TestNewApp_BadHashCost(t *testing.T) {
	c := testConfig()
	c.PasswordHashCost = 99

	_, err := NewApp(context.Background(), c, &syncBuffer{})
	assert.Error(t, err)
}

func TestNewLimiter(t *testing.T) {
	c := testConfig()

	l, rdb := newLimiter(c)
	assert.Nil(t, rdb)
	assert.IsType(t, &ratelimit.MemoryLimiter{}, l)

	mr := miniredis.RunT(t)
	c.RedisAddr = mr.Addr()
	l, rdb = newLimiter(c)
	require.NotNil(t, rdb)
	defer rdb.Close()
	assert.IsType(t, &ratelimit.RedisLimiter{}, l)

	ok, _, err := l.Allow(context.Background(), "k", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewSender(t *testing.T) {
	c := testConfig()
	assert.IsType(t, &mailer.LogSender{}, newSender(c, logging.Nop{}))

	c.SMTPAddr = "smtp.example.com:587"
	assert.IsType(t, &mailer.SMTPSender{}, newSender(c, logging.Nop{}))
}
