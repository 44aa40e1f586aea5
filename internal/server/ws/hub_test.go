package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanBus feeds the hub from a plain channel.
type chanBus struct {
	events chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.events <- payload
	return nil
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.events, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestHubGreetsAndFansOut(t *testing.T) {
	bus := &chanBus{events: make(chan []byte, 1)}
	hub := NewHub(bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)

	hello := readJSON(t, conn)
	assert.Equal(t, "hello", hello["type"])

	bus.events <- []byte(`{"type":"trade_applied","data":{"chain":"monad"}}`)
	msg := readJSON(t, conn)
	assert.Equal(t, "trade_applied", msg["type"])
}

func TestHubDeliversToEveryClient(t *testing.T) {
	bus := &chanBus{events: make(chan []byte, 1)}
	hub := NewHub(bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	first := dialHub(t, hub)
	second := dialHub(t, hub)
	readJSON(t, first)
	readJSON(t, second)

	bus.events <- []byte(`{"type":"moderation_applied"}`)
	assert.Equal(t, "moderation_applied", readJSON(t, first)["type"])
	assert.Equal(t, "moderation_applied", readJSON(t, second)["type"])
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	bus := &chanBus{events: make(chan []byte)}
	hub := NewHub(bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	conn := dialHub(t, hub)
	readJSON(t, conn)

	cancel()
	require.NoError(t, <-done)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
