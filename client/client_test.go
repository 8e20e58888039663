package client

import (
	"chatus/canvas"
	"chatus/protocol"
	"chatus/retry"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// wsServer upgrades every request and hands the connection to serve with its
// 1-based connection number.
func wsServer(t *testing.T, serve func(n int, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(int(count.Add(1)), conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/conv"
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

// readClientPacket runs on the server goroutine, so it reports failures as nil.
func readClientPacket(conn *websocket.Conn) protocol.ClientPayload {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	p, err := protocol.UnmarshalClientPacket(data)
	if err != nil {
		return nil
	}
	return p.Payload
}

func nextIncoming(t *testing.T, c *Client) protocol.ServerPayload {
	t.Helper()
	select {
	case p, ok := <-c.Incoming():
		require.True(t, ok, "incoming closed")
		return p.Payload
	case <-time.After(2 * time.Second):
		require.Fail(t, "no packet received")
		return nil
	}
}

func startClient(t *testing.T, cfg Config) (*Client, context.CancelFunc, chan error) {
	t.Helper()
	c := New(cfg, retry.WithSleep(noSleep))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return c, cancel, done
}

func TestClient_SendAndReceive(t *testing.T) {
	t.Parallel()
	got := make(chan protocol.ClientPayload, 1)
	server := wsServer(t, func(n int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(&protocol.Presence{UserId: "bob", Online: true}))
		got <- readClientPacket(conn)
		conn.SetReadDeadline(time.Time{})
		conn.ReadMessage()
	})

	c, cancel, done := startClient(t, DefaultConfig(wsURL(server)))

	assert.Equal(t, &protocol.Presence{UserId: "bob", Online: true}, nextIncoming(t, c))
	require.NoError(t, c.Send(&protocol.SendMessage{ClientId: "c1", Text: "hi"}))
	assert.Equal(t, &protocol.SendMessage{ClientId: "c1", Text: "hi"}, <-got)
	assert.Equal(t, retry.StateConnected, c.Status().State)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	_, open := <-c.Incoming()
	assert.False(t, open)
}

func TestClient_StrokeBatching(t *testing.T) {
	t.Parallel()
	got := make(chan protocol.ClientPayload, 4)
	server := wsServer(t, func(n int, conn *websocket.Conn) {
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			p, err := protocol.UnmarshalClientPacket(data)
			if err == nil {
				got <- p.Payload
			}
		}
	})

	cfg := DefaultConfig(wsURL(server))
	cfg.MaxBatch = 2
	cfg.FlushInterval = 50 * time.Millisecond
	c, _, _ := startClient(t, cfg)

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, c.Draw(canvas.Stroke{Id: id, Points: []canvas.Point{{X: 1, Y: 1}}}))
	}

	first := (<-got).(*protocol.StrokeBatch)
	require.Len(t, first.Strokes, 2, "a full batch goes out right away")
	assert.Equal(t, "s1", first.Strokes[0].Id)

	select {
	case p := <-got:
		second := p.(*protocol.StrokeBatch)
		require.Len(t, second.Strokes, 1)
		assert.Equal(t, "s3", second.Strokes[0].Id)
	case <-time.After(2 * time.Second):
		assert.Fail(t, "window was not flushed")
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	t.Parallel()
	server := wsServer(t, func(n int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(&protocol.Error{Code: "hello"}))
		if n == 1 {
			return
		}
		conn.ReadMessage()
	})

	stateCh := make(chan retry.State, 32)
	c := New(DefaultConfig(wsURL(server)), retry.WithSleep(noSleep), retry.WithStateChange(func(s retry.State) {
		stateCh <- s
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	assert.Equal(t, &protocol.Error{Code: "hello"}, nextIncoming(t, c))
	assert.Equal(t, &protocol.Error{Code: "hello"}, nextIncoming(t, c))

	var states []retry.State
	connected := 0
	timeout := time.After(2 * time.Second)
	for connected < 2 {
		select {
		case s := <-stateCh:
			states = append(states, s)
			if s == retry.StateConnected {
				connected++
			}
		case <-timeout:
			require.Fail(t, "second connection never came up", "states: %v", states)
		}
	}
	assert.Contains(t, states, retry.StateIdle, "the controller is reset after a drop")
	assert.Equal(t, 0, c.Status().Attempt)
}

func TestClient_GivesUp(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	cfg := DefaultConfig(url)
	cfg.Retry.MaxRetries = 2
	c, _, done := startClient(t, cfg)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, retry.ErrRetriesExhausted)
	case <-time.After(5 * time.Second):
		require.Fail(t, "client kept retrying")
	}
	assert.Equal(t, retry.StateFailed, c.Status().State)
}

func TestClient_QueuesAreBounded(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig("ws://127.0.0.1:1/ws/conv")
	cfg.OutboxSize = 1
	cfg.MaxBatch = 1
	c := New(cfg)

	require.NoError(t, c.Send(&protocol.Typing{Active: true}))
	assert.ErrorIs(t, c.Send(&protocol.Typing{}), ErrOutboxFull)

	for range cap(c.strokes) {
		require.NoError(t, c.Draw(canvas.Stroke{}))
	}
	assert.ErrorIs(t, c.Draw(canvas.Stroke{}), ErrOutboxFull)
}
