package client

import (
	"chatus/canvas"
	"chatus/protocol"
	"chatus/retry"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrOutboxFull = errors.New("outbox-full")
)

const writeTimeout = 10 * time.Second

type Config struct {
	// URL is the websocket endpoint of one conversation, e.g. ws://host/ws/<id>.
	URL    string
	Header http.Header
	Retry  retry.Config

	FlushInterval time.Duration
	MaxBatch      int
	OutboxSize    int
	InboxSize     int
}

func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		Header:        http.Header{},
		Retry:         retry.DefaultConfig(),
		FlushInterval: 16 * time.Millisecond,
		MaxBatch:      64,
		OutboxSize:    256,
		InboxSize:     256,
	}
}

// Client keeps one conversation connected. Packets queued while the socket is
// down are sent after the next successful dial.
type Client struct {
	cfg        Config
	dialer     *websocket.Dialer
	controller *retry.Controller

	incoming chan protocol.ServerPacket
	outbox   chan protocol.ClientPacket
	strokes  chan canvas.Stroke
}

func New(cfg Config, opts ...retry.Option) *Client {
	def := DefaultConfig(cfg.URL)
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = def.OutboxSize
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	return &Client{
		cfg:        cfg,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		controller: retry.NewController(cfg.URL, cfg.Retry, opts...),
		incoming:   make(chan protocol.ServerPacket, cfg.InboxSize),
		outbox:     make(chan protocol.ClientPacket, cfg.OutboxSize),
		strokes:    make(chan canvas.Stroke, cfg.MaxBatch*4),
	}
}

// Incoming is closed when Run returns.
func (c *Client) Incoming() <-chan protocol.ServerPacket {
	return c.incoming
}

func (c *Client) Status() retry.Status {
	return c.controller.Status()
}

// Send queues a packet without blocking.
func (c *Client) Send(p protocol.ClientPayload) error {
	select {
	case c.outbox <- protocol.ClientPacket{Payload: p}:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Draw hands a stroke to the micro-batcher without blocking.
func (c *Client) Draw(s canvas.Stroke) error {
	select {
	case c.strokes <- s:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Run dials, serves the connection until it drops and dials again. It returns
// on context cancelation or when the retry budget is spent.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.incoming)

	batchCtx, stopBatching := context.WithCancel(ctx)
	defer stopBatching()
	go c.batchLoop(batchCtx)

	for {
		var conn *websocket.Conn
		err := c.controller.Run(ctx, func(ctx context.Context) error {
			var resp *http.Response
			var err error
			conn, resp, err = c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			return err
		})
		if err != nil {
			return err
		}

		log.Info().Str("url", c.cfg.URL).Msg("Client: connected")
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Str("url", c.cfg.URL).Msg("Client: connection lost, reconnecting")
		c.controller.Reset()
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		c.readLoop(connCtx, conn)
	}()

	c.writeLoop(connCtx, conn)
	conn.Close()
	<-readDone
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Text != "" {
				log.Warn().Str("code", closeErr.Text).Msg("Client: server closed the connection")
			}
			return
		}
		packet, err := protocol.UnmarshalServerPacket(data)
		if err != nil {
			log.Debug().Err(err).Msg("Client: skipping malformed packet")
			continue
		}
		select {
		case c.incoming <- packet:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case p := <-c.outbox:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, p.Marshal()); err != nil {
				log.Warn().Err(err).Msg("Client: write failed")
				return
			}
		}
	}
}

// batchLoop opens a FlushInterval window on the first stroke and sends what
// it gathered when the window closes or MaxBatch is reached.
func (c *Client) batchLoop(ctx context.Context) {
	b := newStrokeBatcher(c.cfg.MaxBatch)
	var timer *time.Timer
	var window <-chan time.Time

	stopWindow := func() {
		if timer != nil {
			timer.Stop()
		}
		window = nil
	}

	for {
		select {
		case <-ctx.Done():
			stopWindow()
			return
		case s := <-c.strokes:
			if b.Add(s) {
				stopWindow()
				c.emit(ctx, b.Take())
				continue
			}
			if window == nil {
				timer = time.NewTimer(c.cfg.FlushInterval)
				window = timer.C
			}
		case <-window:
			window = nil
			if b.HasPending() {
				c.emit(ctx, b.Take())
			}
		}
	}
}

func (c *Client) emit(ctx context.Context, strokes []canvas.Stroke) {
	select {
	case c.outbox <- protocol.ClientPacket{Payload: &protocol.StrokeBatch{Strokes: strokes}}:
	case <-ctx.Done():
	}
}
