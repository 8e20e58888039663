package chat

import (
	"chatus/config"
	"chatus/protocol"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const sendBufferSize = 256

type ClientPacketEnvelope struct {
	packet protocol.ClientPacket
	from   Session
}

type session struct {
	userId         string
	username       string
	messageLimiter *rate.Limiter
	strokeLimiter  *rate.Limiter
	inbox          chan []byte
	pingChan       chan struct{}
	room           Room
	ctx            context.Context
	cancelCtx      context.CancelFunc
	closeOnce      sync.Once
}

func NewSession(userId, username string, limits config.Limits) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		userId:         userId,
		username:       username,
		messageLimiter: rate.NewLimiter(rate.Limit(limits.MessagesPerSecond), limits.MessageBurst),
		strokeLimiter:  rate.NewLimiter(rate.Limit(limits.StrokesPerSecond), limits.StrokeBurst),
		inbox:          make(chan []byte, sendBufferSize),
		pingChan:       make(chan struct{}, 1),
		ctx:            ctx,
		cancelCtx:      cancel,
	}
}

func (s *session) UserId() string   { return s.userId }
func (s *session) Username() string { return s.username }

// SetRoom must be called before the pumps start.
func (s *session) SetRoom(r Room) {
	s.room = r
}

// Send queues data for the write pump without blocking.
func (s *session) Send(data []byte) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	select {
	case s.inbox <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *session) Ping() {
	select {
	case s.pingChan <- struct{}{}:
	default:
	}
}

func (s *session) CancelAndRelease() {
	s.cancelCtx()
}

func (s *session) closeSocket(socket NetworkSession) {
	s.closeOnce.Do(func() {
		socket.Close("")
	})
}

// allow charges the packet against the session's token buckets. Typing is
// throttled by the room instead.
func (s *session) allow(p protocol.ClientPacket) bool {
	now := time.Now()
	switch payload := p.Payload.(type) {
	case *protocol.StrokeBatch:
		return s.strokeLimiter.AllowN(now, max(1, len(payload.Strokes)))
	case *protocol.Typing:
		return true
	default:
		return s.messageLimiter.AllowN(now, 1)
	}
}

func (s *session) leave() {
	if s.room != nil {
		s.room.RemoveMe(s.ctx, s)
	}
	s.cancelCtx()
}

func (s *session) ReadPump(socket NetworkSession) {
	defer s.closeSocket(socket)

	for {
		data, err := socket.Read()
		if err != nil {
			s.leave()
			return
		}

		packet, err := protocol.UnmarshalClientPacket(data)
		if err != nil {
			continue
		}

		if !s.allow(packet) {
			s.Send(protocol.Encode(&protocol.Error{Code: ErrRateLimited.Error()}))
			continue
		}

		s.room.Send(s.ctx, ClientPacketEnvelope{packet: packet, from: s})
		if s.ctx.Err() != nil {
			return
		}
	}
}

func (s *session) WritePump(socket NetworkSession) {
	defer s.closeSocket(socket)

	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.inbox:
			if err := socket.Write(data); err != nil {
				s.leave()
				return
			}
		case <-s.pingChan:
			if err := socket.Ping(); err != nil {
				s.leave()
				return
			}
		}
	}
}
