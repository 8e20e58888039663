package chat

import (
	"chatus/domain"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	TickInterval = time.Second
	PingInterval = 30 * time.Second
)

type hubJoinRequest struct {
	conv domain.Conversation
	jreq roomJoinRequest
}

type HubConfigs struct {
	TickInterval time.Duration
	PingInterval time.Duration
	Room         RoomConfigs
}

func DefaultHubConfigs() HubConfigs {
	return HubConfigs{TickInterval: TickInterval, PingInterval: PingInterval, Room: DefaultRoomConfigs()}
}

type hub struct {
	configs       HubConfigs
	rooms         map[string]Room
	newRoom       func(conv domain.Conversation) Room
	tickerCreator PeriodicTickerChannelCreator
	joinReqs      chan hubJoinRequest
	removeRoomCh  chan string
	roomCount     chan chan int
	quit          chan struct{}
	stopOnce      sync.Once
	wg            *sync.WaitGroup
}

func NewHub(configs HubConfigs, messages MessageStore, tickerCreator PeriodicTickerChannelCreator, wg *sync.WaitGroup) *hub {
	h := &hub{
		configs:       configs,
		rooms:         make(map[string]Room),
		tickerCreator: tickerCreator,
		joinReqs:      make(chan hubJoinRequest, 256),
		removeRoomCh:  make(chan string, 64),
		roomCount:     make(chan chan int),
		quit:          make(chan struct{}),
		wg:            wg,
	}
	h.newRoom = func(conv domain.Conversation) Room {
		r := NewRoom(conv, configs.Room, messages, tickerCreator)
		r.SetParentHub(h)
		return r
	}
	return h
}

// Join puts the session into the conversation's room, creating the room on
// first use. A room that closed while the request was queued is recreated.
func (h *hub) Join(ctx context.Context, conv domain.Conversation, s Session) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = h.joinOnce(ctx, conv, s)
		if !errors.Is(err, ErrRoomClosed) {
			return err
		}
	}
	return err
}

func (h *hub) joinOnce(ctx context.Context, conv domain.Conversation, s Session) error {
	select {
	case <-h.quit:
		return ErrHubStopped
	default:
	}

	jreq := newRoomJoinRequest(s)
	select {
	case h.joinReqs <- hubJoinRequest{conv: conv, jreq: jreq}:
	case <-h.quit:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-jreq.errChan:
		return err
	case <-h.quit:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *hub) RemoveRoom(roomId string) {
	select {
	case h.removeRoomCh <- roomId:
	case <-h.quit:
	}
}

// RoomCount reports how many rooms are alive.
func (h *hub) RoomCount(ctx context.Context) int {
	resp := make(chan int, 1)
	select {
	case h.roomCount <- resp:
	case <-ctx.Done():
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-ctx.Done():
		return 0
	}
}

// Stop closes every room and ends Run.
func (h *hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
}

func (h *hub) Run(started chan struct{}) {
	ticker, stopTicker := h.tickerCreator.Create(h.configs.TickInterval)
	defer stopTicker()
	pingTicker, stopPing := h.tickerCreator.Create(h.configs.PingInterval)
	defer stopPing()

	close(started)

	for {
		select {
		case <-h.quit:
			for id, r := range h.rooms {
				r.CloseAndRelease()
				delete(h.rooms, id)
			}
			return

		case now := <-ticker:
			for _, r := range h.rooms {
				r.Tick(now)
			}

		case <-pingTicker:
			for _, r := range h.rooms {
				r.PingSessions()
			}

		case req := <-h.joinReqs:
			h.handleJoinReq(req)

		case id := <-h.removeRoomCh:
			h.handleRemoveRoom(id)

		case resp := <-h.roomCount:
			resp <- len(h.rooms)
		}
	}
}

func (h *hub) handleJoinReq(req hubJoinRequest) {
	h.drainRemovals()
	r, ok := h.rooms[req.conv.Id]
	if !ok {
		r = h.newRoom(req.conv)
		h.rooms[req.conv.Id] = r
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			r.Run()
		}()
		log.Debug().Str("room", req.conv.Id).Msg("Hub: room started")
	}
	r.RequestJoin(req.jreq)
}

// drainRemovals applies queued removals so a join never lands in a room that
// has already asked to be closed.
func (h *hub) drainRemovals() {
	for {
		select {
		case id := <-h.removeRoomCh:
			h.handleRemoveRoom(id)
		default:
			return
		}
	}
}

func (h *hub) handleRemoveRoom(id string) {
	r, ok := h.rooms[id]
	if !ok {
		return
	}
	delete(h.rooms, id)
	r.CloseAndRelease()
	log.Debug().Str("room", id).Msg("Hub: idle room removed")
}
