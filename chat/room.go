package chat

import (
	"chatus/canvas"
	"chatus/domain"
	"chatus/protocol"
	"chatus/tictactoe"
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const (
	MaxMessageRunes = 4000
	HistoryPageSize = 50
	MaxHistoryPage  = 100
	TypingThrottle  = 2 * time.Second
	TypingTimeout   = 6 * time.Second

	storeTimeout = 5 * time.Second
)

type RoomConfigs struct {
	MaxSessions   int
	IdleTimeout   time.Duration
	FlushInterval time.Duration
	Canvas        canvas.Options
}

func DefaultRoomConfigs() RoomConfigs {
	return RoomConfigs{
		MaxSessions:   8,
		IdleTimeout:   5 * time.Minute,
		FlushInterval: 16 * time.Millisecond,
		Canvas:        canvas.DefaultOptions(),
	}
}

type roomJoinRequest struct {
	session Session
	errChan chan error
}

func newRoomJoinRequest(s Session) roomJoinRequest {
	return roomJoinRequest{session: s, errChan: make(chan error, 1)}
}

type dataSendTask struct {
	to   Session
	data []byte
}

type typingState struct {
	active      bool
	sentAt      time.Time
	refreshedAt time.Time
}

type pendingStroke struct {
	from   Session
	stroke canvas.Stroke
}

// pendingBatch holds one author's accepted strokes until the next flush.
// A stroke is never echoed to the session it came from.
type pendingBatch struct {
	author  string
	strokes []pendingStroke
}

func (b *pendingBatch) strokesFor(s Session) (strokes []canvas.Stroke, all bool) {
	strokes = make([]canvas.Stroke, 0, len(b.strokes))
	for _, p := range b.strokes {
		if p.from != s {
			strokes = append(strokes, p.stroke)
		}
	}
	return strokes, len(strokes) == len(b.strokes)
}

type room struct {
	id            string
	members       [2]string
	configs       RoomConfigs
	parentHub     Hub
	messages      MessageStore
	tickerCreator PeriodicTickerChannelCreator
	now           func() time.Time

	sessions         []Session
	board            *canvas.Board
	game             *tictactoe.Game
	pending          []pendingBatch
	typing           map[string]typingState
	emptySince       time.Time
	removalRequested bool

	dataSendTasks []dataSendTask

	inbox        chan ClientPacketEnvelope
	ticks        chan time.Time
	pingSessions chan struct{}
	removals     chan Session
	joinRequests chan roomJoinRequest
	quit         chan struct{}
	closeOnce    sync.Once
}

func NewRoom(conv domain.Conversation, configs RoomConfigs, messages MessageStore, tickerCreator PeriodicTickerChannelCreator) *room {
	return &room{
		id:            conv.Id,
		members:       conv.MemberIds,
		configs:       configs,
		messages:      messages,
		tickerCreator: tickerCreator,
		now:           time.Now,
		sessions:      make([]Session, 0, configs.MaxSessions),
		board:         canvas.NewBoard(configs.Canvas),
		typing:        make(map[string]typingState),
		emptySince:    time.Now(),
		inbox:         make(chan ClientPacketEnvelope, 1024),
		ticks:         make(chan time.Time, 4),
		pingSessions:  make(chan struct{}, 1),
		removals:      make(chan Session, 64),
		joinRequests:  make(chan roomJoinRequest, 64),
		quit:          make(chan struct{}),
	}
}

func (r *room) Id() string {
	return r.id
}

func (r *room) SetParentHub(h Hub) {
	r.parentHub = h
}

func (r *room) Send(ctx context.Context, e ClientPacketEnvelope) {
	select {
	case r.inbox <- e:
	case <-ctx.Done():
	case <-r.quit:
	}
}

func (r *room) RemoveMe(ctx context.Context, s Session) {
	select {
	case r.removals <- s:
	case <-ctx.Done():
	case <-r.quit:
	}
}

// RequestJoin never blocks, so the hub stays responsive while the room is busy.
func (r *room) RequestJoin(jreq roomJoinRequest) {
	select {
	case <-r.quit:
		jreq.errChan <- ErrRoomClosed
		return
	default:
	}
	select {
	case r.joinRequests <- jreq:
	default:
		jreq.errChan <- ErrRoomBusy
	}
}

func (r *room) Tick(now time.Time) {
	select {
	case r.ticks <- now:
	default:
	}
}

func (r *room) PingSessions() {
	select {
	case r.pingSessions <- struct{}{}:
	default:
	}
}

func (r *room) CloseAndRelease() {
	r.closeOnce.Do(func() {
		close(r.quit)
	})
}

func (r *room) Run() {
	flush, stop := r.tickerCreator.Create(r.configs.FlushInterval)
	defer stop()

	for {
		select {
		case <-r.quit:
			r.release()
			return
		case jreq := <-r.joinRequests:
			r.handleJoinRequest(jreq)
		case e := <-r.inbox:
			r.handleEnvelope(e)
		case s := <-r.removals:
			r.handleLeave(s)
		case now := <-r.ticks:
			r.handleTick(now)
		case <-r.pingSessions:
			r.handlePing()
		case <-flush:
			r.flushStrokes()
		}
		r.executeSendTasks()
	}
}

func (r *room) release() {
	r.flushStrokes()
	r.executeSendTasks()
	for _, s := range r.sessions {
		s.CancelAndRelease()
	}
	r.sessions = nil
	for {
		select {
		case jreq := <-r.joinRequests:
			jreq.errChan <- ErrRoomClosed
		default:
			return
		}
	}
}

// executeSendTasks delivers queued packets. A session that cannot keep up is
// dropped, which may queue presence updates for the others.
func (r *room) executeSendTasks() {
	for len(r.dataSendTasks) > 0 {
		tasks := r.dataSendTasks
		r.dataSendTasks = nil
		for _, t := range tasks {
			if r.indexOf(t.to) < 0 {
				continue
			}
			if err := t.to.Send(t.data); err != nil {
				log.Warn().Err(err).Str("room", r.id).Str("user_id", t.to.UserId()).
					Msg("Room: dropping session")
				r.handleLeave(t.to)
			}
		}
	}
}

func (r *room) sendTo(s Session, payload protocol.ServerPayload) {
	r.dataSendTasks = append(r.dataSendTasks, dataSendTask{to: s, data: protocol.Encode(payload)})
}

func (r *room) broadcast(payload protocol.ServerPayload, include func(Session) bool) {
	data := protocol.Encode(payload)
	for _, s := range r.sessions {
		if include == nil || include(s) {
			r.dataSendTasks = append(r.dataSendTasks, dataSendTask{to: s, data: data})
		}
	}
}

func notUser(userId string) func(Session) bool {
	return func(s Session) bool { return s.UserId() != userId }
}

func notSession(from Session) func(Session) bool {
	return func(s Session) bool { return s != from }
}

func (r *room) replyError(s Session, err error) {
	code := errorCode(err)
	if code == unknownErrorCode {
		log.Error().Err(err).Str("room", r.id).Str("user_id", s.UserId()).Msg("Room: unexpected error")
	}
	r.sendTo(s, &protocol.Error{Code: code})
}

func (r *room) indexOf(s Session) int {
	for i, x := range r.sessions {
		if x == s {
			return i
		}
	}
	return -1
}

func (r *room) isOnline(userId string) bool {
	for _, s := range r.sessions {
		if s.UserId() == userId {
			return true
		}
	}
	return false
}

func (r *room) peerOf(userId string) string {
	if r.members[0] == userId {
		return r.members[1]
	}
	return r.members[0]
}

func (r *room) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

func (r *room) handleJoinRequest(jreq roomJoinRequest) {
	// The hub is about to close this room; it creates a fresh one on retry.
	if r.removalRequested {
		jreq.errChan <- ErrRoomClosed
		return
	}
	if len(r.sessions) >= r.configs.MaxSessions {
		jreq.errChan <- ErrRoomFull
		return
	}

	s := jreq.session
	firstSession := !r.isOnline(s.UserId())
	s.SetRoom(r)
	r.sessions = append(r.sessions, s)

	r.sendTo(s, r.snapshotFor(s))
	if firstSession {
		r.broadcast(&protocol.Presence{UserId: s.UserId(), Username: s.Username(), Online: true}, notSession(s))
	}
	jreq.errChan <- nil
}

func (r *room) snapshotFor(s Session) *protocol.Snapshot {
	snap := &protocol.Snapshot{
		ConversationId: r.id,
		Online:         r.onlinePresence(),
		Canvas:         canvasSnapshot(r.board.Snapshot(s.UserId())),
		Game:           r.gameState(),
	}

	ctx, cancel := r.storeCtx()
	defer cancel()
	msgs, hasMore, err := r.messages.ListMessages(ctx, r.id, time.Time{}, HistoryPageSize)
	if err != nil {
		log.Error().Err(err).Str("room", r.id).Msg("Room: loading history for snapshot")
	}
	snap.History = historyOf(msgs, hasMore)
	return snap
}

func (r *room) onlinePresence() []protocol.Presence {
	seen := make(map[string]bool, len(r.sessions))
	online := make([]protocol.Presence, 0, 2)
	for _, s := range r.sessions {
		if seen[s.UserId()] {
			continue
		}
		seen[s.UserId()] = true
		online = append(online, protocol.Presence{UserId: s.UserId(), Username: s.Username(), Online: true})
	}
	return online
}

func (r *room) handleLeave(s Session) {
	i := r.indexOf(s)
	if i < 0 {
		return
	}
	r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
	s.CancelAndRelease()

	r.pending = dropPendingFrom(r.pending, s)

	if !r.isOnline(s.UserId()) {
		if st := r.typing[s.UserId()]; st.active {
			r.broadcast(&protocol.TypingUpdate{UserId: s.UserId(), Username: s.Username()}, nil)
		}
		delete(r.typing, s.UserId())
		r.broadcast(&protocol.Presence{UserId: s.UserId(), Username: s.Username(), Online: false}, nil)
	}
	if len(r.sessions) == 0 {
		r.emptySince = r.now()
	}
}

// dropPendingFrom keeps strokes queued by a leaving session but forgets the
// session itself, so the flush goes to everyone still connected.
func dropPendingFrom(pending []pendingBatch, s Session) []pendingBatch {
	for i := range pending {
		for j := range pending[i].strokes {
			if pending[i].strokes[j].from == s {
				pending[i].strokes[j].from = nil
			}
		}
	}
	return pending
}

func (r *room) handleTick(now time.Time) {
	for userId, st := range r.typing {
		if st.active && now.Sub(st.refreshedAt) >= TypingTimeout {
			st.active = false
			st.sentAt = now
			r.typing[userId] = st
			r.broadcast(&protocol.TypingUpdate{UserId: userId, Username: r.usernameOf(userId)}, notUser(userId))
		}
	}

	if len(r.sessions) == 0 && !r.removalRequested && now.Sub(r.emptySince) >= r.configs.IdleTimeout {
		r.removalRequested = true
		r.parentHub.RemoveRoom(r.id)
	}
}

func (r *room) usernameOf(userId string) string {
	for _, s := range r.sessions {
		if s.UserId() == userId {
			return s.Username()
		}
	}
	return ""
}

func (r *room) handlePing() {
	for _, s := range r.sessions {
		s.Ping()
	}
}

func (r *room) handleEnvelope(e ClientPacketEnvelope) {
	if r.indexOf(e.from) < 0 {
		return
	}

	switch p := e.packet.Payload.(type) {
	case *protocol.StrokeBatch:
		r.handleStrokes(e.from, p)
	case *protocol.SendMessage:
		r.handleSendMessage(e.from, p)
	case *protocol.EditMessage:
		r.handleEditMessage(e.from, p)
	case *protocol.DeleteMessage:
		r.handleDeleteMessage(e.from, p)
	case *protocol.Typing:
		r.handleTyping(e.from, p.Active)
	case *protocol.MarkRead:
		r.handleMarkRead(e.from, p)
	case *protocol.CanvasOp:
		r.handleCanvasOp(e.from, p)
	case *protocol.GameStart:
		r.handleGameStart(e.from)
	case *protocol.GameMove:
		r.handleGameMove(e.from, p)
	case *protocol.FetchHistory:
		r.handleFetchHistory(e.from, p)
	}
}

func normalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return "", ErrMessageTooLong
	}
	return text, nil
}

func (r *room) handleSendMessage(s Session, p *protocol.SendMessage) {
	text, err := normalizeText(p.Text)
	if err != nil {
		r.replyError(s, err)
		return
	}

	ctx, cancel := r.storeCtx()
	defer cancel()
	msg, err := r.messages.InsertMessage(ctx, r.id, s.UserId(), text)
	if err != nil {
		r.replyError(s, err)
		return
	}

	if st := r.typing[s.UserId()]; st.active {
		r.typing[s.UserId()] = typingState{sentAt: r.now()}
		r.broadcast(&protocol.TypingUpdate{UserId: s.UserId(), Username: s.Username()}, notUser(s.UserId()))
	}

	out := chatMessage(msg)
	out.ClientId = p.ClientId
	r.broadcast(&out, nil)
}

func (r *room) handleEditMessage(s Session, p *protocol.EditMessage) {
	text, err := normalizeText(p.Text)
	if err != nil {
		r.replyError(s, err)
		return
	}

	ctx, cancel := r.storeCtx()
	defer cancel()
	msg, err := r.messages.UpdateMessageText(ctx, r.id, p.MessageId, s.UserId(), text)
	if err != nil {
		r.replyError(s, err)
		return
	}
	out := chatMessage(msg)
	r.broadcast(&out, nil)
}

func (r *room) handleDeleteMessage(s Session, p *protocol.DeleteMessage) {
	ctx, cancel := r.storeCtx()
	defer cancel()
	msg, err := r.messages.DeleteMessage(ctx, r.id, p.MessageId, s.UserId())
	if err != nil {
		r.replyError(s, err)
		return
	}
	out := chatMessage(msg)
	r.broadcast(&out, nil)
}

// handleTyping forwards state changes right away and repeats an ongoing
// "active" at most once per TypingThrottle.
func (r *room) handleTyping(s Session, active bool) {
	now := r.now()
	st := r.typing[s.UserId()]
	if active {
		st.refreshedAt = now
	}
	if st.active == active && (!active || now.Sub(st.sentAt) < TypingThrottle) {
		r.typing[s.UserId()] = st
		return
	}
	st.active = active
	st.sentAt = now
	r.typing[s.UserId()] = st
	r.broadcast(&protocol.TypingUpdate{UserId: s.UserId(), Username: s.Username(), Active: active}, notUser(s.UserId()))
}

func (r *room) handleMarkRead(s Session, p *protocol.MarkRead) {
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.messages.MarkRead(ctx, r.id, s.UserId(), p.MessageId); err != nil {
		r.replyError(s, err)
		return
	}
	r.broadcast(&protocol.ReadReceipt{UserId: s.UserId(), MessageId: p.MessageId}, notSession(s))
}

func (r *room) handleFetchHistory(s Session, p *protocol.FetchHistory) {
	limit := p.Limit
	switch {
	case limit <= 0:
		limit = HistoryPageSize
	case limit > MaxHistoryPage:
		limit = MaxHistoryPage
	}
	var before time.Time
	if p.Before > 0 {
		before = time.UnixMilli(p.Before)
	}

	ctx, cancel := r.storeCtx()
	defer cancel()
	msgs, hasMore, err := r.messages.ListMessages(ctx, r.id, before, limit)
	if err != nil {
		r.replyError(s, err)
		return
	}
	h := historyOf(msgs, hasMore)
	r.sendTo(s, &h)
}

func (r *room) handleStrokes(s Session, batch *protocol.StrokeBatch) {
	stamp := r.now().UnixMilli()
	accepted := make([]canvas.Stroke, 0, len(batch.Strokes))
	var firstErr error

	for _, st := range batch.Strokes {
		st.Author = s.UserId()
		if st.Timestamp == 0 {
			st.Timestamp = stamp
		}
		stored, changed, err := r.board.Apply(st)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if changed {
			accepted = append(accepted, stored)
		}
	}

	if firstErr != nil {
		r.replyError(s, firstErr)
	}
	if len(accepted) == 0 {
		return
	}
	pb := r.pendingOf(s.UserId())
	for _, st := range accepted {
		pb.strokes = append(pb.strokes, pendingStroke{from: s, stroke: st})
	}
}

func (r *room) pendingOf(author string) *pendingBatch {
	for i := range r.pending {
		if r.pending[i].author == author {
			return &r.pending[i]
		}
	}
	r.pending = append(r.pending, pendingBatch{author: author})
	return &r.pending[len(r.pending)-1]
}

// flushStrokes sends each author's pending strokes as one batch per session,
// leaving out strokes the session sent itself.
func (r *room) flushStrokes() {
	for i := range r.pending {
		b := &r.pending[i]
		var full []byte
		for _, s := range r.sessions {
			strokes, all := b.strokesFor(s)
			if len(strokes) == 0 {
				continue
			}
			if !all {
				r.dataSendTasks = append(r.dataSendTasks, dataSendTask{to: s, data: protocol.Encode(&protocol.StrokeBatch{Strokes: strokes})})
				continue
			}
			if full == nil {
				full = protocol.Encode(&protocol.StrokeBatch{Strokes: strokes})
			}
			r.dataSendTasks = append(r.dataSendTasks, dataSendTask{to: s, data: full})
		}
	}
	r.pending = r.pending[:0]
}

func (r *room) handleCanvasOp(s Session, op *protocol.CanvasOp) {
	r.flushStrokes()

	user := s.UserId()
	changed := true
	var err error
	switch op.Kind {
	case protocol.CanvasUndo:
		changed, err = r.board.Undo(user)
	case protocol.CanvasRedo:
		changed, err = r.board.Redo(user)
	case protocol.CanvasClear:
		err = r.board.ClearLayer(user, op.LayerId)
	case protocol.CanvasAddLayer:
		_, err = r.board.AddLayer(op.Name)
	case protocol.CanvasRemoveLayer:
		err = r.board.RemoveLayer(op.LayerId)
	case protocol.CanvasRenameLayer:
		err = r.board.RenameLayer(op.LayerId, op.Name)
	case protocol.CanvasSetVisible:
		err = r.board.SetVisible(op.LayerId, op.Flag)
	case protocol.CanvasSetLocked:
		err = r.board.SetLocked(op.LayerId, op.Flag)
	case protocol.CanvasSetOpacity:
		err = r.board.SetOpacity(op.LayerId, op.Opacity)
	case protocol.CanvasMoveLayer:
		err = r.board.MoveLayer(op.LayerId, op.Index)
	default:
		err = ErrUnknownCanvasOp
	}
	if err != nil {
		r.replyError(s, err)
		return
	}
	if !changed {
		return
	}
	r.broadcastCanvas()
}

// broadcastCanvas sends each session the board with its own undo flags.
func (r *room) broadcastCanvas() {
	perUser := make(map[string][]byte, 2)
	for _, s := range r.sessions {
		data, ok := perUser[s.UserId()]
		if !ok {
			snap := canvasSnapshot(r.board.Snapshot(s.UserId()))
			data = protocol.Encode(&snap)
			perUser[s.UserId()] = data
		}
		r.dataSendTasks = append(r.dataSendTasks, dataSendTask{to: s, data: data})
	}
}

func (r *room) handleGameStart(s Session) {
	user := s.UserId()
	peer := r.peerOf(user)
	if !r.isOnline(peer) {
		r.replyError(s, ErrOpponentOffline)
		return
	}
	if r.game != nil && r.game.Status() == tictactoe.InProgress {
		r.replyError(s, ErrGameInProgress)
		return
	}

	if r.game != nil && r.game.Players[1] == user {
		r.game.Rematch()
	} else {
		g, err := tictactoe.New(user, peer)
		if err != nil {
			r.replyError(s, err)
			return
		}
		r.game = g
	}
	r.broadcast(r.gameState(), nil)
}

func (r *room) handleGameMove(s Session, p *protocol.GameMove) {
	if r.game == nil {
		r.replyError(s, ErrNoGame)
		return
	}
	if err := r.game.Play(s.UserId(), p.Cell); err != nil {
		r.replyError(s, err)
		return
	}
	r.broadcast(r.gameState(), nil)
}

func (r *room) gameState() *protocol.GameState {
	if r.game == nil {
		return nil
	}
	return &protocol.GameState{
		Board:       r.game.Board,
		Players:     r.game.Players,
		Turn:        r.game.Turn,
		Status:      r.game.Status(),
		WinningLine: r.game.WinningLine(),
	}
}

func chatMessage(m domain.Message) protocol.ChatMessage {
	out := protocol.ChatMessage{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		SenderId:       m.SenderId,
		SenderName:     m.SenderName,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt.UnixMilli(),
		Deleted:        m.Deleted,
	}
	if m.EditedAt != nil {
		out.EditedAt = m.EditedAt.UnixMilli()
	}
	return out
}

func historyOf(msgs []domain.Message, hasMore bool) protocol.History {
	h := protocol.History{Messages: make([]protocol.ChatMessage, 0, len(msgs)), HasMore: hasMore}
	for _, m := range msgs {
		h.Messages = append(h.Messages, chatMessage(m))
	}
	return h
}

func canvasSnapshot(s canvas.Snapshot) protocol.CanvasSnapshot {
	return protocol.CanvasSnapshot{Layers: s.Layers, CanUndo: s.CanUndo, CanRedo: s.CanRedo}
}

const unknownErrorCode = "unknown-error"

var clientErrors = []error{
	ErrEmptyMessage, ErrMessageTooLong, ErrRateLimited,
	ErrOpponentOffline, ErrGameInProgress, ErrNoGame, ErrUnknownCanvasOp,
	domain.ErrMessageNotFound, domain.ErrNotMessageAuthor,
	canvas.ErrLayerNotFound, canvas.ErrLayerLocked, canvas.ErrLastLayer, canvas.ErrTooManyLayers,
	canvas.ErrEmptyStroke, canvas.ErrInvalidTool, canvas.ErrStrokeTooLarge,
	tictactoe.ErrGameOver, tictactoe.ErrNotAPlayer, tictactoe.ErrNotYourTurn,
	tictactoe.ErrInvalidCell, tictactoe.ErrCellTaken, tictactoe.ErrSamePlayer,
	context.DeadlineExceeded,
}

// errorCode maps an error to the code sent in an Error packet.
func errorCode(err error) string {
	for _, known := range clientErrors {
		if errors.Is(err, known) {
			if known == context.DeadlineExceeded {
				return "server-timeout"
			}
			return known.Error()
		}
	}
	return unknownErrorCode
}
