package chat

import (
	"chatus/config"
	"chatus/domain"
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	ErrUnauthenticatedStr      = "unauthenticated"
	ErrInvalidRequestFormatStr = "bad-request-format"
	ErrUserNotFoundStr         = "user-not-found"
	ErrConversationNotFoundStr = "conversation-not-found"
	ErrNotAMemberStr           = "not-a-member"
	ErrSelfConversationStr     = "self-conversation"
	ErrServerTimeoutStr        = "server-timeout"
	ErrUnknownStr              = "unknown-error"

	joinTimeout = 10 * time.Second
)

type ChatHandler struct {
	hub           Hub
	conversations ConversationStore
	messages      MessageStore
	users         UserGetter
	upgrader      websocket.Upgrader
	limits        atomic.Pointer[config.Limits]
}

func NewChatHandler(hub Hub, conversations ConversationStore, messages MessageStore, users UserGetter, allowedOrigins []string, limits config.Limits) *ChatHandler {
	h := &ChatHandler{
		hub:           hub,
		conversations: conversations,
		messages:      messages,
		users:         users,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
	h.SetLimits(limits)
	return h
}

// SetLimits changes the rate limits of sessions opened from now on.
func (h *ChatHandler) SetLimits(l config.Limits) {
	h.limits.Store(&l)
}

func userIdOf(ctx *gin.Context) (string, bool) {
	id := ctx.GetString("id")
	if id == "" {
		log.Error().Str("ip", ctx.ClientIP()).Str("user_agent", ctx.Request.UserAgent()).
			Msg("Unexpected error, id not found. Is the auth middleware installed?")
		ctx.String(http.StatusUnauthorized, ErrUnauthenticatedStr)
		ctx.Abort()
		return "", false
	}
	return id, true
}

// respondError writes the status and body for errors shared by every route.
func respondError(ctx *gin.Context, where string, err error) {
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		ctx.String(http.StatusNotFound, ErrConversationNotFoundStr)
	case errors.Is(err, domain.ErrNotAMember):
		ctx.String(http.StatusForbidden, ErrNotAMemberStr)
	case errors.Is(err, domain.ErrUserNotFound):
		ctx.String(http.StatusNotFound, ErrUserNotFoundStr)
	case errors.Is(err, domain.ErrSelfConversation):
		ctx.String(http.StatusBadRequest, ErrSelfConversationStr)
	case errors.Is(err, context.DeadlineExceeded):
		ctx.String(http.StatusGatewayTimeout, ErrServerTimeoutStr)
	case errors.Is(err, context.Canceled):
		ctx.Status(499)
	default:
		log.Error().Err(err).Str("ip", ctx.ClientIP()).Msg(where + ": unexpected error")
		ctx.String(http.StatusInternalServerError, ErrUnknownStr)
	}
	ctx.Abort()
}

func (h *ChatHandler) ListConversationsHandler(ctx *gin.Context) {
	id, ok := userIdOf(ctx)
	if !ok {
		return
	}

	summaries, err := h.conversations.ListConversations(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, "ListConversations", err)
		return
	}
	if summaries == nil {
		summaries = []domain.ConversationSummary{}
	}
	ctx.JSON(http.StatusOK, summaries)
}

type createConversationRequest struct {
	Username string `json:"username" binding:"required"`
}

func (h *ChatHandler) CreateConversationHandler(ctx *gin.Context) {
	id, ok := userIdOf(ctx)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.String(http.StatusBadRequest, ErrInvalidRequestFormatStr)
		ctx.Abort()
		return
	}

	peer, err := h.users.GetUserByUsername(ctx.Request.Context(), req.Username)
	if err != nil {
		respondError(ctx, "CreateConversation", err)
		return
	}
	if peer.Id == id {
		respondError(ctx, "CreateConversation", domain.ErrSelfConversation)
		return
	}

	conv, err := h.conversations.GetOrCreateDirectConversation(ctx.Request.Context(), id, peer.Id)
	if err != nil {
		respondError(ctx, "CreateConversation", err)
		return
	}

	ctx.JSON(http.StatusOK, domain.ConversationSummary{
		Id:            conv.Id,
		PeerId:        peer.Id,
		PeerUsername:  peer.Username,
		LastMessageAt: conv.CreatedAt,
	})
}

type messagesPage struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

func (h *ChatHandler) ListMessagesHandler(ctx *gin.Context) {
	id, ok := userIdOf(ctx)
	if !ok {
		return
	}

	limit := HistoryPageSize
	if v := ctx.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			ctx.String(http.StatusBadRequest, ErrInvalidRequestFormatStr)
			ctx.Abort()
			return
		}
		limit = min(n, MaxHistoryPage)
	}
	var before time.Time
	if v := ctx.Query("before"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			ctx.String(http.StatusBadRequest, ErrInvalidRequestFormatStr)
			ctx.Abort()
			return
		}
		if ms > 0 {
			before = time.UnixMilli(ms)
		}
	}

	conv, err := h.conversations.GetConversation(ctx.Request.Context(), ctx.Param("id"), id)
	if err != nil {
		respondError(ctx, "ListMessages", err)
		return
	}

	msgs, hasMore, err := h.messages.ListMessages(ctx.Request.Context(), conv.Id, before, limit)
	if err != nil {
		respondError(ctx, "ListMessages", err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	ctx.JSON(http.StatusOK, messagesPage{Messages: msgs, HasMore: hasMore})
}

func (h *ChatHandler) WebsocketHandler(ctx *gin.Context) {
	id, ok := userIdOf(ctx)
	if !ok {
		return
	}

	conv, err := h.conversations.GetConversation(ctx.Request.Context(), ctx.Param("id"), id)
	if err != nil {
		respondError(ctx, "Websocket", err)
		return
	}

	user, err := h.users.GetUserById(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			ctx.String(http.StatusUnauthorized, ErrUserNotFoundStr)
			ctx.Abort()
			return
		}
		respondError(ctx, "Websocket", err)
		return
	}

	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("ip", ctx.ClientIP()).Msg("Websocket: upgrade failed")
		return
	}
	socket := NewWebsocketConnection(conn)

	s := NewSession(id, user.Username, *h.limits.Load())
	joinCtx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	if err := h.hub.Join(joinCtx, conv, s); err != nil {
		code := ErrUnknownStr
		if errors.Is(err, ErrRoomFull) || errors.Is(err, ErrRoomBusy) || errors.Is(err, ErrHubStopped) {
			code = err.Error()
		} else {
			log.Error().Err(err).Str("room", conv.Id).Str("user_id", id).Msg("Websocket: join failed")
		}
		s.CancelAndRelease()
		socket.Close(code)
		return
	}

	go s.WritePump(socket)
	go s.ReadPump(socket)
}
