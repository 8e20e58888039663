package chat

import (
	"chatus/domain"
	"context"
	"time"
)

type NetworkSession interface {
	Close(errCode string)
	Write(data []byte) error
	Read() ([]byte, error)
	Ping() error
}

type MessageStore interface {
	InsertMessage(ctx context.Context, conversationId, senderId, text string) (domain.Message, error)
	UpdateMessageText(ctx context.Context, conversationId, messageId, senderId, text string) (domain.Message, error)
	DeleteMessage(ctx context.Context, conversationId, messageId, senderId string) (domain.Message, error)
	ListMessages(ctx context.Context, conversationId string, before time.Time, limit int) ([]domain.Message, bool, error)
	MarkRead(ctx context.Context, conversationId, userId, messageId string) error
}

type ConversationStore interface {
	GetOrCreateDirectConversation(ctx context.Context, userId, peerId string) (domain.Conversation, error)
	GetConversation(ctx context.Context, conversationId, userId string) (domain.Conversation, error)
	ListConversations(ctx context.Context, userId string) ([]domain.ConversationSummary, error)
}

type UserGetter interface {
	GetUserById(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
}

type PeriodicTickerChannelCreator interface {
	Create(duration time.Duration) (<-chan time.Time, func())
}

// Session is one websocket connection of a user.
type Session interface {
	UserId() string
	Username() string
	Send(data []byte) error
	Ping()
	SetRoom(r Room)
	CancelAndRelease()
}

type Room interface {
	Id() string
	Send(ctx context.Context, e ClientPacketEnvelope)
	RemoveMe(ctx context.Context, s Session)
	RequestJoin(jreq roomJoinRequest)
	Tick(now time.Time)
	PingSessions()
	Run()
	CloseAndRelease()
}

type Hub interface {
	Join(ctx context.Context, conv domain.Conversation, s Session) error
	RemoveRoom(roomId string)
}
