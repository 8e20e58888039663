package chat

import (
	"chatus/domain"
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// --- NetworkSession ---

type MockWebsocketConnection struct {
	mock.Mock
}

func (m *MockWebsocketConnection) Close(errCode string) {
	m.Called(errCode)
}

func (m *MockWebsocketConnection) Write(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockWebsocketConnection) Read() ([]byte, error) {
	args := m.Called()
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockWebsocketConnection) Ping() error {
	args := m.Called()
	return args.Error(0)
}

// --- MessageStore ---

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) InsertMessage(ctx context.Context, conversationId, senderId, text string) (domain.Message, error) {
	args := m.Called(ctx, conversationId, senderId, text)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *MockMessageStore) UpdateMessageText(ctx context.Context, conversationId, messageId, senderId, text string) (domain.Message, error) {
	args := m.Called(ctx, conversationId, messageId, senderId, text)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *MockMessageStore) DeleteMessage(ctx context.Context, conversationId, messageId, senderId string) (domain.Message, error) {
	args := m.Called(ctx, conversationId, messageId, senderId)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *MockMessageStore) ListMessages(ctx context.Context, conversationId string, before time.Time, limit int) ([]domain.Message, bool, error) {
	args := m.Called(ctx, conversationId, before, limit)
	return args.Get(0).([]domain.Message), args.Bool(1), args.Error(2)
}

func (m *MockMessageStore) MarkRead(ctx context.Context, conversationId, userId, messageId string) error {
	args := m.Called(ctx, conversationId, userId, messageId)
	return args.Error(0)
}

// --- ConversationStore ---

type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) GetOrCreateDirectConversation(ctx context.Context, userId, peerId string) (domain.Conversation, error) {
	args := m.Called(ctx, userId, peerId)
	return args.Get(0).(domain.Conversation), args.Error(1)
}

func (m *MockConversationStore) GetConversation(ctx context.Context, conversationId, userId string) (domain.Conversation, error) {
	args := m.Called(ctx, conversationId, userId)
	return args.Get(0).(domain.Conversation), args.Error(1)
}

func (m *MockConversationStore) ListConversations(ctx context.Context, userId string) ([]domain.ConversationSummary, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]domain.ConversationSummary), args.Error(1)
}

// --- UserGetter ---

type MockUserGetter struct {
	mock.Mock
}

func (m *MockUserGetter) GetUserById(ctx context.Context, id string) (domain.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.User), args.Error(1)
}

func (m *MockUserGetter) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(domain.User), args.Error(1)
}

// --- PeriodicTickerChannelCreator ---

type MockPeriodicTickerChannelCreator struct {
	mock.Mock
}

func (m *MockPeriodicTickerChannelCreator) Create(duration time.Duration) (<-chan time.Time, func()) {
	args := m.Called(duration)
	return args.Get(0).(chan time.Time), func() {}
}

// --- Session ---

type MockSession struct {
	mock.Mock
}

func (m *MockSession) UserId() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSession) Username() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSession) Send(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockSession) Ping() {
	m.Called()
}

func (m *MockSession) SetRoom(r Room) {
	m.Called(r)
}

func (m *MockSession) CancelAndRelease() {
	m.Called()
}

// --- Room ---

type MockRoom struct {
	mock.Mock
}

func (m *MockRoom) Id() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockRoom) Send(ctx context.Context, e ClientPacketEnvelope) {
	m.Called(ctx, e)
}

func (m *MockRoom) RemoveMe(ctx context.Context, s Session) {
	m.Called(ctx, s)
}

func (m *MockRoom) RequestJoin(jreq roomJoinRequest) {
	m.Called(jreq)
}

func (m *MockRoom) Tick(now time.Time) {
	m.Called(now)
}

func (m *MockRoom) PingSessions() {
	m.Called()
}

func (m *MockRoom) Run() {
	m.Called()
}

func (m *MockRoom) CloseAndRelease() {
	m.Called()
}

// --- Hub ---

type MockHub struct {
	mock.Mock
}

func (m *MockHub) Join(ctx context.Context, conv domain.Conversation, s Session) error {
	args := m.Called(ctx, conv, s)
	return args.Error(0)
}

func (m *MockHub) RemoveRoom(roomId string) {
	m.Called(roomId)
}
