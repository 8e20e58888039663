package chat

import "errors"

var (
	ErrRoomFull       = errors.New("room-full")
	ErrRoomClosed     = errors.New("room-closed")
	ErrRoomBusy       = errors.New("room-busy")
	ErrSendBufferFull = errors.New("send-buffer-full")
	ErrHubStopped     = errors.New("hub-stopped")

	ErrEmptyMessage    = errors.New("empty-message")
	ErrMessageTooLong  = errors.New("message-too-long")
	ErrRateLimited     = errors.New("rate-limited")
	ErrOpponentOffline = errors.New("opponent-offline")
	ErrGameInProgress  = errors.New("game-in-progress")
	ErrNoGame          = errors.New("no-game")
	ErrUnknownCanvasOp = errors.New("unknown-canvas-op")
)
