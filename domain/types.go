package domain

import "time"

type User struct {
	Id           string
	Username     string
	PasswordHash string
}

// Conversation is a private one-to-one channel between two users.
type Conversation struct {
	Id        string
	MemberIds [2]string
	CreatedAt time.Time
}

// ConversationSummary is what a user sees in their conversation list.
type ConversationSummary struct {
	Id            string    `json:"id"`
	PeerId        string    `json:"peerId"`
	PeerUsername  string    `json:"peerUsername"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
}

type Message struct {
	Id             string     `json:"id"`
	ConversationId string     `json:"conversationId"`
	SenderId       string     `json:"senderId"`
	SenderName     string     `json:"senderName"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"createdAt"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
	Deleted        bool       `json:"deleted"`
}
