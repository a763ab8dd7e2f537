package types

import (
	"time"

	"github.com/google/uuid"
)

// Message is the flat record returned on creation and read-status updates.
type Message struct {
	ID           uuid.UUID  `json:"id"`
	FromUsername string     `json:"from_username"`
	ToUsername   string     `json:"to_username"`
	Body         string     `json:"body"`
	SentAt       time.Time  `json:"sent_at"`
	ReadAt       *time.Time `json:"read_at"`
}

// MessageDetail embeds both parties' public profiles.
type MessageDetail struct {
	ID       uuid.UUID     `json:"id"`
	Body     string        `json:"body"`
	SentAt   time.Time     `json:"sent_at"`
	ReadAt   *time.Time    `json:"read_at"`
	FromUser PublicProfile `json:"from_user"`
	ToUser   PublicProfile `json:"to_user"`
}

// SentMessage is an outbox row: the recipient's profile is embedded.
type SentMessage struct {
	ID     uuid.UUID     `json:"id"`
	ToUser PublicProfile `json:"to_user"`
	Body   string        `json:"body"`
	SentAt time.Time     `json:"sent_at"`
	ReadAt *time.Time    `json:"read_at"`
}

// ReceivedMessage is an inbox row: the sender's profile is embedded.
type ReceivedMessage struct {
	ID       uuid.UUID     `json:"id"`
	FromUser PublicProfile `json:"from_user"`
	Body     string        `json:"body"`
	SentAt   time.Time     `json:"sent_at"`
	ReadAt   *time.Time    `json:"read_at"`
}
