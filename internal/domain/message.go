package domain

import "time"

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Delivery statuses, ordered by the provider ack ladder.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusPlayed    = "played"
)

// Message is append-only: after insert only Status may change. RawPayload
// keeps the opaque provider payload for later media extraction.
// ProviderMessageID carries a DB-level unique constraint as the backstop for
// the ingestion dedup check.
type Message struct {
	ID                int64     `json:"id,string" gorm:"primaryKey"`
	ConversationID    int64     `json:"conversation_id,string" gorm:"index"`
	Direction         string    `json:"direction"`
	Body              string    `json:"body"`
	RawPayload        string    `json:"-"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty" gorm:"uniqueIndex:ux_message_provider_id"`
	ReplyToProviderID string    `json:"reply_to_provider_id,omitempty"`
	Status            string    `json:"status"`
	MessageTimestamp  time.Time `json:"message_timestamp" gorm:"index"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName Specify table name
func (Message) TableName() string {
	return "wa_message"
}
