package domain

import "time"

// Pipeline stages. StageIncoming is the default assigned on creation; an
// operator-chosen stage is sticky and never overridden by inbound traffic.
const (
	StageIncoming      = "incoming"
	StageQualification = "qualification"
	StageProposal      = "proposal"
	StageClosing       = "closing"
)

// Conversation groups all messages exchanged with one contact under one
// account. LastMessageAt only moves forward.
type Conversation struct {
	ID             int64     `json:"id,string" gorm:"primaryKey"`
	AccountID      string    `json:"account_id" gorm:"uniqueIndex:ux_conv_account_contact,priority:1"`
	ContactID      int64     `json:"contact_id,string" gorm:"uniqueIndex:ux_conv_account_contact,priority:2"`
	Stage          string    `json:"stage"`
	Source         string    `json:"source"`
	Classification string    `json:"classification"`
	ValueCents     int64     `json:"value_cents"`
	IsOpen         bool      `json:"is_open"`
	LastMessageAt  time.Time `json:"last_message_at" gorm:"index"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName Specify table name
func (Conversation) TableName() string {
	return "wa_conversation"
}
