package domain

import "time"

const (
	IntegrationProviderCloud = "cloud"

	IntegrationStatusPending   = "pending"
	IntegrationStatusConnected = "connected"
)

// ChannelIntegration stores the Cloud API channel credentials for an
// account. The first webhook delivery routed through the integration flips
// Status to connected.
type ChannelIntegration struct {
	ID            int64     `json:"id,string" gorm:"primaryKey"`
	AccountID     string    `json:"account_id" gorm:"uniqueIndex"`
	Provider      string    `json:"provider"`
	Status        string    `json:"status"`
	PhoneNumberID string    `json:"phone_number_id" gorm:"index"`
	VerifyToken   string    `json:"-" gorm:"index"`
	AccessToken   string    `json:"-"`
	WebhookURL    string    `json:"webhook_url"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName Specify table name
func (ChannelIntegration) TableName() string {
	return "wa_channel_integration"
}
