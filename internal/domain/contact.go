package domain

import "time"

// Contact is a counterpart phone number seen by an account. One row per
// (account, normalized phone); the name is refined over time but never
// cleared once set.
type Contact struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	AccountID string    `json:"account_id" gorm:"uniqueIndex:ux_contact_account_phone,priority:1"`
	PhoneE164 string    `json:"phone_e164" gorm:"uniqueIndex:ux_contact_account_phone,priority:2"`
	Name      string    `json:"name"`
	PhotoURL  string    `json:"photo_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (Contact) TableName() string {
	return "wa_contact"
}
