package domain

import "time"

// Contact identifier classes derived from the address suffix.
const (
	ContactPersonal = "personal"
	ContactLid      = "lid"
	ContactGroup    = "group"
	ContactOther    = "other"
)

// Contact is a history-replay contact record, upserted keyed by
// (SessionID, PhoneNumber).
type Contact struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	SessionID    string    `json:"session_id" gorm:"size:36;uniqueIndex:uniq_session_phone"`
	PhoneNumber  string    `json:"phone_number" gorm:"size:64;uniqueIndex:uniq_session_phone"`
	Name         string    `json:"name" gorm:"size:200"`
	VerifiedName string    `json:"verified_name" gorm:"size:200"`
	Identifier   string    `json:"identifier" gorm:"index;size:20"`
	Value        string    `json:"value,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}
