package domain

import "time"

// SessionDetail holds one credential record for a session. Name is
// either "creds" or "<category>-<id>"; Value is an opaque JSON
// document owned by the protocol layer.
type SessionDetail struct {
	SessionID string    `json:"session_id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"primaryKey;size:256;index"`
	Value     string    `json:"value" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SessionDetail) TableName() string {
	return "session_details"
}
