package domain

import "time"

// Session status values. Transitions are driven by protocol events or
// explicit lifecycle operations only.
const (
	SessionStatusQRRequired   = "qr_required"
	SessionStatusConnecting   = "connecting"
	SessionStatusConnected    = "connected"
	SessionStatusDisconnected = "disconnected"
)

// Pairing status values for pairing-code sessions.
const (
	PairingStatusPending = "pending"
	PairingStatusPaired  = "paired"
)

// Session is one tenant's persistent WhatsApp identity. At most one
// live runtime exists per Name at any time.
type Session struct {
	ID            string     `json:"id" gorm:"primaryKey;size:36"`
	Name          string     `json:"session_name" gorm:"column:session_name;uniqueIndex;size:100"`
	PhoneNumber   string     `json:"phone_number" gorm:"index;size:20"`
	Status        string     `json:"status" gorm:"index;size:20"`
	QrCode        string     `json:"qr_code,omitempty"`
	IsActive      bool       `json:"is_active"`
	WebhookURL    string     `json:"webhook_url,omitempty" gorm:"column:webhook_url"`
	IsPairingCode bool       `json:"is_pairing_code"`
	PairingStatus string     `json:"pairing_status,omitempty" gorm:"size:20"`
	PairingCode   string     `json:"pairing_code,omitempty" gorm:"size:20"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Session) TableName() string {
	return "sessions"
}
