package domain

import "time"

// Ack codes as reported by the protocol, with their symbolic names.
const (
	AckPending   = 1
	AckServer    = 2
	AckDelivered = 3
	AckRead      = 4
	AckPlayed    = 5
)

// AckString maps a protocol ack code to its symbolic form. A message
// counts as read once the ack reaches read or played.
func AckString(ack int) string {
	switch ack {
	case AckPending:
		return "pending"
	case AckServer:
		return "sent"
	case AckDelivered:
		return "delivered"
	case AckRead:
		return "read"
	case AckPlayed:
		return "played"
	case 0:
		return "unknown"
	default:
		return "error"
	}
}

// AckIsRead reports whether the ack code counts as read.
func AckIsRead(ack int) bool {
	return ack == AckRead || ack == AckPlayed
}

// Message is one accepted inbound (or sent) message row. Upserts are
// keyed by (SessionID, MessageID) so retried deliveries deduplicate.
type Message struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	SessionID        string    `json:"session_id" gorm:"index;size:36;uniqueIndex:uniq_session_message"`
	MessageID        string    `json:"message_id" gorm:"size:100;uniqueIndex:uniq_session_message"`
	RemoteJID        string    `json:"remote_jid" gorm:"column:remote_jid;index;size:100"`
	PushName         string    `json:"push_name,omitempty" gorm:"size:100"`
	FromMe           bool      `json:"from_me" gorm:"index"`
	IsRead           bool      `json:"is_read" gorm:"index"`
	IsMedia          bool      `json:"is_media"`
	MediaURL         string    `json:"media_url,omitempty" gorm:"column:media_url;size:500"`
	MediaType        string    `json:"media_type,omitempty" gorm:"size:100"`
	Ack              int       `json:"ack"`
	AckString        string    `json:"ack_string" gorm:"index;size:100"`
	Event            string    `json:"event" gorm:"size:100"`
	Data             string    `json:"data,omitempty" gorm:"type:text"`
	MessageText      string    `json:"message_text,omitempty" gorm:"type:text"`
	MessageTimestamp int64     `json:"message_timestamp" gorm:"index"`
	CreatedAt        time.Time `json:"created_at" gorm:"index"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}
