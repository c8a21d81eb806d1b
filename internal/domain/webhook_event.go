package domain

import "time"

// Webhook delivery states.
const (
	WebhookStatusPending = "pending"
	WebhookStatusSent    = "sent"
	WebhookStatusFailed  = "failed"
)

// WebhookEvent is a persisted outbox row for one callback delivery.
// Failed rows are swept by the retry job until RetryCount reaches the
// configured cap.
type WebhookEvent struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	SessionID     string    `json:"session_id" gorm:"index;size:36"`
	EventType     string    `json:"event_type" gorm:"size:50"`
	EventData     string    `json:"event_data" gorm:"type:text"`
	WebhookURL    string    `json:"webhook_url" gorm:"column:webhook_url;size:500"`
	Status        string    `json:"status" gorm:"index;size:20"`
	RetryCount    int       `json:"retry_count"`
	NextAttemptAt time.Time `json:"next_attempt_at" gorm:"index"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
