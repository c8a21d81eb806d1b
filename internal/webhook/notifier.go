// Package webhook delivers session events to per-session callback URLs
// through a persisted outbox. Every event is written to webhook_events
// before the first delivery attempt; failed rows are retried by the
// sweep service with exponential backoff until the retry cap.
package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guonaihong/gout"
	"go.uber.org/zap"

	"github.com/bjo163/wagate/internal/app"
	"github.com/bjo163/wagate/internal/domain"
	"github.com/bjo163/wagate/pkg/common"
)

const (
	userAgent      = "Wagate/1.0"
	requestTimeout = 10 * time.Second
)

// Event types published to webhooks.
const (
	EventSessionConnected    = "session.connected"
	EventSessionDisconnected = "session.disconnected"
	EventSessionRetry        = "session.retry"
	EventMessageReceived     = "message.received"
	EventMessageSent         = "message.sent"
	EventMessageUpdate       = "message.update"
	EventMessageHistorySet   = "message.history.set"
)

// envelope is the wire shape of one webhook POST body.
type envelope struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"eventType"`
	SessionID string                 `json:"sessionId"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Notifier persists and posts webhook events.
type Notifier struct {
	app app.AppContext
}

func NewNotifier(a app.AppContext) *Notifier {
	return &Notifier{app: a}
}

// SendEvent records the event in the outbox and attempts delivery once
// inline. A session without a webhook URL drops the event silently.
func (n *Notifier) SendEvent(sessionID, webhookURL, eventType string, data map[string]interface{}) {
	if webhookURL == "" {
		zap.L().Debug("no webhook url configured, skipping event",
			zap.String("session_id", sessionID), zap.String("event_type", eventType))
		return
	}

	body, err := json.Marshal(envelope{
		ID:        common.UUIDv7(),
		EventType: eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		zap.L().Error("webhook payload marshal failed", zap.Error(err))
		return
	}

	ev := &domain.WebhookEvent{
		ID:            common.UUIDv7(),
		SessionID:     sessionID,
		EventType:     eventType,
		EventData:     string(body),
		WebhookURL:    webhookURL,
		Status:        domain.WebhookStatusPending,
		NextAttemptAt: time.Now(),
	}
	if err := n.app.DB().Create(ev).Error; err != nil {
		zap.L().Error("webhook outbox insert failed",
			zap.String("event_type", eventType), zap.Error(err))
		// still try to deliver, the event is already built
	}

	n.attempt(ev)
}

// attempt posts the stored payload and updates the outbox row.
func (n *Notifier) attempt(ev *domain.WebhookEvent) {
	err := post(ev.WebhookURL, ev.ID, ev.EventData)
	if err != nil {
		zap.L().Warn("webhook delivery failed",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.EventType),
			zap.Int("retry_count", ev.RetryCount),
			zap.Error(err))
		n.markFailed(ev)
		return
	}
	ev.Status = domain.WebhookStatusSent
	if err := n.app.DB().Model(ev).Updates(map[string]interface{}{
		"status": domain.WebhookStatusSent,
	}).Error; err != nil {
		zap.L().Error("webhook outbox update failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

func (n *Notifier) markFailed(ev *domain.WebhookEvent) {
	base := n.app.ConfigMgr().GetInt64("webhook", "RetryBaseDelaySec")
	if base <= 0 {
		base = 30
	}
	ev.RetryCount++
	ev.Status = domain.WebhookStatusFailed
	ev.NextAttemptAt = time.Now().Add(time.Duration(base<<uint(ev.RetryCount-1)) * time.Second)
	if err := n.app.DB().Model(ev).Updates(map[string]interface{}{
		"status":          ev.Status,
		"retry_count":     ev.RetryCount,
		"next_attempt_at": ev.NextAttemptAt,
	}).Error; err != nil {
		zap.L().Error("webhook outbox update failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

func post(url, eventID, body string) error {
	var code int
	err := gout.POST(url).
		SetHeader(gout.H{
			"User-Agent":   userAgent,
			"X-Webhook-Id": eventID,
			"Content-Type": "application/json",
		}).
		SetBody(body).
		SetTimeout(requestTimeout).
		Code(&code).
		Do()
	if err != nil {
		return err
	}
	if code < 200 || code > 299 {
		return fmt.Errorf("webhook endpoint returned status %d", code)
	}
	return nil
}
