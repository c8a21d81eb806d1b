package whatsapp

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/bjo163/wagate/internal/domain"
	"github.com/bjo163/wagate/internal/media"
	"github.com/bjo163/wagate/internal/waproto"
	"github.com/bjo163/wagate/internal/webhook"
	"github.com/bjo163/wagate/pkg/common"
)

const mediaResolveTimeout = 2 * time.Minute

func (s *Service) handleMessages(rt *runtime, envs []*waproto.Envelope, fromHistory bool) {
	for _, env := range envs {
		s.processEnvelope(rt, env, fromHistory)
	}
}

// processEnvelope classifies, persists and notifies one inbound
// message. Only single-party chat messages produce rows and webhooks;
// group and broadcast traffic is observed and dropped.
func (s *Service) processEnvelope(rt *runtime, env *waproto.Envelope, fromHistory bool) {
	if env == nil || env.Message == nil || env.Key.ID == "" {
		return
	}

	jid, err := NormalizeJID(env.Key.RemoteJID)
	if err != nil {
		zap.L().Warn("inbound message with unusable chat jid",
			zap.String("session", rt.session.Name),
			zap.String("remote_jid", env.Key.RemoteJID))
		return
	}

	if env.Message.IsControl() {
		zap.L().Debug("skipping protocol control message",
			zap.String("session", rt.session.Name), zap.String("message_id", env.Key.ID))
		return
	}

	if !IsUserJID(jid) {
		zap.L().Debug("skipping non-personal chat message",
			zap.String("session", rt.session.Name), zap.String("chat", jid))
		return
	}

	text := env.Message.Text()
	kind, ptr := media.Detect(env.Message)

	var mediaURL, mediaType string
	if ptr != nil {
		mediaType = ptr.Mimetype
		if mediaType == "" {
			mediaType = string(kind)
		}
		ctx, cancel := context.WithTimeout(context.Background(), mediaResolveTimeout)
		mediaURL, _ = s.media.Resolve(ctx, rt.sock, env, kind, ptr)
		cancel()
		// refresh may have rewritten the text alongside the pointers
		if t := env.Message.Text(); t != "" {
			text = t
		}
	}

	raw := env.Raw
	if len(raw) == 0 {
		if b, merr := json.Marshal(env); merr == nil {
			raw = b
		}
	}

	row := &domain.Message{
		ID:               common.UUIDv7(),
		SessionID:        rt.session.ID,
		MessageID:        env.Key.ID,
		RemoteJID:        jid,
		PushName:         env.PushName,
		FromMe:           env.Key.FromMe,
		IsRead:           domain.AckIsRead(env.Status),
		IsMedia:          ptr != nil,
		MediaURL:         mediaURL,
		MediaType:        mediaType,
		Ack:              env.Status,
		AckString:        domain.AckString(env.Status),
		Event:            webhook.EventMessageReceived,
		Data:             string(raw),
		MessageText:      text,
		MessageTimestamp: env.Timestamp,
	}
	err = s.app.DB().Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"message_text", "message_timestamp", "data",
			"is_media", "media_url", "media_type", "push_name", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		zap.L().Error("message persist failed",
			zap.String("session", rt.session.Name),
			zap.String("message_id", env.Key.ID), zap.Error(err))
	}

	// replayed history is announced once, in aggregate
	if fromHistory {
		return
	}

	s.notifier.SendEvent(rt.session.ID, rt.session.WebhookURL, webhook.EventMessageReceived, map[string]interface{}{
		"sessionName": rt.session.Name,
		"from":        jid,
		"pushName":    env.PushName,
		"messageId":   env.Key.ID,
		"fromMe":      env.Key.FromMe,
		"text":        text,
		"isMedia":     ptr != nil,
		"mediaUrl":    mediaURL,
		"message":     json.RawMessage(raw),
		"timestamp":   env.Timestamp,
	})
}

// handleMessageUpdates applies delivery-ack transitions to stored
// messages and forwards them to the webhook.
func (s *Service) handleMessageUpdates(rt *runtime, updates []waproto.MessageUpdate) {
	for _, upd := range updates {
		if upd.Status == 0 || upd.Key.ID == "" {
			continue
		}
		isRead := domain.AckIsRead(upd.Status)
		err := s.app.DB().Model(&domain.Message{}).
			Where("session_id = ? and message_id = ?", rt.session.ID, upd.Key.ID).
			Updates(map[string]interface{}{
				"ack":        upd.Status,
				"ack_string": domain.AckString(upd.Status),
				"is_read":    isRead,
			}).Error
		if err != nil {
			zap.L().Error("message ack update failed",
				zap.String("session", rt.session.Name),
				zap.String("message_id", upd.Key.ID), zap.Error(err))
			continue
		}

		s.notifier.SendEvent(rt.session.ID, rt.session.WebhookURL, webhook.EventMessageUpdate, map[string]interface{}{
			"sessionName": rt.session.Name,
			"messageId":   upd.Key.ID,
			"from":        upd.Key.RemoteJID,
			"ack":         upd.Status,
			"ackString":   domain.AckString(upd.Status),
			"isRead":      isRead,
			"timestamp":   time.Now().Unix(),
		})
	}
}
