package whatsapp

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bjo163/wagate/internal/domain"
	"github.com/bjo163/wagate/internal/waproto"
	"github.com/bjo163/wagate/internal/webhook"
)

// Outbound message kinds.
const (
	KindText     = "text"
	KindImage    = "image"
	KindDocument = "document"
)

// OutgoingPayload is the content of one outbound message. Text
// messages use Text; media messages need URL or Buffer.
type OutgoingPayload struct {
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Buffer   []byte `json:"buffer,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

// SendMessage sends one message through a live session and returns the
// protocol message id. QuotedID, when set on a text message, references
// a stored message to reply to; an unknown id degrades to an unquoted
// send.
func (s *Service) SendMessage(ctx context.Context, name, to, kind string, payload *OutgoingPayload, quotedID string) (string, error) {
	rt := s.current(name)
	if rt == nil {
		return "", ErrSessionNotFound(name)
	}

	jid, err := NormalizeJID(to)
	if err != nil {
		return "", ErrInvalidRecipient(to)
	}

	var msgID string
	switch kind {
	case KindText:
		var quote *waproto.QuoteInfo
		if quotedID != "" {
			quote = s.lookupQuote(rt.session.ID, quotedID)
		}
		msgID, err = rt.sock.SendText(ctx, jid, payload.Text, quote)
	case KindImage, KindDocument:
		if payload.URL == "" && len(payload.Buffer) == 0 {
			return "", ErrMediaDataRequired(kind)
		}
		mediaKind := waproto.MediaImage
		if kind == KindDocument {
			mediaKind = waproto.MediaDocument
		}
		msgID, err = rt.sock.SendMedia(ctx, jid, mediaKind, &waproto.OutgoingMedia{
			URL:      payload.URL,
			Buffer:   payload.Buffer,
			Caption:  payload.Caption,
			FileName: payload.FileName,
			Mimetype: payload.Mimetype,
		})
	default:
		return "", ErrUnsupportedMessageType(kind)
	}
	if err != nil {
		zap.L().Error("message send failed",
			zap.String("session", name), zap.String("to", jid),
			zap.String("kind", kind), zap.Error(err))
		return "", ErrSendFailed(err)
	}

	zap.L().Info("message sent",
		zap.String("session", name), zap.String("to", jid),
		zap.String("kind", kind), zap.String("message_id", msgID))
	s.notifier.SendEvent(rt.session.ID, rt.session.WebhookURL, webhook.EventMessageSent, map[string]interface{}{
		"sessionName": name,
		"to":          jid,
		"messageType": kind,
		"messageId":   msgID,
		"timestamp":   time.Now().Unix(),
	})
	return msgID, nil
}

// lookupQuote resolves a stored message into quote context. A missing
// row is not an error.
func (s *Service) lookupQuote(sessionID, messageID string) *waproto.QuoteInfo {
	var msg domain.Message
	err := s.app.DB().
		Where("session_id = ? and message_id = ?", sessionID, messageID).
		First(&msg).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Warn("quote lookup failed", zap.String("message_id", messageID), zap.Error(err))
		}
		return nil
	}
	return &waproto.QuoteInfo{
		ID:     msg.MessageID,
		Sender: msg.RemoteJID,
		Text:   msg.MessageText,
	}
}

// SendRead marks messages as read. With an explicit id list only
// those are acked; otherwise every stored unread inbound message of
// the whole session is acked and flipped to read. A session without a
// live runtime is a silent no-op.
func (s *Service) SendRead(ctx context.Context, sess *domain.Session, to string, messageIDs []string) error {
	rt := s.current(sess.Name)
	if rt == nil {
		zap.L().Debug("sendRead skipped, session not live", zap.String("session", sess.Name))
		return nil
	}

	jid, err := NormalizeJID(to)
	if err != nil {
		return ErrInvalidRecipient(to)
	}

	if len(messageIDs) > 0 {
		if err := rt.sock.ReadMessages(ctx, jid, messageIDs); err != nil {
			return ErrSendFailed(err)
		}
		return nil
	}

	var unread []domain.Message
	err = s.app.DB().
		Where("session_id = ? and from_me = ? and is_read = ? and event = ?",
			sess.ID, false, false, webhook.EventMessageReceived).
		Find(&unread).Error
	if err != nil {
		return ErrDatabase(err)
	}
	if len(unread) == 0 {
		zap.L().Debug("sendRead found no unread messages",
			zap.String("session", sess.Name), zap.String("to", jid))
		return nil
	}

	ids := make([]string, 0, len(unread))
	rowIDs := make([]string, 0, len(unread))
	for _, m := range unread {
		ids = append(ids, m.MessageID)
		rowIDs = append(rowIDs, m.ID)
	}
	if err := rt.sock.ReadMessages(ctx, jid, ids); err != nil {
		return ErrSendFailed(err)
	}
	if err := s.app.DB().Model(&domain.Message{}).
		Where("id in ?", rowIDs).
		Update("is_read", true).Error; err != nil {
		return ErrDatabase(err)
	}
	return nil
}

// SendTyping publishes a composing presence in the chat.
func (s *Service) SendTyping(ctx context.Context, name, to string) error {
	return s.presence(ctx, name, to, waproto.PresenceComposing)
}

// StopTyping publishes a paused presence in the chat.
func (s *Service) StopTyping(ctx context.Context, name, to string) error {
	return s.presence(ctx, name, to, waproto.PresencePaused)
}

func (s *Service) presence(ctx context.Context, name, to, state string) error {
	rt := s.current(name)
	if rt == nil {
		return nil
	}
	jid, err := NormalizeJID(to)
	if err != nil {
		return ErrInvalidRecipient(to)
	}
	if err := rt.sock.SendPresence(ctx, jid, state); err != nil {
		return ErrSendFailed(err)
	}
	return nil
}
