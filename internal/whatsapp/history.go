package whatsapp

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/clause"

	"github.com/bjo163/wagate/internal/domain"
	"github.com/bjo163/wagate/internal/waproto"
	"github.com/bjo163/wagate/internal/webhook"
	"github.com/bjo163/wagate/pkg/common"
)

// handleHistorySync replays one history chunk. Message and contact
// streams are independent and run concurrently; the aggregate webhook
// fires only after both finish.
func (s *Service) handleHistorySync(rt *runtime, e *waproto.HistorySync) {
	cfg := s.app.Config().Whatsapp

	var g errgroup.Group
	if cfg.SyncHistory && len(e.Messages) > 0 {
		msgs := e.Messages
		g.Go(func() error {
			s.handleMessages(rt, msgs, true)
			return nil
		})
	}
	if cfg.SyncContacts && len(e.Contacts) > 0 {
		contacts := e.Contacts
		g.Go(func() error {
			s.syncContacts(rt, contacts)
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("history chunk processed",
		zap.String("session", rt.session.Name),
		zap.Int("messages", len(e.Messages)),
		zap.Int("contacts", len(e.Contacts)),
		zap.Bool("is_latest", e.IsLatest))

	s.notifier.SendEvent(rt.session.ID, rt.session.WebhookURL, webhook.EventMessageHistorySet, map[string]interface{}{
		"sessionName": rt.session.Name,
		"messages":    len(e.Messages),
		"contacts":    len(e.Contacts),
		"isLatest":    e.IsLatest,
	})
}

// syncContacts classifies and upserts replayed contacts. Broadcast
// addresses carry no contact identity and are dropped; lid aliases are
// resolved to their phone-number form when the server can.
func (s *Service) syncContacts(rt *runtime, contacts []waproto.WireContact) {
	for _, c := range contacts {
		if c.JID == "" || IsBroadcastJID(c.JID) {
			continue
		}

		identifier := domain.ContactOther
		phone := JIDUser(c.JID)
		switch {
		case IsUserJID(c.JID):
			identifier = domain.ContactPersonal
		case IsLidJID(c.JID):
			identifier = domain.ContactLid
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if resolved, err := rt.sock.ResolveLID(ctx, c.JID); err == nil && resolved != "" {
				phone = JIDUser(resolved)
			}
			cancel()
		case IsGroupJID(c.JID):
			identifier = domain.ContactGroup
		}

		name := c.Name
		if name == "" {
			name = c.VerifiedName
		}
		if name == "" {
			name = c.Notify
		}

		row := &domain.Contact{
			ID:           common.UUIDv7(),
			SessionID:    rt.session.ID,
			PhoneNumber:  phone,
			Name:         name,
			VerifiedName: c.VerifiedName,
			Identifier:   identifier,
			Value:        c.JID,
		}
		err := s.app.DB().Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}, {Name: "phone_number"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "verified_name", "identifier", "value", "updated_at",
			}),
		}).Create(row).Error
		if err != nil {
			zap.L().Error("contact upsert failed",
				zap.String("session", rt.session.Name),
				zap.String("phone", phone), zap.Error(err))
		}
	}
}
