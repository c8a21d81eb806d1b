package wameow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/guonaihong/gout"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/bjo163/wagate/internal/credstore"
	"github.com/bjo163/wagate/internal/waproto"
)

// Socket adapts one whatsmeow client to the gateway's socket contract.
type Socket struct {
	client *whatsmeow.Client
	state  *credstore.State

	mu       sync.Mutex
	handlers []func(evt interface{})
}

func newSocket(client *whatsmeow.Client, state *credstore.State) *Socket {
	s := &Socket{client: client, state: state}
	client.AddEventHandler(s.handleEvent)
	return s
}

func (s *Socket) AddEventHandler(handler func(evt interface{})) {
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

func (s *Socket) emit(evt interface{}) {
	s.mu.Lock()
	handlers := make([]func(interface{}), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

// Connect starts the handshake. An unregistered device first opens the
// QR channel so codes reach the orchestrator as connection updates.
func (s *Socket) Connect() error {
	if s.client.Store.ID == nil {
		qrChan, err := s.client.GetQRChannel(context.Background())
		if err != nil {
			zap.L().Debug("qr channel unavailable", zap.Error(err))
		} else {
			go s.watchQR(qrChan)
		}
	}
	return s.client.Connect()
}

func (s *Socket) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.emit(&waproto.ConnectionUpdate{QR: item.Code})
		case whatsmeow.QRChannelEventError:
			s.emit(&waproto.ConnectionUpdate{
				Connection: waproto.ConnectionClose,
				Reason:     fmt.Sprintf("qr channel error: %v", item.Error),
			})
		case "timeout":
			s.emit(&waproto.ConnectionUpdate{
				Connection: waproto.ConnectionClose,
				Reason:     "qr scan timeout",
			})
		}
	}
}

func (s *Socket) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		s.syncSelf()
		s.emit(&waproto.CredsUpdate{})
		s.emit(&waproto.ConnectionUpdate{Connection: waproto.ConnectionOpen})
	case *events.PairSuccess:
		s.syncSelf()
		s.emit(&waproto.CredsUpdate{})
	case *events.LoggedOut:
		s.emit(&waproto.ConnectionUpdate{
			Connection: waproto.ConnectionClose,
			LoggedOut:  true,
			Reason:     e.Reason.String(),
		})
	case *events.Disconnected:
		s.emit(&waproto.ConnectionUpdate{
			Connection: waproto.ConnectionClose,
			Reason:     "stream closed",
		})
	case *events.StreamReplaced:
		s.emit(&waproto.ConnectionUpdate{
			Connection: waproto.ConnectionClose,
			Reason:     "stream replaced",
		})
	case *events.Message:
		s.emit(&waproto.MessagesUpsert{
			Messages: []*waproto.Envelope{toEnvelope(e)},
			Type:     "notify",
		})
	case *events.Receipt:
		if updates := toUpdates(e); len(updates) > 0 {
			s.emit(&waproto.MessageUpdates{Updates: updates})
		}
	case *events.HistorySync:
		s.emit(toHistorySync(e))
	}
}

// syncSelf mirrors the device identity into the credential state so
// the next dial can find the stored device again.
func (s *Socket) syncSelf() {
	id := s.client.Store.ID
	if id == nil {
		return
	}
	if s.state.Creds.Me == nil {
		s.state.Creds.Me = &credstore.DeviceIdentity{}
	}
	s.state.Creds.Me.JID = id.String()
	s.state.Creds.Me.Phone = id.User
	s.state.Creds.Me.Name = s.client.Store.PushName
	s.state.Creds.Registered = true
}

func (s *Socket) Disconnect() {
	s.client.Disconnect()
}

func (s *Socket) Logout(ctx context.Context) error {
	if s.client.Store.ID == nil {
		s.client.Disconnect()
		return nil
	}
	return s.client.Logout(ctx)
}

func (s *Socket) IsRegistered() bool {
	return s.client.Store.ID != nil
}

func (s *Socket) SelfJID() string {
	if id := s.client.Store.ID; id != nil {
		return id.String()
	}
	return ""
}

func (s *Socket) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return s.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
}

func (s *Socket) SendText(ctx context.Context, to, text string, quote *waproto.QuoteInfo) (string, error) {
	jid, err := waTypes.ParseJID(to)
	if err != nil {
		return "", err
	}

	var msg *waE2E.Message
	if quote != nil {
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(text),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String(quote.ID),
					Participant:   proto.String(quote.Sender),
					QuotedMessage: &waE2E.Message{Conversation: proto.String(quote.Text)},
				},
			},
		}
	} else {
		msg = &waE2E.Message{Conversation: proto.String(text)}
	}

	resp, err := s.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (s *Socket) SendMedia(ctx context.Context, to string, kind waproto.MediaKind, media *waproto.OutgoingMedia) (string, error) {
	jid, err := waTypes.ParseJID(to)
	if err != nil {
		return "", err
	}

	data := media.Buffer
	if len(data) == 0 {
		if err := gout.GET(media.URL).SetTimeout(time.Minute).BindBody(&data).Do(); err != nil {
			return "", fmt.Errorf("fetch media from url: %w", err)
		}
	}

	var msg *waE2E.Message
	switch kind {
	case waproto.MediaImage:
		up, err := s.client.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return "", err
		}
		mimetype := media.Mimetype
		if mimetype == "" {
			mimetype = "image/jpeg"
		}
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       proto.String(media.Caption),
		}}
	case waproto.MediaDocument:
		up, err := s.client.Upload(ctx, data, whatsmeow.MediaDocument)
		if err != nil {
			return "", err
		}
		mimetype := media.Mimetype
		if mimetype == "" {
			mimetype = "application/octet-stream"
		}
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			FileName:      proto.String(media.FileName),
			Caption:       proto.String(media.Caption),
		}}
	default:
		return "", fmt.Errorf("unsupported outbound media kind %q", kind)
	}

	resp, err := s.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (s *Socket) ReadMessages(ctx context.Context, to string, ids []string) error {
	jid, err := waTypes.ParseJID(to)
	if err != nil {
		return err
	}
	msgIDs := make([]waTypes.MessageID, 0, len(ids))
	for _, id := range ids {
		msgIDs = append(msgIDs, waTypes.MessageID(id))
	}
	return s.client.MarkRead(ctx, msgIDs, time.Now(), jid, jid)
}

func (s *Socket) SendPresence(ctx context.Context, to, state string) error {
	jid, err := waTypes.ParseJID(to)
	if err != nil {
		return err
	}
	chatState := waTypes.ChatPresenceComposing
	if state == waproto.PresencePaused {
		chatState = waTypes.ChatPresencePaused
	}
	return s.client.SendChatPresence(ctx, jid, chatState, waTypes.ChatPresenceMediaText)
}

func (s *Socket) ResolveLID(ctx context.Context, jid string) (string, error) {
	lid, err := waTypes.ParseJID(jid)
	if err != nil {
		return "", err
	}
	pn, err := s.client.Store.LIDs.GetPNForLID(ctx, lid)
	if err != nil {
		return "", err
	}
	if pn.IsEmpty() {
		return "", fmt.Errorf("no phone number mapping for %s", jid)
	}
	return pn.String(), nil
}

// Download fetches media by its direct path. whatsmeow refreshes the
// media connection internally, so a retry after RefreshMedia goes out
// with fresh routing.
func (s *Socket) Download(ctx context.Context, ptr *waproto.MediaPointer) ([]byte, error) {
	mediaType := whatsmeow.MediaDocument
	switch {
	case strings.HasPrefix(ptr.Mimetype, "image/"):
		mediaType = whatsmeow.MediaImage
	case strings.HasPrefix(ptr.Mimetype, "video/"):
		mediaType = whatsmeow.MediaVideo
	case strings.HasPrefix(ptr.Mimetype, "audio/"):
		mediaType = whatsmeow.MediaAudio
	}
	return s.client.DownloadMediaWithPath(ctx,
		ptr.DirectPath, ptr.FileEncSHA256, ptr.FileSHA256, ptr.MediaKey,
		mediaType, "", false)
}

// RefreshMedia forces a fresh media connection for the next download
// attempt. The pointers themselves stay valid via their direct paths.
func (s *Socket) RefreshMedia(ctx context.Context, env *waproto.Envelope) error {
	_, err := s.client.DangerousInternals().RefreshMediaConn(ctx, true)
	return err
}
