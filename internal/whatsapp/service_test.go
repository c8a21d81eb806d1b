package whatsapp_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bjo163/wagate/config"
	"github.com/bjo163/wagate/internal/app"
	"github.com/bjo163/wagate/internal/credstore"
	"github.com/bjo163/wagate/internal/domain"
	"github.com/bjo163/wagate/internal/media"
	"github.com/bjo163/wagate/internal/waproto"
	"github.com/bjo163/wagate/internal/whatsapp"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "wagate.db")),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(domain.Tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeSocket struct {
	mu       sync.Mutex
	handlers []func(interface{})

	registered  bool
	self        string
	pairingCode string

	sendErr      error
	downloadData []byte
	downloadErr  error
	refreshErr   error
	refreshed    bool

	sentTexts  []string
	sentMedia  []waproto.MediaKind
	readChats  []string
	readIDs    [][]string
	presences  []string
	lidMap     map[string]string
	loggedOut  bool
	downloads  int
	disconnects int
}

func (f *fakeSocket) AddEventHandler(h func(evt interface{})) {
	f.mu.Lock()
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
}

func (f *fakeSocket) emit(evt interface{}) {
	f.mu.Lock()
	handlers := append([]func(interface{}){}, f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (f *fakeSocket) Connect() error { return nil }
func (f *fakeSocket) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}
func (f *fakeSocket) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.loggedOut = true
	f.mu.Unlock()
	return nil
}
func (f *fakeSocket) IsRegistered() bool { return f.registered }
func (f *fakeSocket) SelfJID() string    { return f.self }

func (f *fakeSocket) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if f.pairingCode == "" {
		return "", errors.New("pairing unavailable")
	}
	return f.pairingCode, nil
}

func (f *fakeSocket) SendText(ctx context.Context, to, text string, quote *waproto.QuoteInfo) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.mu.Lock()
	f.sentTexts = append(f.sentTexts, text)
	f.mu.Unlock()
	return fmt.Sprintf("MSG-%d", len(f.sentTexts)), nil
}

func (f *fakeSocket) SendMedia(ctx context.Context, to string, kind waproto.MediaKind, m *waproto.OutgoingMedia) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.mu.Lock()
	f.sentMedia = append(f.sentMedia, kind)
	f.mu.Unlock()
	return "MEDIA-1", nil
}

func (f *fakeSocket) ReadMessages(ctx context.Context, to string, ids []string) error {
	f.mu.Lock()
	f.readChats = append(f.readChats, to)
	f.readIDs = append(f.readIDs, ids)
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) SendPresence(ctx context.Context, to, state string) error {
	f.mu.Lock()
	f.presences = append(f.presences, state)
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) ResolveLID(ctx context.Context, jid string) (string, error) {
	if pn, ok := f.lidMap[jid]; ok {
		return pn, nil
	}
	return "", errors.New("no mapping")
}

func (f *fakeSocket) Download(ctx context.Context, ptr *waproto.MediaPointer) ([]byte, error) {
	f.mu.Lock()
	f.downloads++
	fail := f.downloadErr != nil && !f.refreshed
	f.mu.Unlock()
	if fail {
		return nil, f.downloadErr
	}
	return f.downloadData, nil
}

func (f *fakeSocket) RefreshMedia(ctx context.Context, env *waproto.Envelope) error {
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.mu.Lock()
	f.refreshed = true
	f.mu.Unlock()
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	next    *fakeSocket
	dialErr error
}

func (f *fakeFactory) Dial(ctx context.Context, state *credstore.State) (waproto.Socket, error) {
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sock := f.next
	if sock == nil {
		sock = &fakeSocket{}
	}
	f.next = nil
	f.sockets = append(f.sockets, sock)
	return sock, nil
}

func (f *fakeFactory) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sockets)
}

func (f *fakeFactory) last() *fakeSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sockets) == 0 {
		return nil
	}
	return f.sockets[len(f.sockets)-1]
}

type notifiedEvent struct {
	session   string
	url       string
	eventType string
	data      map[string]interface{}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notifiedEvent
}

func (n *fakeNotifier) SendEvent(sessionID, webhookURL, eventType string, data map[string]interface{}) {
	n.mu.Lock()
	n.events = append(n.events, notifiedEvent{sessionID, webhookURL, eventType, data})
	n.mu.Unlock()
}

func (n *fakeNotifier) byType(eventType string) []notifiedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifiedEvent
	for _, e := range n.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeStorage struct {
	mu      sync.Mutex
	uploads []string
}

func (s *fakeStorage) Upload(ctx context.Context, data []byte, path string, contentType string) (string, error) {
	s.mu.Lock()
	s.uploads = append(s.uploads, path)
	s.mu.Unlock()
	return "https://cdn.test/" + path, nil
}

type fixture struct {
	svc      *whatsapp.Service
	factory  *fakeFactory
	notifier *fakeNotifier
	storage  *fakeStorage
	db       *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	cfg := &config.AppConfig{
		Whatsapp: config.WhatsappConfig{
			SyncHistory:       true,
			SyncContacts:      true,
			ReconnectDelaySec: 1,
		},
	}
	a := app.NewApplication(cfg)
	a.OverrideDB(db)

	factory := &fakeFactory{}
	notifier := &fakeNotifier{}
	storage := &fakeStorage{}
	svc := whatsapp.NewService(a, factory, notifier, media.NewResolver(storage, "test-media"))
	return &fixture{svc: svc, factory: factory, notifier: notifier, storage: storage, db: db}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func apiCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *whatsapp.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	return apiErr.Code
}

func personalEnvelope(id, chat, text string) *waproto.Envelope {
	return &waproto.Envelope{
		Key:       waproto.MessageKey{RemoteJID: chat, ID: id},
		Message:   &waproto.WireMessage{Conversation: text},
		PushName:  "Tester",
		Timestamp: time.Now().Unix(),
	}
}

func TestCreateSessionStartsRuntime(t *testing.T) {
	fx := newFixture(t)

	sess, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.Status != domain.SessionStatusConnecting {
		t.Fatalf("status = %q, want connecting", sess.Status)
	}
	if fx.factory.dials() != 1 {
		t.Fatalf("dials = %d, want 1", fx.factory.dials())
	}

	status, err := fx.svc.GetSessionStatus("acme")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Live {
		t.Fatal("expected live runtime")
	}
}

func TestCreateSessionDuplicateIsConflict(t *testing.T) {
	fx := newFixture(t)

	if _, err := fx.svc.CreateSession(context.Background(), "acme", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := fx.svc.CreateSession(context.Background(), "acme", "", "")
	if code := apiCode(t, err); code != "SESSION_IS_ACTIVE" {
		t.Fatalf("code = %q, want SESSION_IS_ACTIVE", code)
	}
}

func TestCreateSessionReactivatesInactiveRow(t *testing.T) {
	fx := newFixture(t)
	first, err := fx.svc.CreateSession(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fx.svc.Shutdown()

	// the persisted row is still active, so create stays a conflict
	// even without a live runtime
	_, err = fx.svc.CreateSession(context.Background(), "acme", "", "")
	if code := apiCode(t, err); code != "SESSION_IS_ACTIVE" {
		t.Fatalf("code = %q, want SESSION_IS_ACTIVE", code)
	}

	fx.db.Model(&domain.Session{}).Where("id = ?", first.ID).
		Update("is_active", false)
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", "")
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if sess.ID != first.ID {
		t.Fatal("reactivation must keep the stored identity")
	}
	if !sess.IsActive || sess.WebhookURL != "https://hook.test/wa" {
		t.Fatalf("reactivated row = %+v", sess)
	}
}

func TestQRThenConnectedLifecycle(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	sock := fx.factory.last()

	sock.emit(&waproto.ConnectionUpdate{QR: "qr-payload-1"})

	var sess domain.Session
	if err := fx.db.Where("session_name = ?", "acme").First(&sess).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.Status != domain.SessionStatusQRRequired || sess.QrCode != "qr-payload-1" {
		t.Fatalf("after qr: status=%q qr=%q", sess.Status, sess.QrCode)
	}

	sock.self = "62811000@s.whatsapp.net"
	sock.emit(&waproto.ConnectionUpdate{Connection: waproto.ConnectionOpen})

	if err := fx.db.Where("session_name = ?", "acme").First(&sess).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if sess.Status != domain.SessionStatusConnected {
		t.Fatalf("status = %q, want connected", sess.Status)
	}
	if sess.QrCode != "" {
		t.Fatal("qr code must clear on connect")
	}
	if sess.PhoneNumber != "62811000" {
		t.Fatalf("phone = %q, want 62811000", sess.PhoneNumber)
	}
	if got := fx.notifier.byType("session.connected"); len(got) != 1 {
		t.Fatalf("session.connected events = %d, want 1", len(got))
	}
}

func TestTransientCloseSchedulesReconnect(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	fx.factory.last().emit(&waproto.ConnectionUpdate{
		Connection: waproto.ConnectionClose,
		Reason:     "stream error",
	})

	var sess domain.Session
	if err := fx.db.Where("session_name = ?", "acme").First(&sess).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.Status != domain.SessionStatusConnecting {
		t.Fatalf("status = %q, want connecting", sess.Status)
	}
	if got := fx.notifier.byType("session.retry"); len(got) != 1 {
		t.Fatalf("session.retry events = %d, want 1", len(got))
	}

	waitFor(t, 3*time.Second, func() bool { return fx.factory.dials() == 2 })
}

func TestDeleteCancelsPendingReconnect(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.svc.CreateSession(context.Background(), "acme", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	fx.factory.last().emit(&waproto.ConnectionUpdate{Connection: waproto.ConnectionClose})
	if err := fx.svc.DeleteSession(context.Background(), "acme"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)
	if fx.factory.dials() != 1 {
		t.Fatalf("dials after delete = %d, want 1", fx.factory.dials())
	}
	var count int64
	fx.db.Model(&domain.Session{}).Where("session_name = ?", "acme").Count(&count)
	if count != 0 {
		t.Fatal("session row should be gone")
	}
}

func TestLoggedOutPurgesSession(t *testing.T) {
	fx := newFixture(t)
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sock := fx.factory.last()
	sock.emit(&waproto.MessagesUpsert{
		Messages: []*waproto.Envelope{personalEnvelope("M1", "628123@s.whatsapp.net", "hi")},
		Type:     "notify",
	})

	sock.emit(&waproto.ConnectionUpdate{
		Connection: waproto.ConnectionClose,
		LoggedOut:  true,
		Reason:     "logged out",
	})

	var sessions, messages, details int64
	fx.db.Model(&domain.Session{}).Where("id = ?", sess.ID).Count(&sessions)
	fx.db.Model(&domain.Message{}).Where("session_id = ?", sess.ID).Count(&messages)
	fx.db.Model(&domain.SessionDetail{}).Where("session_id = ?", sess.ID).Count(&details)
	if sessions != 0 || messages != 0 || details != 0 {
		t.Fatalf("cascade incomplete: sessions=%d messages=%d details=%d", sessions, messages, details)
	}
	if got := fx.notifier.byType("session.disconnected"); len(got) != 1 {
		t.Fatalf("session.disconnected events = %d, want 1", len(got))
	}

	time.Sleep(1500 * time.Millisecond)
	if fx.factory.dials() != 1 {
		t.Fatal("logged-out session must not reconnect")
	}
}

func TestDeleteThenCreateStartsFresh(t *testing.T) {
	fx := newFixture(t)
	first, err := fx.svc.CreateSession(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := fx.svc.DeleteSession(context.Background(), "acme"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	second, err := fx.svc.CreateSession(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("recreated session must get a fresh identity")
	}
	var details int64
	fx.db.Model(&domain.SessionDetail{}).Where("session_id = ?", first.ID).Count(&details)
	if details != 0 {
		t.Fatal("old credentials must not survive deletion")
	}
}

func TestSendMessageValidation(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.SendMessage(context.Background(), "ghost", "628123", whatsapp.KindText,
		&whatsapp.OutgoingPayload{Text: "hi"}, "")
	if code := apiCode(t, err); code != "SESSION_NOT_FOUND" {
		t.Fatalf("code = %q, want SESSION_NOT_FOUND", code)
	}

	if _, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = fx.svc.SendMessage(context.Background(), "acme", "not a number", whatsapp.KindText,
		&whatsapp.OutgoingPayload{Text: "hi"}, "")
	if code := apiCode(t, err); code != "INVALID_WHATSAPP_NUMBER_FORMAT" {
		t.Fatalf("code = %q, want INVALID_WHATSAPP_NUMBER_FORMAT", code)
	}

	_, err = fx.svc.SendMessage(context.Background(), "acme", "628123", whatsapp.KindImage,
		&whatsapp.OutgoingPayload{}, "")
	if code := apiCode(t, err); code != "MEDIA_DATA_REQUIRED" {
		t.Fatalf("code = %q, want MEDIA_DATA_REQUIRED", code)
	}

	_, err = fx.svc.SendMessage(context.Background(), "acme", "628123", "location",
		&whatsapp.OutgoingPayload{}, "")
	if code := apiCode(t, err); code != "UNSUPPORTED_MESSAGE_TYPE" {
		t.Fatalf("code = %q, want UNSUPPORTED_MESSAGE_TYPE", code)
	}

	msgID, err := fx.svc.SendMessage(context.Background(), "acme", "628123", whatsapp.KindText,
		&whatsapp.OutgoingPayload{Text: "hello"}, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msgID == "" {
		t.Fatal("expected message id")
	}
	if got := fx.notifier.byType("message.sent"); len(got) != 1 {
		t.Fatalf("message.sent events = %d, want 1", len(got))
	}
}

func TestSendMessageFailureWrapsError(t *testing.T) {
	fx := newFixture(t)
	fx.factory.next = &fakeSocket{sendErr: errors.New("socket down")}
	if _, err := fx.svc.CreateSession(context.Background(), "acme", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := fx.svc.SendMessage(context.Background(), "acme", "628123", whatsapp.KindText,
		&whatsapp.OutgoingPayload{Text: "hi"}, "")
	if code := apiCode(t, err); code != "FAILED_TO_SEND_MESSAGE" {
		t.Fatalf("code = %q, want FAILED_TO_SEND_MESSAGE", code)
	}
}

func TestInboundPersonalMessagePersistsAndNotifies(t *testing.T) {
	fx := newFixture(t)
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fx.factory.last().emit(&waproto.MessagesUpsert{
		Messages: []*waproto.Envelope{personalEnvelope("M1", "628123:7@s.whatsapp.net", "hello there")},
		Type:     "notify",
	})

	var msg domain.Message
	if err := fx.db.Where("session_id = ? and message_id = ?", sess.ID, "M1").First(&msg).Error; err != nil {
		t.Fatalf("load message: %v", err)
	}
	if msg.RemoteJID != "628123@s.whatsapp.net" {
		t.Fatalf("remote jid not canonicalized: %q", msg.RemoteJID)
	}
	if msg.MessageText != "hello there" {
		t.Fatalf("text = %q", msg.MessageText)
	}
	if msg.Event != "message.received" {
		t.Fatalf("event = %q", msg.Event)
	}
	if got := fx.notifier.byType("message.received"); len(got) != 1 {
		t.Fatalf("message.received events = %d, want 1", len(got))
	}
}

func TestInboundGroupMessageIgnored(t *testing.T) {
	fx := newFixture(t)
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fx.factory.last().emit(&waproto.MessagesUpsert{
		Messages: []*waproto.Envelope{personalEnvelope("G1", "1203630456@g.us", "group chatter")},
		Type:     "notify",
	})

	var count int64
	fx.db.Model(&domain.Message{}).Where("session_id = ?", sess.ID).Count(&count)
	if count != 0 {
		t.Fatal("group message must not be persisted")
	}
	if got := fx.notifier.byType("message.received"); len(got) != 0 {
		t.Fatal("group message must not notify")
	}
}

func TestInboundControlMessageIgnored(t *testing.T) {
	fx := newFixture(t)
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	env := &waproto.Envelope{
		Key: waproto.MessageKey{RemoteJID: "628123@s.whatsapp.net", ID: "C1"},
		Message: &waproto.WireMessage{
			Protocol: &waproto.ProtocolMessage{Type: waproto.ProtoHistorySyncNotification},
		},
	}
	fx.factory.last().emit(&waproto.MessagesUpsert{Messages: []*waproto.Envelope{env}, Type: "notify"})

	var count int64
	fx.db.Model(&domain.Message{}).Where("session_id = ?", sess.ID).Count(&count)
	if count != 0 {
		t.Fatal("control message must not be persisted")
	}
}

func TestInboundUpsertDeduplicates(t *testing.T) {
	fx := newFixture(t)
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sock := fx.factory.last()

	sock.emit(&waproto.MessagesUpsert{
		Messages: []*waproto.Envelope{personalEnvelope("M1", "628123@s.whatsapp.net", "first")},
	})
	sock.emit(&waproto.MessagesUpsert{
		Messages: []*waproto.Envelope{personalEnvelope("M1", "628123@s.whatsapp.net", "edited")},
	})

	var msgs []domain.Message
	fx.db.Where("session_id = ?", sess.ID).Find(&msgs)
	if len(msgs) != 1 {
		t.Fatalf("rows = %d, want 1", len(msgs))
	}
	if msgs[0].MessageText != "edited" {
		t.Fatalf("text = %q, want edited", msgs[0].MessageText)
	}
}

func TestInboundMediaResolved(t *testing.T) {
	fx := newFixture(t)
	fx.factory.next = &fakeSocket{downloadData: []byte("jpegbytes")}
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	env := &waproto.Envelope{
		Key: waproto.MessageKey{RemoteJID: "628123@s.whatsapp.net", ID: "IMG1"},
		Message: &waproto.WireMessage{
			Image: &waproto.MediaPointer{Mimetype: "image/jpeg", Caption: "pic"},
		},
	}
	fx.factory.last().emit(&waproto.MessagesUpsert{Messages: []*waproto.Envelope{env}})

	var msg domain.Message
	if err := fx.db.Where("session_id = ? and message_id = ?", sess.ID, "IMG1").First(&msg).Error; err != nil {
		t.Fatalf("load message: %v", err)
	}
	if !msg.IsMedia {
		t.Fatal("expected media message")
	}
	want := "https://cdn.test/test-media/IMG1/"
	if len(msg.MediaURL) <= len(want) || msg.MediaURL[:len(want)] != want {
		t.Fatalf("media url = %q, want prefix %q", msg.MediaURL, want)
	}
	if msg.MediaType != "image/jpeg" {
		t.Fatalf("media type = %q", msg.MediaType)
	}
}

func TestInboundMediaFailureStillPersists(t *testing.T) {
	fx := newFixture(t)
	fx.factory.next = &fakeSocket{
		downloadErr: errors.New("url expired"),
		refreshErr:  errors.New("refresh unavailable"),
	}
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	env := &waproto.Envelope{
		Key: waproto.MessageKey{RemoteJID: "628123@s.whatsapp.net", ID: "IMG2"},
		Message: &waproto.WireMessage{
			Image: &waproto.MediaPointer{Mimetype: "image/png"},
		},
	}
	fx.factory.last().emit(&waproto.MessagesUpsert{Messages: []*waproto.Envelope{env}})

	var msg domain.Message
	if err := fx.db.Where("session_id = ? and message_id = ?", sess.ID, "IMG2").First(&msg).Error; err != nil {
		t.Fatalf("message must persist without media url: %v", err)
	}
	if msg.MediaURL != "" {
		t.Fatalf("media url = %q, want empty", msg.MediaURL)
	}
	if !msg.IsMedia {
		t.Fatal("media flag should survive resolution failure")
	}
}

func TestMediaRefreshRetryRecovers(t *testing.T) {
	fx := newFixture(t)
	fx.factory.next = &fakeSocket{
		downloadErr:  errors.New("url expired"),
		downloadData: []byte("fresh"),
	}
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sock := fx.factory.last()

	env := &waproto.Envelope{
		Key: waproto.MessageKey{RemoteJID: "628123@s.whatsapp.net", ID: "IMG3"},
		Message: &waproto.WireMessage{
			Image: &waproto.MediaPointer{Mimetype: "image/jpeg"},
		},
	}
	sock.emit(&waproto.MessagesUpsert{Messages: []*waproto.Envelope{env}})

	if !sock.refreshed {
		t.Fatal("expected a pointer refresh")
	}
	if sock.downloads != 2 {
		t.Fatalf("downloads = %d, want 2", sock.downloads)
	}
	var msg domain.Message
	if err := fx.db.Where("session_id = ? and message_id = ?", sess.ID, "IMG3").First(&msg).Error; err != nil {
		t.Fatalf("load message: %v", err)
	}
	if msg.MediaURL == "" {
		t.Fatal("expected media url after refresh retry")
	}
}

func TestMessageUpdateFlipsRead(t *testing.T) {
	fx := newFixture(t)
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sock := fx.factory.last()
	sock.emit(&waproto.MessagesUpsert{
		Messages: []*waproto.Envelope{personalEnvelope("M1", "628123@s.whatsapp.net", "hi")},
	})

	sock.emit(&waproto.MessageUpdates{Updates: []waproto.MessageUpdate{
		{Key: waproto.MessageKey{RemoteJID: "628123@s.whatsapp.net", ID: "M1"}, Status: domain.AckRead},
	}})

	var msg domain.Message
	if err := fx.db.Where("session_id = ? and message_id = ?", sess.ID, "M1").First(&msg).Error; err != nil {
		t.Fatalf("load message: %v", err)
	}
	if !msg.IsRead || msg.Ack != domain.AckRead || msg.AckString != "read" {
		t.Fatalf("ack state = (%v, %d, %q)", msg.IsRead, msg.Ack, msg.AckString)
	}
	if got := fx.notifier.byType("message.update"); len(got) != 1 {
		t.Fatalf("message.update events = %d, want 1", len(got))
	}
}

func TestSendReadBatchesUnread(t *testing.T) {
	fx := newFixture(t)
	sessRow, err := fx.svc.CreateSession(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sock := fx.factory.last()
	sock.emit(&waproto.MessagesUpsert{Messages: []*waproto.Envelope{
		personalEnvelope("M1", "628123@s.whatsapp.net", "one"),
		personalEnvelope("M2", "628123@s.whatsapp.net", "two"),
		personalEnvelope("M3", "628999@s.whatsapp.net", "other chat"),
	}})

	if err := fx.svc.SendRead(context.Background(), sessRow, "628123", nil); err != nil {
		t.Fatalf("sendRead: %v", err)
	}

	// the sweep covers the whole session, not just the target chat
	if len(sock.readIDs) != 1 || len(sock.readIDs[0]) != 3 {
		t.Fatalf("read calls = %+v, want one call with three ids", sock.readIDs)
	}
	var unread int64
	fx.db.Model(&domain.Message{}).
		Where("session_id = ? and is_read = ?", sessRow.ID, false).
		Count(&unread)
	if unread != 0 {
		t.Fatalf("unread rows for session after sendRead = %d, want 0", unread)
	}

	// second call finds nothing and must not ack again
	if err := fx.svc.SendRead(context.Background(), sessRow, "628123", nil); err != nil {
		t.Fatalf("sendRead again: %v", err)
	}
	if len(sock.readIDs) != 1 {
		t.Fatalf("read calls after idempotent repeat = %d, want 1", len(sock.readIDs))
	}
}

func TestHistorySyncReplaysContactsAndMessages(t *testing.T) {
	fx := newFixture(t)
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sock := fx.factory.last()
	sock.lidMap = map[string]string{"555777@lid": "62888@s.whatsapp.net"}

	sock.emit(&waproto.HistorySync{
		Contacts: []waproto.WireContact{
			{JID: "628111@s.whatsapp.net", Name: "Alice"},
			{JID: "555777@lid", Notify: "Bob"},
			{JID: "1203630456@g.us", Name: "Team"},
			{JID: "status@broadcast", Name: "Status"},
		},
		Messages: []*waproto.Envelope{
			personalEnvelope("H1", "628111@s.whatsapp.net", "old message"),
		},
		IsLatest: true,
	})

	var contacts []domain.Contact
	fx.db.Where("session_id = ?", sess.ID).Order("phone_number asc").Find(&contacts)
	if len(contacts) != 3 {
		t.Fatalf("contacts = %d, want 3 (broadcast skipped)", len(contacts))
	}
	byPhone := map[string]domain.Contact{}
	for _, c := range contacts {
		byPhone[c.PhoneNumber] = c
	}
	if byPhone["628111"].Identifier != domain.ContactPersonal {
		t.Fatalf("personal contact classified as %q", byPhone["628111"].Identifier)
	}
	if got, ok := byPhone["62888"]; !ok || got.Identifier != domain.ContactLid {
		t.Fatalf("lid contact not resolved to phone number: %+v", contacts)
	}
	if byPhone["1203630456"].Identifier != domain.ContactGroup {
		t.Fatalf("group contact classified as %q", byPhone["1203630456"].Identifier)
	}

	var msgCount int64
	fx.db.Model(&domain.Message{}).Where("session_id = ? and message_id = ?", sess.ID, "H1").Count(&msgCount)
	if msgCount != 1 {
		t.Fatal("replayed message not persisted")
	}

	if got := fx.notifier.byType("message.received"); len(got) != 0 {
		t.Fatal("history replay must not fire per-message webhooks")
	}
	if got := fx.notifier.byType("message.history.set"); len(got) != 1 {
		t.Fatalf("message.history.set events = %d, want 1", len(got))
	}
}

func TestPairingCodeFlow(t *testing.T) {
	fx := newFixture(t)
	fx.factory.next = &fakeSocket{pairingCode: "WXYZ-1234"}

	sess, err := fx.svc.CreateSession(context.Background(), "acme", "", "628111222333")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !sess.IsPairingCode || sess.PairingStatus != domain.PairingStatusPending {
		t.Fatalf("pairing state = (%v, %q)", sess.IsPairingCode, sess.PairingStatus)
	}
	sock := fx.factory.last()

	// first connection update with an unregistered device triggers the
	// one-shot pairing code request
	sock.emit(&waproto.ConnectionUpdate{})
	waitFor(t, 2*time.Second, func() bool {
		var row domain.Session
		if err := fx.db.Where("id = ?", sess.ID).First(&row).Error; err != nil {
			return false
		}
		return row.PairingCode == "WXYZ-1234"
	})

	// repeated updates must not re-request
	sock.emit(&waproto.ConnectionUpdate{})

	sock.self = "628111222333@s.whatsapp.net"
	sock.emit(&waproto.ConnectionUpdate{Connection: waproto.ConnectionOpen})

	var row domain.Session
	if err := fx.db.Where("id = ?", sess.ID).First(&row).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if row.PairingStatus != domain.PairingStatusPaired {
		t.Fatalf("pairing status = %q, want paired", row.PairingStatus)
	}
	if row.PairingCode != "" {
		t.Fatal("pairing code must clear once paired")
	}
}

func TestRestartSessionRedials(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.svc.CreateSession(context.Background(), "acme", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	sess, err := fx.svc.RestartSession(context.Background(), "acme")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if sess.Status != domain.SessionStatusConnecting {
		t.Fatalf("status = %q, want connecting", sess.Status)
	}
	if fx.factory.dials() != 2 {
		t.Fatalf("dials = %d, want 2", fx.factory.dials())
	}

	_, err = fx.svc.RestartSession(context.Background(), "ghost")
	if code := apiCode(t, err); code != "SESSION_NOT_FOUND" {
		t.Fatalf("code = %q, want SESSION_NOT_FOUND", code)
	}
}

func TestStaleSocketEventsIgnored(t *testing.T) {
	fx := newFixture(t)
	sess, err := fx.svc.CreateSession(context.Background(), "acme", "https://hook.test/wa", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	oldSock := fx.factory.last()

	if _, err := fx.svc.RestartSession(context.Background(), "acme"); err != nil {
		t.Fatalf("restart: %v", err)
	}

	// the replaced socket keeps emitting, the orchestrator must not act
	oldSock.emit(&waproto.MessagesUpsert{
		Messages: []*waproto.Envelope{personalEnvelope("STALE", "628123@s.whatsapp.net", "late")},
	})

	var count int64
	fx.db.Model(&domain.Message{}).Where("session_id = ? and message_id = ?", sess.ID, "STALE").Count(&count)
	if count != 0 {
		t.Fatal("stale socket event must be dropped")
	}
}
