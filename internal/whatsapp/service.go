// Package whatsapp is the session orchestrator: it owns the live
// socket per session, drives the session lifecycle state machine, and
// runs the inbound event pipeline.
package whatsapp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bjo163/wagate/internal/app"
	"github.com/bjo163/wagate/internal/credstore"
	"github.com/bjo163/wagate/internal/domain"
	"github.com/bjo163/wagate/internal/media"
	"github.com/bjo163/wagate/internal/waproto"
	"github.com/bjo163/wagate/internal/webhook"
	"github.com/bjo163/wagate/pkg/common"
)

// EventNotifier publishes session events to the configured webhook.
type EventNotifier interface {
	SendEvent(sessionID, webhookURL, eventType string, data map[string]interface{})
}

// runtime is the in-memory state of one live session.
type runtime struct {
	sock    waproto.Socket
	session *domain.Session
	state   *credstore.State

	pairingOnce sync.Once
}

// Service manages every session runtime in the process. All lifecycle
// transitions go through here; handlers never touch sockets directly.
type Service struct {
	app      app.AppContext
	factory  waproto.Factory
	notifier EventNotifier
	media    *media.Resolver

	mu       sync.Mutex
	runtimes map[string]*runtime
	timers   map[string]*time.Timer
}

func NewService(a app.AppContext, factory waproto.Factory, notifier EventNotifier, resolver *media.Resolver) *Service {
	return &Service{
		app:      a,
		factory:  factory,
		notifier: notifier,
		media:    resolver,
		runtimes: make(map[string]*runtime),
		timers:   make(map[string]*time.Timer),
	}
}

func (s *Service) current(name string) *runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtimes[name]
}

// CreateSession registers (or reactivates) a session and starts its
// runtime. A live runtime or an active persisted row under the same
// name is a conflict; only deactivated rows are reactivated.
func (s *Service) CreateSession(ctx context.Context, name, webhookURL, phoneNumber string) (*domain.Session, error) {
	if s.current(name) != nil {
		return nil, ErrSessionActive(name)
	}

	var sess domain.Session
	err := s.app.DB().Where("session_name = ?", name).First(&sess).Error
	switch {
	case err == nil:
		if sess.IsActive {
			return nil, ErrSessionActive(name)
		}
		sess.IsActive = true
		sess.Status = domain.SessionStatusQRRequired
		sess.QrCode = ""
		sess.WebhookURL = webhookURL
		sess.PhoneNumber = phoneNumber
		sess.IsPairingCode = phoneNumber != ""
		sess.PairingCode = ""
		sess.PairingStatus = ""
		if sess.IsPairingCode {
			sess.PairingStatus = domain.PairingStatusPending
		}
		if err := s.app.DB().Save(&sess).Error; err != nil {
			return nil, ErrDatabase(err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		sess = domain.Session{
			ID:            common.UUIDv7(),
			Name:          name,
			PhoneNumber:   phoneNumber,
			Status:        domain.SessionStatusQRRequired,
			IsActive:      true,
			WebhookURL:    webhookURL,
			IsPairingCode: phoneNumber != "",
		}
		if sess.IsPairingCode {
			sess.PairingStatus = domain.PairingStatusPending
		}
		if err := s.app.DB().Create(&sess).Error; err != nil {
			return nil, ErrDatabase(err)
		}
	default:
		return nil, ErrDatabase(err)
	}

	if err := s.initializeSession(ctx, &sess); err != nil {
		return nil, ErrSessionInitFailed(name, err)
	}
	return &sess, nil
}

// initializeSession loads credentials, dials a fresh socket and
// installs it as the session's runtime, replacing any previous one.
func (s *Service) initializeSession(ctx context.Context, sess *domain.Session) error {
	store := credstore.NewStore(s.app.DB(), sess.ID)
	state, err := store.Load()
	if err != nil {
		return err
	}

	sock, err := s.factory.Dial(ctx, state)
	if err != nil {
		return err
	}

	rt := &runtime{sock: sock, session: sess, state: state}
	s.mu.Lock()
	if old, ok := s.runtimes[sess.Name]; ok {
		old.sock.Disconnect()
	}
	s.runtimes[sess.Name] = rt
	if t, ok := s.timers[sess.Name]; ok {
		t.Stop()
		delete(s.timers, sess.Name)
	}
	s.mu.Unlock()

	sock.AddEventHandler(func(evt interface{}) { s.handleEvent(rt, evt) })

	sess.Status = domain.SessionStatusConnecting
	if err := s.app.DB().Model(&domain.Session{}).Where("id = ?", sess.ID).
		Update("status", sess.Status).Error; err != nil {
		zap.L().Error("session status update failed",
			zap.String("session", sess.Name), zap.Error(err))
	}

	go func() {
		if err := sock.Connect(); err != nil {
			zap.L().Error("socket connect failed",
				zap.String("session", sess.Name), zap.Error(err))
		}
	}()

	zap.L().Info("session runtime started",
		zap.String("session", sess.Name), zap.String("session_id", sess.ID))
	return nil
}

// RestartSession tears the runtime down and rebuilds it from stored
// credentials.
func (s *Service) RestartSession(ctx context.Context, name string) (*domain.Session, error) {
	s.dropRuntime(name, true)

	var sess domain.Session
	if err := s.app.DB().Where("session_name = ?", name).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound(name)
		}
		return nil, ErrDatabase(err)
	}

	sess.Status = domain.SessionStatusQRRequired
	sess.QrCode = ""
	sess.PairingCode = ""
	sess.IsActive = true
	if err := s.app.DB().Save(&sess).Error; err != nil {
		return nil, ErrDatabase(err)
	}

	if err := s.initializeSession(ctx, &sess); err != nil {
		return nil, ErrSessionInitFailed(name, err)
	}
	return &sess, nil
}

// DeleteSession stops the runtime and removes the session with all of
// its dependent rows in one transaction.
func (s *Service) DeleteSession(ctx context.Context, name string) error {
	s.dropRuntime(name, true)

	var sess domain.Session
	err := s.app.DB().Where("session_name = ?", name).First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound(name)
		}
		return ErrDatabase(err)
	}

	if err := s.purgeSession(s.app.DB().WithContext(ctx), sess.ID); err != nil {
		return ErrDatabase(err)
	}
	zap.L().Info("session deleted", zap.String("session", name))
	return nil
}

// purgeSession removes the session row and every dependent row in one
// transaction.
func (s *Service) purgeSession(db *gorm.DB, sessionID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, del := range []interface{}{
			&domain.SessionDetail{}, &domain.Contact{},
			&domain.Message{}, &domain.WebhookEvent{},
		} {
			if err := tx.Where("session_id = ?", sessionID).Delete(del).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&domain.Session{}, "id = ?", sessionID).Error
	})
}

// dropRuntime removes the runtime and cancels any pending reconnect.
// With logout set the device registration is invalidated too.
func (s *Service) dropRuntime(name string, logout bool) {
	s.mu.Lock()
	rt := s.runtimes[name]
	delete(s.runtimes, name)
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	if rt == nil {
		return
	}
	if logout {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.sock.Logout(ctx); err != nil {
			zap.L().Debug("socket logout failed", zap.String("session", name), zap.Error(err))
		}
	}
	rt.sock.Disconnect()
}

func (s *Service) handleEvent(rt *runtime, evt interface{}) {
	// a replaced or deleted runtime must not act on late events
	if s.current(rt.session.Name) != rt {
		return
	}
	switch e := evt.(type) {
	case *waproto.ConnectionUpdate:
		s.handleConnectionUpdate(rt, e)
	case *waproto.CredsUpdate:
		rt.state.SaveCreds()
	case *waproto.MessagesUpsert:
		s.handleMessages(rt, e.Messages, false)
	case *waproto.MessageUpdates:
		s.handleMessageUpdates(rt, e.Updates)
	case *waproto.HistorySync:
		s.handleHistorySync(rt, e)
	}
}

func (s *Service) handleConnectionUpdate(rt *runtime, upd *waproto.ConnectionUpdate) {
	sess := rt.session

	if upd.QR != "" {
		sess.Status = domain.SessionStatusQRRequired
		sess.QrCode = upd.QR
		if err := s.app.DB().Model(&domain.Session{}).Where("id = ?", sess.ID).
			Updates(map[string]interface{}{
				"status":  sess.Status,
				"qr_code": sess.QrCode,
			}).Error; err != nil {
			zap.L().Error("qr code update failed", zap.String("session", sess.Name), zap.Error(err))
		}
	}

	// pairing-code sessions request their code once, as soon as the
	// socket is up and the device is still unregistered
	if sess.IsPairingCode && sess.PhoneNumber != "" &&
		sess.PairingStatus == domain.PairingStatusPending && !rt.sock.IsRegistered() {
		rt.pairingOnce.Do(func() { go s.requestPairingCode(rt) })
	}

	switch upd.Connection {
	case waproto.ConnectionOpen:
		s.onConnected(rt)
	case waproto.ConnectionClose:
		if upd.LoggedOut {
			s.onLoggedOut(rt, upd.Reason)
		} else {
			s.onTransientClose(rt, upd.Reason)
		}
	}
}

func (s *Service) requestPairingCode(rt *runtime) {
	sess := rt.session
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	code, err := rt.sock.RequestPairingCode(ctx, sess.PhoneNumber)
	if err != nil {
		zap.L().Error("pairing code request failed",
			zap.String("session", sess.Name), zap.Error(err))
		return
	}
	sess.PairingCode = code
	if err := s.app.DB().Model(&domain.Session{}).Where("id = ?", sess.ID).
		Update("pairing_code", code).Error; err != nil {
		zap.L().Error("pairing code persist failed", zap.String("session", sess.Name), zap.Error(err))
	}
	zap.L().Info("pairing code issued", zap.String("session", sess.Name))
}

func (s *Service) onConnected(rt *runtime) {
	sess := rt.session
	now := time.Now()
	sess.Status = domain.SessionStatusConnected
	sess.QrCode = ""
	sess.LastSeen = &now
	if self := rt.sock.SelfJID(); self != "" {
		sess.PhoneNumber = JIDUser(self)
		if i := strings.IndexByte(sess.PhoneNumber, ':'); i >= 0 {
			sess.PhoneNumber = sess.PhoneNumber[:i]
		}
	}
	updates := map[string]interface{}{
		"status":       sess.Status,
		"qr_code":      "",
		"phone_number": sess.PhoneNumber,
		"last_seen":    now,
	}
	if sess.IsPairingCode {
		sess.PairingStatus = domain.PairingStatusPaired
		sess.PairingCode = ""
		updates["pairing_status"] = sess.PairingStatus
		updates["pairing_code"] = ""
	}
	if err := s.app.DB().Model(&domain.Session{}).Where("id = ?", sess.ID).
		Updates(updates).Error; err != nil {
		zap.L().Error("session status update failed", zap.String("session", sess.Name), zap.Error(err))
	}

	zap.L().Info("session connected",
		zap.String("session", sess.Name), zap.String("phone", sess.PhoneNumber))
	s.notifier.SendEvent(sess.ID, sess.WebhookURL, webhook.EventSessionConnected, map[string]interface{}{
		"sessionName": sess.Name,
		"phoneNumber": sess.PhoneNumber,
	})
}

// onTransientClose keeps the session alive and schedules a delayed
// re-initialization. The timer is cancellable so deletion during the
// wait wins.
func (s *Service) onTransientClose(rt *runtime, reason string) {
	sess := rt.session
	sess.Status = domain.SessionStatusConnecting
	if err := s.app.DB().Model(&domain.Session{}).Where("id = ?", sess.ID).
		Update("status", sess.Status).Error; err != nil {
		zap.L().Error("session status update failed", zap.String("session", sess.Name), zap.Error(err))
	}

	zap.L().Warn("session connection closed, scheduling reconnect",
		zap.String("session", sess.Name), zap.String("reason", reason))
	s.notifier.SendEvent(sess.ID, sess.WebhookURL, webhook.EventSessionRetry, map[string]interface{}{
		"sessionName": sess.Name,
		"reason":      reason,
	})

	delay := time.Duration(s.app.Config().Whatsapp.ReconnectDelaySec) * time.Second
	if delay <= 0 {
		delay = 5 * time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sess.Name]; ok {
		t.Stop()
	}
	s.timers[sess.Name] = time.AfterFunc(delay, func() { s.reconnect(rt) })
}

func (s *Service) reconnect(rt *runtime) {
	name := rt.session.Name
	s.mu.Lock()
	delete(s.timers, name)
	live := s.runtimes[name] == rt
	s.mu.Unlock()
	if !live {
		return
	}

	var sess domain.Session
	if err := s.app.DB().Where("id = ?", rt.session.ID).First(&sess).Error; err != nil {
		zap.L().Warn("reconnect aborted, session row gone",
			zap.String("session", name), zap.Error(err))
		return
	}
	if err := s.initializeSession(context.Background(), &sess); err != nil {
		zap.L().Error("session reconnect failed", zap.String("session", name), zap.Error(err))
	}
}

// onLoggedOut handles a permanent close: the credentials are dead, so
// the session and everything under it is removed.
func (s *Service) onLoggedOut(rt *runtime, reason string) {
	sess := rt.session
	zap.L().Warn("session logged out",
		zap.String("session", sess.Name), zap.String("reason", reason))

	sess.Status = domain.SessionStatusDisconnected
	if err := s.app.DB().Model(&domain.Session{}).Where("id = ?", sess.ID).
		Updates(map[string]interface{}{
			"status":  sess.Status,
			"qr_code": "",
		}).Error; err != nil {
		zap.L().Error("session status update failed", zap.String("session", sess.Name), zap.Error(err))
	}

	s.notifier.SendEvent(sess.ID, sess.WebhookURL, webhook.EventSessionDisconnected, map[string]interface{}{
		"sessionName": sess.Name,
		"reason":      reason,
	})

	s.dropRuntime(sess.Name, false)
	if err := s.purgeSession(s.app.DB(), sess.ID); err != nil {
		zap.L().Error("logged-out session cleanup failed",
			zap.String("session", sess.Name), zap.Error(err))
	}
}

// LoadActiveSessions restores runtimes for sessions that were live at
// the previous shutdown. A session that cannot be restored is marked
// disconnected and left for the operator.
func (s *Service) LoadActiveSessions(ctx context.Context) {
	var sessions []domain.Session
	err := s.app.DB().
		Where("is_active = ? and status in ?", true,
			[]string{domain.SessionStatusConnected, domain.SessionStatusConnecting}).
		Find(&sessions).Error
	if err != nil {
		zap.L().Error("active session load failed", zap.Error(err))
		return
	}

	zap.L().Info("restoring active sessions", zap.Int("count", len(sessions)))
	for i := range sessions {
		sess := sessions[i]
		if err := s.initializeSession(ctx, &sess); err != nil {
			zap.L().Error("session restore failed",
				zap.String("session", sess.Name), zap.Error(err))
			s.app.DB().Model(&domain.Session{}).Where("id = ?", sess.ID).
				Updates(map[string]interface{}{
					"status":    domain.SessionStatusDisconnected,
					"is_active": false,
				})
		}
	}
}

// Shutdown disconnects every runtime without logging out, keeping the
// registrations valid for the next start.
func (s *Service) Shutdown() {
	s.mu.Lock()
	rts := make([]*runtime, 0, len(s.runtimes))
	for name, rt := range s.runtimes {
		rts = append(rts, rt)
		delete(s.runtimes, name)
	}
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	for _, rt := range rts {
		rt.sock.Disconnect()
	}
}

// SessionStatus is a merged view of the stored session and its live
// runtime.
type SessionStatus struct {
	domain.Session
	Live bool `json:"live"`
}

// GetSessionStatus returns the stored session joined with runtime
// liveness.
func (s *Service) GetSessionStatus(name string) (*SessionStatus, error) {
	var sess domain.Session
	if err := s.app.DB().Where("session_name = ?", name).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound(name)
		}
		return nil, ErrDatabase(err)
	}
	return &SessionStatus{Session: sess, Live: s.current(name) != nil}, nil
}

// GetAllSessions lists every stored session with runtime liveness.
func (s *Service) GetAllSessions() ([]SessionStatus, error) {
	var sessions []domain.Session
	if err := s.app.DB().Order("created_at asc").Find(&sessions).Error; err != nil {
		return nil, ErrDatabase(err)
	}
	out := make([]SessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionStatus{Session: sess, Live: s.current(sess.Name) != nil})
	}
	return out, nil
}
