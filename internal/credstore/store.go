// Package credstore persists per-session protocol credential documents
// in the session_details table. Every operation retries transient
// database failures a bounded number of times and then degrades to an
// empty result instead of failing the caller; the protocol layer treats
// the store as best-effort.
package credstore

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/bjo163/wagate/internal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	maxRetries = 10
	retryDelay = 200 * time.Millisecond

	// CredsName is the reserved record name of the primary credential
	// document; every other record is "<category>-<id>".
	CredsName = "creds"
)

// Store scopes credential records to one session.
type Store struct {
	db        *gorm.DB
	sessionID string
}

func NewStore(db *gorm.DB, sessionID string) *Store {
	return &Store{db: db, sessionID: sessionID}
}

func (s *Store) SessionID() string {
	return s.sessionID
}

// withRetry runs fn up to maxRetries times with a fixed delay between
// attempts. gorm.ErrRecordNotFound is not retried; it is a result.
func (s *Store) withRetry(op string, fn func() error) bool {
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return true
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false
		}
		if attempt == maxRetries-1 {
			zap.L().Warn("credstore: giving up after retries",
				zap.String("op", op),
				zap.String("session_id", s.sessionID),
				zap.Error(err))
			break
		}
		time.Sleep(retryDelay)
	}
	return false
}

// Read returns the stored document for name, or nil when absent or
// when the datastore stays unavailable through all retries.
func (s *Store) Read(name string) json.RawMessage {
	var detail domain.SessionDetail
	ok := s.withRetry("read", func() error {
		return s.db.Where("session_id = ? AND name = ?", s.sessionID, name).
			First(&detail).Error
	})
	if !ok || detail.Value == "" {
		return nil
	}
	return json.RawMessage(detail.Value)
}

// Write upserts the document for name. Failures are logged and
// dropped after the retry budget.
func (s *Store) Write(name string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		zap.L().Warn("credstore: marshal failed", zap.String("name", name), zap.Error(err))
		return
	}
	s.withRetry("write", func() error {
		return s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"value": string(data), "updated_at": time.Now()}),
		}).Create(&domain.SessionDetail{
			SessionID: s.sessionID,
			Name:      name,
			Value:     string(data),
		}).Error
	})
}

// Remove deletes one record.
func (s *Store) Remove(name string) {
	s.withRetry("remove", func() error {
		return s.db.Where("session_id = ? AND name = ?", s.sessionID, name).
			Delete(&domain.SessionDetail{}).Error
	})
}

// ClearKeys deletes every record except the primary credential
// document.
func (s *Store) ClearKeys() {
	s.withRetry("clear-keys", func() error {
		return s.db.Where("session_id = ? AND name <> ?", s.sessionID, CredsName).
			Delete(&domain.SessionDetail{}).Error
	})
}

// RemoveAll deletes every record for the session.
func (s *Store) RemoveAll() {
	s.withRetry("remove-all", func() error {
		return s.db.Where("session_id = ?", s.sessionID).
			Delete(&domain.SessionDetail{}).Error
	})
}

// Get reads "<category>-<id>" for each id and returns the documents
// found, keyed by id. App-state sync keys pass through a structural
// normalization before they are handed to the protocol client.
func (s *Store) Get(category string, ids []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		value := s.Read(category + "-" + id)
		if value == nil {
			continue
		}
		if category == "app-state-sync-key" {
			value = normalizeAppStateKey(value)
		}
		out[id] = value
	}
	return out
}

// Set walks nested {category: {id: value|null}} data, writing non-null
// values and removing null ones.
func (s *Store) Set(data map[string]map[string]json.RawMessage) {
	for category, group := range data {
		for id, value := range group {
			name := category + "-" + id
			if value == nil || string(value) == "null" {
				s.Remove(name)
				continue
			}
			s.Write(name, value)
		}
	}
}
