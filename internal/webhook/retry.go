package webhook

import (
	"time"

	"go.uber.org/zap"

	"github.com/bjo163/wagate/internal/domain"
)

const sweepInterval = 15 * time.Second

// RetryService periodically redelivers failed outbox rows until their
// retry count reaches the configured cap.
type RetryService struct {
	notifier *Notifier
	stopChan chan struct{}
}

func NewRetryService(n *Notifier) *RetryService {
	return &RetryService{notifier: n, stopChan: make(chan struct{})}
}

// StartDaemon runs the sweep loop until Stop is called.
func (s *RetryService) StartDaemon() {
	zap.L().Info("start webhook retry daemon")
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			zap.L().Info("webhook retry daemon stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *RetryService) Stop() {
	close(s.stopChan)
}

// sweep redelivers due failed rows oldest-first.
func (s *RetryService) sweep() {
	maxRetry := s.notifier.app.ConfigMgr().GetInt("webhook", "MaxRetryCount")
	if maxRetry <= 0 {
		maxRetry = 3
	}

	var events []domain.WebhookEvent
	err := s.notifier.app.DB().
		Where("status = ? and retry_count < ? and next_attempt_at <= ?",
			domain.WebhookStatusFailed, maxRetry, time.Now()).
		Order("created_at asc").
		Limit(100).
		Find(&events).Error
	if err != nil {
		zap.L().Error("webhook retry query failed", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	zap.L().Info("retrying failed webhook events", zap.Int("count", len(events)))
	for i := range events {
		s.notifier.attempt(&events[i])
	}
}
