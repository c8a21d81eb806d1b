package app

import (
	"github.com/bjo163/wagate/internal/domain"
	"go.uber.org/zap"
)

type settingSchema struct {
	Category    string
	Name        string
	Default     string
	Description string
}

var defaultSettings = []settingSchema{
	{"webhook", "MaxRetryCount", "3", "Maximum delivery attempts for a webhook event"},
	{"webhook", "RetryBaseDelaySec", "30", "Base delay for webhook retry backoff"},
	{"webhook", "HistoryDays", "30", "Days to keep delivered webhook events"},
	{"message", "HistoryDays", "90", "Days to keep message rows"},
	{"whatsapp", "SendTimeoutSec", "60", "Timeout for outbound protocol sends"},
}

// checkSettings initializes missing sys_config entries with defaults.
func (a *Application) checkSettings() {
	for sortid, schema := range defaultSettings {
		var count int64
		a.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", schema.Category, schema.Name).
			Count(&count)

		if count == 0 {
			a.gormDB.Create(&domain.SysConfig{
				Sort:   sortid,
				Type:   schema.Category,
				Name:   schema.Name,
				Value:  schema.Default,
				Remark: schema.Description,
			})
			zap.L().Info("initialized config",
				zap.String("key", schema.Category+"."+schema.Name),
				zap.String("default", schema.Default))
		}
	}
}
