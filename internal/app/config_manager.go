package app

import (
	"sync"
	"time"

	"github.com/bjo163/wagate/internal/domain"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const settingsCacheTTL = 30 * time.Second

// ConfigManager reads system settings from the sys_config table with a
// short-lived cache in front.
type ConfigManager struct {
	app      *Application
	mu       sync.RWMutex
	cache    map[string]string
	cachedAt time.Time
}

func NewConfigManager(a *Application) *ConfigManager {
	return &ConfigManager{app: a, cache: make(map[string]string)}
}

func (m *ConfigManager) load() {
	var items []domain.SysConfig
	if err := m.app.DB().Find(&items).Error; err != nil {
		zap.L().Warn("settings load failed", zap.Error(err))
		return
	}
	fresh := make(map[string]string, len(items))
	for _, it := range items {
		fresh[it.Type+"."+it.Name] = it.Value
	}
	m.cache = fresh
	m.cachedAt = time.Now()
}

func (m *ConfigManager) value(category, name string) string {
	m.mu.RLock()
	expired := time.Since(m.cachedAt) > settingsCacheTTL
	v, ok := m.cache[category+"."+name]
	m.mu.RUnlock()
	if !expired && ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.cachedAt) > settingsCacheTTL {
		m.load()
	}
	return m.cache[category+"."+name]
}

func (m *ConfigManager) GetString(category, name string) string {
	return m.value(category, name)
}

func (m *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(m.value(category, name))
}

func (m *ConfigManager) GetInt(category, name string) int {
	return cast.ToInt(m.value(category, name))
}

func (m *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(m.value(category, name))
}

// SetValue writes a setting and invalidates the cache entry.
func (m *ConfigManager) SetValue(category, name, value string) error {
	err := m.app.DB().Model(&domain.SysConfig{}).
		Where("type = ? and name = ?", category, name).
		Update("value", value).Error
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[category+"."+name] = value
	m.mu.Unlock()
	return nil
}
