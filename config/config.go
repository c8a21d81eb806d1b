package config

import (
	"os"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Secret string `yaml:"secret" json:"secret"`
	ApiKey string `yaml:"api_key" json:"api_key"`
}

type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// StorageConfig selects the media storage backend. Type is "s3" or
// "local"; the choice is process-wide, not per call.
type StorageConfig struct {
	Type      string `yaml:"type" json:"type"`
	Namespace string `yaml:"namespace" json:"namespace"`

	S3Endpoint  string `yaml:"s3_endpoint" json:"s3_endpoint"`
	S3Region    string `yaml:"s3_region" json:"s3_region"`
	S3Bucket    string `yaml:"s3_bucket" json:"s3_bucket"`
	S3AccessKey string `yaml:"s3_access_key" json:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key" json:"s3_secret_key"`
	S3PublicURL string `yaml:"s3_public_url" json:"s3_public_url"`

	LocalRoot    string `yaml:"local_root" json:"local_root"`
	LocalBaseURL string `yaml:"local_base_url" json:"local_base_url"`
}

type WhatsappConfig struct {
	// SyncHistory gates replay of messages from messaging-history.set
	// into the per-message pipeline.
	SyncHistory bool `yaml:"sync_history" json:"sync_history"`
	// SyncContacts gates contact upserts during history replay.
	SyncContacts bool `yaml:"sync_contacts" json:"sync_contacts"`
	// ReconnectDelaySec is the fixed delay before a transient
	// disconnect triggers re-initialization.
	ReconnectDelaySec int `yaml:"reconnect_delay_sec" json:"reconnect_delay_sec"`
	// PrintQR renders QR payloads on the terminal (debug aid).
	PrintQR bool `yaml:"print_qr" json:"print_qr"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system" json:"system"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Database DBConfig       `yaml:"database" json:"database"`
	Logger   LogConfig      `yaml:"logger" json:"logger"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Whatsapp WhatsappConfig `yaml:"whatsapp" json:"whatsapp"`
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "wagate",
		Location: "Asia/Jakarta",
		Workdir:  "/var/wagate",
		Debug:    true,
	},
	Web: WebConfig{
		Host:   "0.0.0.0",
		Port:   1816,
		Secret: "9b6de5cc-wagate-1816-demo-secret",
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "wagate_v1",
		User:     "postgres",
		MaxConn:  100,
		IdleConn: 10,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/wagate/wagate.log",
	},
	Storage: StorageConfig{
		Type:         "local",
		Namespace:    "wagate-media",
		LocalRoot:    "/var/wagate/public",
		LocalBaseURL: "http://127.0.0.1:1816/public",
	},
	Whatsapp: WhatsappConfig{
		SyncHistory:       false,
		SyncContacts:      true,
		ReconnectDelaySec: 5,
	},
}

func setEnvValue(name string, f func(v string)) {
	if v := os.Getenv(name); v != "" {
		f(v)
	}
}

func setEnvBoolValue(name string, f func(v bool)) {
	if v := os.Getenv(name); v != "" {
		f(v == "true" || v == "1" || v == "on")
	}
}

func setEnvIntValue(name string, f func(v int)) {
	if v := os.Getenv(name); v != "" {
		f(cast.ToInt(v))
	}
}

// LoadConfig reads the YAML config file when it exists, otherwise the
// defaults, then applies WAGATE_* environment overrides.
func LoadConfig(cfile string) *AppConfig {
	cfg := DefaultAppConfig
	if cfile != "" {
		if _, err := os.Stat(cfile); err == nil {
			data, err := os.ReadFile(cfile)
			if err == nil {
				cfg = new(AppConfig)
				if err := yaml.Unmarshal(data, cfg); err != nil {
					panic(err)
				}
			}
		}
	}

	setEnvValue("WAGATE_SYSTEM_WORKDIR", func(v string) { cfg.System.Workdir = v })
	setEnvBoolValue("WAGATE_SYSTEM_DEBUG", func(v bool) { cfg.System.Debug = v })
	setEnvValue("WAGATE_WEB_HOST", func(v string) { cfg.Web.Host = v })
	setEnvIntValue("WAGATE_WEB_PORT", func(v int) { cfg.Web.Port = v })
	setEnvValue("WAGATE_WEB_SECRET", func(v string) { cfg.Web.Secret = v })
	setEnvValue("WAGATE_WEB_API_KEY", func(v string) { cfg.Web.ApiKey = v })
	setEnvValue("WAGATE_DB_TYPE", func(v string) { cfg.Database.Type = v })
	setEnvValue("WAGATE_DB_HOST", func(v string) { cfg.Database.Host = v })
	setEnvIntValue("WAGATE_DB_PORT", func(v int) { cfg.Database.Port = v })
	setEnvValue("WAGATE_DB_NAME", func(v string) { cfg.Database.Name = v })
	setEnvValue("WAGATE_DB_USER", func(v string) { cfg.Database.User = v })
	setEnvValue("WAGATE_DB_PWD", func(v string) { cfg.Database.Passwd = v })
	setEnvValue("WAGATE_LOGGER_MODE", func(v string) { cfg.Logger.Mode = v })
	setEnvValue("WAGATE_STORAGE_TYPE", func(v string) { cfg.Storage.Type = v })
	setEnvValue("WAGATE_S3_ENDPOINT", func(v string) { cfg.Storage.S3Endpoint = v })
	setEnvValue("WAGATE_S3_REGION", func(v string) { cfg.Storage.S3Region = v })
	setEnvValue("WAGATE_S3_BUCKET", func(v string) { cfg.Storage.S3Bucket = v })
	setEnvValue("WAGATE_S3_ACCESS_KEY", func(v string) { cfg.Storage.S3AccessKey = v })
	setEnvValue("WAGATE_S3_SECRET_KEY", func(v string) { cfg.Storage.S3SecretKey = v })
	setEnvBoolValue("WAGATE_WA_SYNC_HISTORY", func(v bool) { cfg.Whatsapp.SyncHistory = v })
	setEnvBoolValue("WAGATE_WA_SYNC_CONTACTS", func(v bool) { cfg.Whatsapp.SyncContacts = v })

	return cfg
}
