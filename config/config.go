package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// SysConfig holds process-level settings.
type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
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

// WhatsAppConfig tunes the session orchestration core.
type WhatsAppConfig struct {
	// SessionDir is the base directory holding one artifact directory per
	// account. Empty means <workdir>/sessions.
	SessionDir string `yaml:"session_dir" json:"session_dir"`
	// StartTimeoutSec bounds how long StartSession waits for a QR code or a
	// connected signal before returning the best-known state.
	StartTimeoutSec int `yaml:"start_timeout_sec" json:"start_timeout_sec"`
	// HeartbeatSec is the cadence of ping events on live viewer streams.
	HeartbeatSec int `yaml:"heartbeat_sec" json:"heartbeat_sec"`
	// DedupWindowSec is the half-width of the content fingerprint window used
	// when a message carries no provider id.
	DedupWindowSec int `yaml:"dedup_window_sec" json:"dedup_window_sec"`
	// HistoryChatLimit / HistoryMessageLimit cap the backfill sweep.
	HistoryChatLimit    int `yaml:"history_chat_limit" json:"history_chat_limit"`
	HistoryMessageLimit int `yaml:"history_message_limit" json:"history_message_limit"`
	// WorkerPoolSize caps concurrent queue-consumer executions.
	WorkerPoolSize int `yaml:"worker_pool_size" json:"worker_pool_size"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system" json:"system"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Database DBConfig       `yaml:"database" json:"database"`
	Logger   LogConfig      `yaml:"logger" json:"logger"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp" json:"whatsapp"`
}

func (c *AppConfig) StartTimeout() time.Duration {
	return time.Duration(c.WhatsApp.StartTimeoutSec) * time.Second
}

func (c *AppConfig) DedupWindow() time.Duration {
	return time.Duration(c.WhatsApp.DedupWindowSec) * time.Second
}

func (c *AppConfig) SessionBaseDir() string {
	if c.WhatsApp.SessionDir != "" {
		return c.WhatsApp.SessionDir
	}
	return filepath.Join(c.System.Workdir, "sessions")
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "scrm",
		Location: "America/Sao_Paulo",
		Workdir:  "/var/scrm",
		Debug:    true,
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 3001,
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "scrm",
		User:     "postgres",
		Passwd:   "",
		MaxConn:  100,
		IdleConn: 10,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/scrm/scrm.log",
	},
	WhatsApp: WhatsAppConfig{
		StartTimeoutSec:     12,
		HeartbeatSec:        15,
		DedupWindowSec:      5,
		HistoryChatLimit:    30,
		HistoryMessageLimit: 50,
		WorkerPoolSize:      64,
	},
}

func setEnvValue(name string, f func(v string)) {
	if v, ok := os.LookupEnv(name); ok {
		f(v)
	}
}

// LoadConfig reads the YAML config file if present and applies SCRM_*
// environment overrides on top of the defaults.
func LoadConfig(cfile string) *AppConfig {
	cfg := new(AppConfig)
	*cfg = *DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	setEnvValue("SCRM_SYSTEM_WORKDIR", func(v string) { cfg.System.Workdir = v })
	setEnvValue("SCRM_SYSTEM_DEBUG", func(v string) { cfg.System.Debug = cast.ToBool(v) })
	setEnvValue("SCRM_WEB_HOST", func(v string) { cfg.Web.Host = v })
	setEnvValue("SCRM_WEB_PORT", func(v string) { cfg.Web.Port = cast.ToInt(v) })
	setEnvValue("SCRM_DB_TYPE", func(v string) { cfg.Database.Type = v })
	setEnvValue("SCRM_DB_HOST", func(v string) { cfg.Database.Host = v })
	setEnvValue("SCRM_DB_PORT", func(v string) { cfg.Database.Port = cast.ToInt(v) })
	setEnvValue("SCRM_DB_NAME", func(v string) { cfg.Database.Name = v })
	setEnvValue("SCRM_DB_USER", func(v string) { cfg.Database.User = v })
	setEnvValue("SCRM_DB_PWD", func(v string) { cfg.Database.Passwd = v })
	setEnvValue("SCRM_LOGGER_MODE", func(v string) { cfg.Logger.Mode = v })
	setEnvValue("SCRM_WA_SESSION_DIR", func(v string) { cfg.WhatsApp.SessionDir = v })
	setEnvValue("SCRM_WA_START_TIMEOUT", func(v string) { cfg.WhatsApp.StartTimeoutSec = cast.ToInt(v) })

	if cfg.WhatsApp.StartTimeoutSec <= 0 {
		cfg.WhatsApp.StartTimeoutSec = 12
	}
	if cfg.WhatsApp.DedupWindowSec <= 0 {
		cfg.WhatsApp.DedupWindowSec = 5
	}
	if cfg.WhatsApp.HeartbeatSec <= 0 {
		cfg.WhatsApp.HeartbeatSec = 15
	}
	if cfg.WhatsApp.WorkerPoolSize <= 0 {
		cfg.WhatsApp.WorkerPoolSize = 64
	}
	return cfg
}
