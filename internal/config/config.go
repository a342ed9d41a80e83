// Package config loads QueueyConfig via spf13/viper, the way the
// teacher's internal/config centralizes settings: flag > environment
// (QUEUEY_ prefix) > queuey.yaml > defaults. A subset of settings
// (base_delay_seconds, multi_dc) is safe to change without a restart and
// is live-reloaded via fsnotify.
package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Backend selects which storage.Backend/metadata.Backend pair the
// process wires up.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQL    Backend = "sql"
)

// SQLDriver selects the database/sql driver used by the SQL backend.
type SQLDriver string

const (
	DriverMySQL SQLDriver = "mysql"
	DriverDolt  SQLDriver = "dolt"
)

// QueueyConfig is the fully-resolved process configuration.
type QueueyConfig struct {
	ListenAddr string

	Backend   Backend
	SQLDriver SQLDriver
	SQLDSN    string

	MultiDC          bool
	Replicas         int
	BaseDelaySeconds float64

	ApplicationKeysFile string
}

// Live holds the subset of settings that may change after startup
// without a process restart. Reads and writes are synchronized so a
// reload goroutine and request handlers never race.
type Live struct {
	mu               sync.RWMutex
	multiDC          bool
	baseDelaySeconds float64
}

func (l *Live) MultiDC() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.multiDC
}

func (l *Live) BaseDelaySeconds() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.baseDelaySeconds
}

func (l *Live) set(multiDC bool, baseDelay float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.multiDC = multiDC
	l.baseDelaySeconds = baseDelay
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("backend", string(BackendMemory))
	v.SetDefault("sql_driver", string(DriverMySQL))
	v.SetDefault("sql_dsn", "")
	v.SetDefault("multi_dc", false)
	v.SetDefault("replicas", 3)
	v.SetDefault("base_delay_seconds", 0.0)
	v.SetDefault("application_keys_file", "")
}

// Load reads configuration from environment variables prefixed QUEUEY_,
// configPath (if non-empty), and defaults, in that precedence order
// (flags, handled by cmd/queueyd's cobra bindings, take priority over
// all three).
func Load(configPath string) (*viper.Viper, QueueyConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("queuey")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, QueueyConfig{}, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	cfg := QueueyConfig{
		ListenAddr:          v.GetString("listen_addr"),
		Backend:             Backend(v.GetString("backend")),
		SQLDriver:           SQLDriver(v.GetString("sql_driver")),
		SQLDSN:              v.GetString("sql_dsn"),
		MultiDC:             v.GetBool("multi_dc"),
		Replicas:            v.GetInt("replicas"),
		BaseDelaySeconds:    v.GetFloat64("base_delay_seconds"),
		ApplicationKeysFile: v.GetString("application_keys_file"),
	}
	return v, cfg, nil
}

// WatchLive starts an fsnotify watch on v's config file (if any) and
// keeps live in sync with multi_dc/base_delay_seconds on every change.
// It is a no-op if v has no config file (e.g. defaults/env-only setups).
func WatchLive(v *viper.Viper, live *Live, log *slog.Logger) {
	live.set(v.GetBool("multi_dc"), v.GetFloat64("base_delay_seconds"))
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		// viper re-reads the file internally before invoking this
		// callback; a short settle delay avoids reacting to a
		// half-written file from an editor's save-then-rename.
		time.Sleep(50 * time.Millisecond)
		live.set(v.GetBool("multi_dc"), v.GetFloat64("base_delay_seconds"))
		log.Info("config: reloaded live settings",
			"multi_dc", live.MultiDC(), "base_delay_seconds", live.BaseDelaySeconds())
	})
	v.WatchConfig()
}
