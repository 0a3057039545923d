// Package config loads heap sizing and GC tunables. Generation sizing is
// accepted once at construction time; tunables may be hot-reloaded while
// the heap runs (see Watcher).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full heap configuration file.
type Config struct {
	Heap     HeapConfig     `mapstructure:"heap"`
	Tunables Tunables       `mapstructure:"tunables"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Export   ExporterConfig `mapstructure:"export"`
}

// HeapConfig is the construction-time generation sizing.
type HeapConfig struct {
	EdenInitial uint64 `mapstructure:"eden_initial"`
	EdenMax     uint64 `mapstructure:"eden_max"`
	SurvivorMax uint64 `mapstructure:"survivor_max"`
	OldInitial  uint64 `mapstructure:"old_initial"`
	OldMax      uint64 `mapstructure:"old_max"`
}

// Tunables are the settings a running heap accepts changes to.
type Tunables struct {
	TenureAge uint8 `mapstructure:"tenure_age"`
}

// WorkerConfig controls the concurrent auxiliary worker.
type WorkerConfig struct {
	Dedup            bool          `mapstructure:"dedup"`
	SafepointTimeout time.Duration `mapstructure:"safepoint_timeout"`
}

// ExporterConfig controls the serviceability endpoint.
type ExporterConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("heap.eden_initial", 4<<20)
	v.SetDefault("heap.eden_max", 64<<20)
	v.SetDefault("heap.survivor_max", 8<<20)
	v.SetDefault("heap.old_initial", 16<<20)
	v.SetDefault("heap.old_max", 256<<20)
	v.SetDefault("tunables.tenure_age", 2)
	v.SetDefault("worker.dedup", false)
	v.SetDefault("worker.safepoint_timeout", 10*time.Second)
	v.SetDefault("export.addr", "127.0.0.1:0")
}

// Load reads configuration from path (YAML), environment (KESTREL_ prefix)
// and defaults, in the usual precedence order. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KESTREL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks sizing sanity. Tunables are range-clamped rather than
// rejected, since they can also arrive via hot reload.
func (c *Config) Validate() error {
	h := c.Heap
	if h.EdenInitial == 0 || h.EdenMax < h.EdenInitial {
		return fmt.Errorf("config: bad eden sizing %d/%d", h.EdenInitial, h.EdenMax)
	}
	if h.SurvivorMax == 0 {
		return fmt.Errorf("config: survivor_max must be positive")
	}
	if h.OldInitial == 0 || h.OldMax < h.OldInitial {
		return fmt.Errorf("config: bad old generation sizing %d/%d", h.OldInitial, h.OldMax)
	}
	if c.Tunables.TenureAge == 0 {
		c.Tunables.TenureAge = 1
	}
	return nil
}
