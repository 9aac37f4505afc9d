// Package config holds the immutable configuration record passed to every
// core constructor (decoder, MMU, translator, cache). There is no
// process-wide singleton: callers build a Config once and thread it through.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the translator's top-level configuration record.
type Config struct {
	// ISA settings
	ISA struct {
		VLEN uint `toml:"vlen"` // vector register width in bits
	} `toml:"isa"`

	// Decoder settings
	Decoder struct {
		SoftCap int `toml:"soft_cap"` // max instructions per translated block
	} `toml:"decoder"`

	// Software MMU settings
	MMU struct {
		PageSize     uint32 `toml:"page_size"`
		ITLBCapacity int    `toml:"itlb_capacity"`
		DTLBCapacity int    `toml:"dtlb_capacity"`
	} `toml:"mmu"`

	// Translation cache settings
	Cache struct {
		Capacity int `toml:"capacity"`
	} `toml:"cache"`

	// Trace settings
	Trace struct {
		Enable     bool   `toml:"enable"`
		OutputFile string `toml:"output_file"`
		MaxEntries int    `toml:"max_entries"`
	} `toml:"trace"`

	// Introspection endpoints, off by default
	Introspect struct {
		EnableTUI       bool   `toml:"enable_tui"`
		EnableWebSocket bool   `toml:"enable_websocket"`
		ListenAddr      string `toml:"listen_addr"`
	} `toml:"introspect"`
}

// DefaultConfig returns the defaults spec.md names: VLEN=128, soft cap=256
// instructions, 64-entry TLBs, 4096-entry cache, 4 KiB pages.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.ISA.VLEN = 128

	cfg.Decoder.SoftCap = 256

	cfg.MMU.PageSize = 4096
	cfg.MMU.ITLBCapacity = 64
	cfg.MMU.DTLBCapacity = 64

	cfg.Cache.Capacity = 4096

	cfg.Trace.Enable = false
	cfg.Trace.OutputFile = "trace.log"
	cfg.Trace.MaxEntries = 100000

	cfg.Introspect.EnableTUI = false
	cfg.Introspect.EnableWebSocket = false
	cfg.Introspect.ListenAddr = "127.0.0.1:7700"

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		// Windows: %APPDATA%\rv2wasm\config.toml
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "rv2wasm")

	case "darwin", "linux":
		// macOS/Linux: ~/.config/rv2wasm/config.toml
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "rv2wasm")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file, falling back to
// DefaultConfig when it does not exist.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from path, layering it over the defaults so
// a partial file only overrides what it names.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// SaveTo saves configuration to the specified file.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- caller-controlled config path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// Validate rejects configuration values the core cannot operate under.
func (c *Config) Validate() error {
	if c.ISA.VLEN == 0 || c.ISA.VLEN%64 != 0 {
		return fmt.Errorf("vlen must be a positive multiple of 64, got %d", c.ISA.VLEN)
	}
	if c.Decoder.SoftCap <= 0 {
		return fmt.Errorf("decoder soft cap must be positive, got %d", c.Decoder.SoftCap)
	}
	if c.MMU.PageSize == 0 || c.MMU.PageSize&(c.MMU.PageSize-1) != 0 {
		return fmt.Errorf("page size must be a power of two, got %d", c.MMU.PageSize)
	}
	if c.MMU.ITLBCapacity <= 0 || c.MMU.DTLBCapacity <= 0 {
		return fmt.Errorf("TLB capacities must be positive")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive")
	}
	return nil
}
