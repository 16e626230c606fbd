package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/janekbaraniewski/usagerecon/internal/core"
	"github.com/janekbaraniewski/usagerecon/internal/logging"
	"github.com/janekbaraniewski/usagerecon/internal/recon"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

type IndexConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	// Path of the SQLite file; empty means a temporary file removed after the run.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

type Config struct {
	BufferHours     int               `json:"buffer_hours" yaml:"buffer_hours"`
	ToleranceHours  int               `json:"tolerance_hours" yaml:"tolerance_hours"`
	SurfaceMismatch bool              `json:"surface_mismatch" yaml:"surface_mismatch"`
	FoldLoginCase   bool              `json:"fold_login_case" yaml:"fold_login_case"`
	MinVersions     core.SupportTable `json:"min_versions" yaml:"min_versions"`
	FamilyAliases   map[string]string `json:"family_aliases,omitempty" yaml:"family_aliases,omitempty"`
	ChatPlugins     []string          `json:"chat_plugins" yaml:"chat_plugins"`
	MaxRecordBytes  int               `json:"max_record_bytes,omitempty" yaml:"max_record_bytes,omitempty"`
	Index           IndexConfig       `json:"index" yaml:"index"`
	Log             logging.Config    `json:"log" yaml:"log"`
}

func DefaultConfig() Config {
	return Config{
		BufferHours:     96,
		ToleranceHours:  24,
		SurfaceMismatch: true,
		MinVersions:     core.DefaultSupportTable(),
		ChatPlugins:     append([]string(nil), core.DefaultChatPlugins...),
		Index:           IndexConfig{Backend: BackendMemory},
		Log:             logging.Config{Level: "info", Format: "console"},
	}
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "usagerecon")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "usagerecon")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads a JSON or YAML (by extension) config file over the defaults.
// A missing file yields the defaults. Families listed under min_versions
// replace the default row for that family; other defaults stay.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	cfg.MinVersions = nil
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	merged := core.DefaultSupportTable()
	for family, row := range c.MinVersions.Normalized() {
		merged[family] = row
	}
	c.MinVersions = merged
	if len(c.ChatPlugins) == 0 {
		c.ChatPlugins = append([]string(nil), core.DefaultChatPlugins...)
	}
	c.Index.Backend = strings.ToLower(strings.TrimSpace(c.Index.Backend))
	if c.Index.Backend == "" {
		c.Index.Backend = BackendMemory
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if strings.TrimSpace(c.Log.Format) == "" {
		c.Log.Format = "console"
	}
}

// Validate rejects values no run could use.
func (c Config) Validate() error {
	if c.BufferHours < 0 {
		return fmt.Errorf("buffer_hours must not be negative, got %d", c.BufferHours)
	}
	if c.ToleranceHours < 0 {
		return fmt.Errorf("tolerance_hours must not be negative, got %d", c.ToleranceHours)
	}
	if c.MaxRecordBytes < 0 {
		return fmt.Errorf("max_record_bytes must not be negative, got %d", c.MaxRecordBytes)
	}
	switch c.Index.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("index.backend must be %q or %q, got %q", BackendMemory, BackendSQLite, c.Index.Backend)
	}
	return nil
}

// Options converts the configuration into engine options.
func (c Config) Options() recon.Options {
	opts := recon.DefaultOptions()
	opts.Buffer = core.BufferHours(c.BufferHours)
	opts.Tolerance = time.Duration(c.ToleranceHours) * time.Hour
	opts.SurfaceCheck = c.SurfaceMismatch
	opts.Support = c.MinVersions
	opts.FamilyAliases = c.FamilyAliases
	opts.ChatPlugins = c.ChatPlugins
	opts.FoldLoginCase = c.FoldLoginCase
	opts.MaxRecordBytes = c.MaxRecordBytes
	if c.Index.Backend == BackendSQLite {
		opts.NewStore = recon.SQLiteStoreFactory(c.Index.Path)
	}
	return opts
}

// SaveTo writes cfg as JSON, or YAML when path ends in .yaml or .yml.
func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
