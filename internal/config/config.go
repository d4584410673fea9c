package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/varalys/osintkit/internal/detectors"
	"github.com/varalys/osintkit/internal/normalize"
	"github.com/varalys/osintkit/internal/types"
)

// FileConfig is the on-disk configuration shape for osintkit. Pointer fields
// distinguish "not set" from zero values so CLI > local > global precedence
// can be resolved field by field.
type FileConfig struct {
	Format    *string `yaml:"format,omitempty" toml:"format,omitempty"`
	Kind      *string `yaml:"kind,omitempty" toml:"kind,omitempty"`
	Include   *string `yaml:"include,omitempty" toml:"include,omitempty"`
	Exclude   *string `yaml:"exclude,omitempty" toml:"exclude,omitempty"`
	Threads   *int    `yaml:"threads,omitempty" toml:"threads,omitempty"`
	NoColor   *bool   `yaml:"no_color,omitempty" toml:"no_color,omitempty"`
	FailOn    *string `yaml:"fail_on,omitempty" toml:"fail_on,omitempty"`
	LogLevel  *string `yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	LogFormat *string `yaml:"log_format,omitempty" toml:"log_format,omitempty"`
	AuditLog  *string `yaml:"audit_log,omitempty" toml:"audit_log,omitempty"`

	// Reader limits mirror CLI flags
	MaxArchiveBytes *int64  `yaml:"max_archive_bytes,omitempty" toml:"max_archive_bytes,omitempty"`
	MaxEntries      *int    `yaml:"max_entries,omitempty" toml:"max_entries,omitempty"`
	MaxDepth        *int    `yaml:"max_depth,omitempty" toml:"max_depth,omitempty"`
	TimeBudget      *string `yaml:"time_budget,omitempty" toml:"time_budget,omitempty"`

	// Per-format reader options
	Delimiter  *string `yaml:"delimiter,omitempty" toml:"delimiter,omitempty"`
	Sheet      *string `yaml:"sheet,omitempty" toml:"sheet,omitempty"`
	Table      *string `yaml:"table,omitempty" toml:"table,omitempty"`
	RecordPath *string `yaml:"record_path,omitempty" toml:"record_path,omitempty"`
	Schema     *string `yaml:"schema,omitempty" toml:"schema,omitempty"`
	Encoding   *string `yaml:"encoding,omitempty" toml:"encoding,omitempty"`

	Detectors *DetectorConfig `yaml:"detectors,omitempty" toml:"detectors,omitempty"`

	// Fields overrides the document field maps per kind (post, transaction, row).
	Fields map[string]normalize.FieldMap `yaml:"fields,omitempty" toml:"fields,omitempty"`
}

// DetectorConfig holds rule tunables. Unset fields keep the defaults.
type DetectorConfig struct {
	Threshold             *int     `yaml:"threshold,omitempty" toml:"threshold,omitempty"`
	FrequencyField        *string  `yaml:"frequency_field,omitempty" toml:"frequency_field,omitempty"`
	DangerousExtensions   []string `yaml:"dangerous_extensions,omitempty" toml:"dangerous_extensions,omitempty"`
	DangerousContentTypes []string `yaml:"dangerous_content_types,omitempty" toml:"dangerous_content_types,omitempty"`
	RequiredFields        []string `yaml:"required_fields,omitempty" toml:"required_fields,omitempty"`
	HeaderPair            []string `yaml:"header_pair,omitempty" toml:"header_pair,omitempty"`
	ValueThreshold        *float64 `yaml:"value_threshold,omitempty" toml:"value_threshold,omitempty"`
	Enable                []string `yaml:"enable,omitempty" toml:"enable,omitempty"`
	Disable               []string `yaml:"disable,omitempty" toml:"disable,omitempty"`
}

// LocalNames are searched in order by LoadLocal.
var LocalNames = []string{".osintkit.yml", ".osintkit.yaml", ".osintkit.toml", "osintkit.yml", "osintkit.yaml", "osintkit.toml"}

// LoadFile reads a config file from the provided path. Files ending in .toml
// are decoded as TOML, everything else as YAML.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(b), &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadLocal searches for a project-local config file in dir.
func LoadLocal(dir string) (FileConfig, error) {
	var cfg FileConfig
	for _, name := range LocalNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}
	return cfg, errors.New("no local config")
}

// GlobalPath returns where the global config lives, or "" when no config
// directory can be determined.
func GlobalPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			base = filepath.Join(home, ".config")
		}
	}
	if base == "" {
		return ""
	}
	return filepath.Join(base, "osintkit", "config.yml")
}

// LoadGlobal loads the global config file from XDG base directory or ~/.config.
func LoadGlobal() (FileConfig, error) {
	var cfg FileConfig
	p := GlobalPath()
	if p == "" {
		return cfg, errors.New("no config dir")
	}
	if _, err := os.Stat(p); err == nil {
		return LoadFile(p)
	}
	return cfg, errors.New("no global config")
}

// Apply overlays the set fields of dc onto c.
func (dc *DetectorConfig) Apply(c *detectors.Config) {
	if dc == nil {
		return
	}
	if dc.Threshold != nil {
		c.Threshold = *dc.Threshold
	}
	if dc.FrequencyField != nil {
		c.FrequencyField = *dc.FrequencyField
	}
	if dc.DangerousExtensions != nil {
		c.DangerousExtensions = dc.DangerousExtensions
	}
	if dc.DangerousContentTypes != nil {
		c.DangerousContentTypes = dc.DangerousContentTypes
	}
	if dc.RequiredFields != nil {
		c.RequiredFields = dc.RequiredFields
	}
	if len(dc.HeaderPair) == 2 {
		c.HeaderPair = [2]string{dc.HeaderPair[0], dc.HeaderPair[1]}
	}
	if dc.ValueThreshold != nil {
		c.ValueThreshold = *dc.ValueThreshold
	}
	if dc.Enable != nil {
		c.Enable = dc.Enable
	}
	if dc.Disable != nil {
		c.Disable = dc.Disable
	}
}

// FieldMaps converts the Fields section into normalizer options, rejecting
// unknown kinds.
func (fc FileConfig) FieldMaps() (map[types.SourceKind]normalize.FieldMap, error) {
	if len(fc.Fields) == 0 {
		return nil, nil
	}
	out := make(map[types.SourceKind]normalize.FieldMap, len(fc.Fields))
	for name, fm := range fc.Fields {
		k, ok := types.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("fields: unknown kind %q", name)
		}
		out[k] = fm
	}
	return out, nil
}
