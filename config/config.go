// Package config loads the application configuration: data feed
// credentials, symbol universes, server and output settings.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig is the on-disk file layout.
type YAMLConfig struct {
	Feed struct {
		KeyID     string `yaml:"key_id"`
		SecretKey string `yaml:"secret_key"`
		BaseURL   string `yaml:"base_url"`
	} `yaml:"feed"`

	Universes map[string][]string `yaml:"universes"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Output struct {
		Dir      string `yaml:"dir"`
		Database string `yaml:"database"`
	} `yaml:"output"`

	Scan struct {
		Universe string  `yaml:"universe"`
		Interval int     `yaml:"interval"` // seconds, pre-market polling
		GapPct   float64 `yaml:"gap_pct"`
	} `yaml:"scan"`
}

type Config struct {
	// Data feed (Alpaca key pair and optional proxy URL).
	FeedKeyID     string
	FeedSecretKey string
	FeedBaseURL   string

	// Named symbol lists, e.g. "smallcaps", "bigtech".
	Universes map[string][]string

	// HTTP server port.
	Port int

	// Run artifact directory and SQLite path.
	OutputDir string
	Database  string

	// Live scan settings.
	ScanUniverse string
	ScanInterval time.Duration
	ScanGapPct   float64
}

var DefaultConfig = Config{
	Port:         19527,
	OutputDir:    "output",
	Database:     "output/gaptrade.db",
	ScanUniverse: "smallcaps",
	ScanInterval: 30 * time.Second,
	ScanGapPct:   3,
	Universes: map[string][]string{
		"bigtech":   {"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA"},
		"smallcaps": {"IWM"},
	},
}

var symbolRe = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]*$`)

// normalizeSymbol uppercases and trims a ticker; an empty string means
// the input was not a usable symbol.
func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !symbolRe.MatchString(s) {
		return ""
	}
	return s
}

func normalizeUniverses(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for name, symbols := range in {
		var clean []string
		seen := make(map[string]bool)
		for _, s := range symbols {
			sym := normalizeSymbol(s)
			if sym == "" || seen[sym] {
				continue
			}
			seen[sym] = true
			clean = append(clean, sym)
		}
		sort.Strings(clean)
		if len(clean) > 0 {
			out[strings.ToLower(strings.TrimSpace(name))] = clean
		}
	}
	return out
}

// LoadFromFile reads a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var yamlConfig YAMLConfig
	if err := yaml.Unmarshal(data, &yamlConfig); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	config := DefaultConfig

	if yamlConfig.Feed.KeyID != "" {
		config.FeedKeyID = yamlConfig.Feed.KeyID
	}
	if yamlConfig.Feed.SecretKey != "" {
		config.FeedSecretKey = yamlConfig.Feed.SecretKey
	}
	if yamlConfig.Feed.BaseURL != "" {
		config.FeedBaseURL = yamlConfig.Feed.BaseURL
	}

	if len(yamlConfig.Universes) > 0 {
		config.Universes = normalizeUniverses(yamlConfig.Universes)
	}

	if yamlConfig.Server.Port > 0 {
		config.Port = yamlConfig.Server.Port
	}
	if yamlConfig.Output.Dir != "" {
		config.OutputDir = yamlConfig.Output.Dir
	}
	if yamlConfig.Output.Database != "" {
		config.Database = yamlConfig.Output.Database
	}

	if yamlConfig.Scan.Universe != "" {
		config.ScanUniverse = strings.ToLower(yamlConfig.Scan.Universe)
	}
	if yamlConfig.Scan.Interval > 0 {
		config.ScanInterval = time.Duration(yamlConfig.Scan.Interval) * time.Second
	}
	if yamlConfig.Scan.GapPct > 0 {
		config.ScanGapPct = yamlConfig.Scan.GapPct
	}

	return &config, nil
}

// GetConfig loads configuration with priority: file > environment >
// defaults.
func GetConfig(configPath string) *Config {
	config := DefaultConfig

	if configPath != "" {
		if cfg, err := LoadFromFile(configPath); err == nil {
			config = *cfg
		} else {
			fmt.Fprintf(os.Stderr, "warning: cannot load config file %s: %v\n", configPath, err)
		}
	}

	if key := os.Getenv("APCA_API_KEY_ID"); key != "" && config.FeedKeyID == "" {
		config.FeedKeyID = key
	}
	if secret := os.Getenv("APCA_API_SECRET_KEY"); secret != "" && config.FeedSecretKey == "" {
		config.FeedSecretKey = secret
	}
	if url := os.Getenv("APCA_API_DATA_URL"); url != "" && config.FeedBaseURL == "" {
		config.FeedBaseURL = url
	}

	config.Universes = normalizeUniverses(config.Universes)

	return &config
}

// Universe resolves a named symbol list, nil when unknown.
func (c *Config) Universe(name string) []string {
	return c.Universes[strings.ToLower(strings.TrimSpace(name))]
}
