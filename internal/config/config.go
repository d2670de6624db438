package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for a simulation run
type Config struct {
	// Population
	Users            int     `yaml:"users" json:"users" toml:"users" validate:"gte=0"`
	Countries        int     `yaml:"countries" json:"countries" toml:"countries" validate:"gte=0"`
	UserDetection    float64 `yaml:"user_detection" json:"user_detection" toml:"user_detection" validate:"gte=0,lte=1"`
	CountryDetection float64 `yaml:"country_detection" json:"country_detection" toml:"country_detection" validate:"gte=0,lte=1"`
	UserAlpha        float64 `yaml:"user_alpha" json:"user_alpha" toml:"user_alpha" validate:"gte=0,lte=1"`
	CountryAlpha     float64 `yaml:"country_alpha" json:"country_alpha" toml:"country_alpha" validate:"gte=0,lte=1"`
	EdgesPerNode     int     `yaml:"edges_per_node" json:"edges_per_node" toml:"edges_per_node" validate:"gte=1"`

	// Run
	Run             string  `yaml:"run" json:"run" toml:"run"`
	Steps           int     `yaml:"steps" json:"steps" toml:"steps" validate:"gte=1"`
	Seed            int64   `yaml:"seed" json:"seed" toml:"seed"`
	ThreatMode      string  `yaml:"threat_mode" json:"threat_mode" toml:"threat_mode" validate:"oneof=always alpha"`
	TrackCentrality bool    `yaml:"track_centrality" json:"track_centrality" toml:"track_centrality"`
	SampleEvery     int     `yaml:"sample_every" json:"sample_every" toml:"sample_every" validate:"gte=1"`
	PathCacheSize   int     `yaml:"path_cache_size" json:"path_cache_size" toml:"path_cache_size" validate:"gte=0"`
	StepsPerSecond  float64 `yaml:"steps_per_second" json:"steps_per_second" toml:"steps_per_second" validate:"gte=0"`

	// Output
	Output          string `yaml:"output" json:"output" toml:"output"`
	OutputFormat    string `yaml:"output_format" json:"output_format" toml:"output_format" validate:"oneof=json jsonl csv"`
	Ingest          string `yaml:"ingest" json:"ingest" toml:"ingest" validate:"omitempty,url"`
	SpoolDir        string `yaml:"spool_dir" json:"spool_dir" toml:"spool_dir"`
	BatchMaxSamples int    `yaml:"batch_max_samples" json:"batch_max_samples" toml:"batch_max_samples" validate:"gte=1"`
	BatchFlushSec   int    `yaml:"batch_flush_sec" json:"batch_flush_sec" toml:"batch_flush_sec" validate:"gte=1"`

	// mTLS
	MTLSCert string `yaml:"mtls_cert" json:"mtls_cert" toml:"mtls_cert"`
	MTLSKey  string `yaml:"mtls_key" json:"mtls_key" toml:"mtls_key"`
	MTLSCA   string `yaml:"mtls_ca" json:"mtls_ca" toml:"mtls_ca"`

	// Observability
	LogLevel     string `yaml:"log_level" json:"log_level" toml:"log_level" validate:"oneof=debug info warn error"`
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr" toml:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint" toml:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure" toml:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service" toml:"otel_service"`

	// Redis
	RedisAddr string `yaml:"redis_addr" json:"redis_addr" toml:"redis_addr"`
	RedisKey  string `yaml:"redis_key" json:"redis_key" toml:"redis_key"`
}

// Default returns a configuration with every default applied, including the
// probabilities whose zero value is meaningful.
func Default() *Config {
	c := &Config{
		CountryDetection: 1,
		UserAlpha:        1,
		CountryAlpha:     1,
	}
	c.SetDefaults()
	return c
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.Users == 0 && c.Countries == 0 {
		c.Users = 100
		c.Countries = 10
	}
	if c.EdgesPerNode == 0 {
		c.EdgesPerNode = 1
	}
	if c.Run == "" {
		c.Run = "run-" + uuid.NewString()
	}
	if c.Steps == 0 {
		c.Steps = 10000
	}
	if c.ThreatMode == "" {
		c.ThreatMode = "always"
	}
	if c.SampleEvery == 0 {
		c.SampleEvery = 1
	}
	if c.PathCacheSize == 0 {
		c.PathCacheSize = 4096
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "json"
	}
	if c.SpoolDir == "" {
		c.SpoolDir = "spool"
	}
	if c.BatchMaxSamples == 0 {
		c.BatchMaxSamples = 500
	}
	if c.BatchFlushSec == 0 {
		c.BatchFlushSec = 2
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.OTELService == "" {
		c.OTELService = "balkansim"
	}
	if c.RedisKey == "" {
		c.RedisKey = "balkansim:samples"
	}
}

var validate = validator.New()

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	n := c.Users + c.Countries
	if n < 2 {
		return fmt.Errorf("need at least 2 nodes, got %d users and %d countries", c.Users, c.Countries)
	}
	if c.EdgesPerNode >= n {
		return fmt.Errorf("edges_per_node must be less than the node count (%d >= %d)", c.EdgesPerNode, n)
	}
	if (c.MTLSCert == "") != (c.MTLSKey == "") {
		return fmt.Errorf("mtls_cert and mtls_key must be set together")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML, JSON or TOML file. Fields the
// file leaves out keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{CountryDetection: 1, UserAlpha: 1, CountryAlpha: 1}
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, .json or .toml)", ext)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// MergeWithFlags merges command-line flags with file configuration.
// Only flags present in the map are applied, so callers pass just the flags
// the user actually set.
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["users"].(int); ok {
		c.Users = v
	}
	if v, ok := flags["countries"].(int); ok {
		c.Countries = v
	}
	if v, ok := flags["user_detection"].(float64); ok {
		c.UserDetection = v
	}
	if v, ok := flags["country_detection"].(float64); ok {
		c.CountryDetection = v
	}
	if v, ok := flags["user_alpha"].(float64); ok {
		c.UserAlpha = v
	}
	if v, ok := flags["country_alpha"].(float64); ok {
		c.CountryAlpha = v
	}
	if v, ok := flags["edges_per_node"].(int); ok && v > 0 {
		c.EdgesPerNode = v
	}
	if v, ok := flags["run"].(string); ok && v != "" {
		c.Run = v
	}
	if v, ok := flags["steps"].(int); ok && v > 0 {
		c.Steps = v
	}
	if v, ok := flags["seed"].(int64); ok {
		c.Seed = v
	}
	if v, ok := flags["threat_mode"].(string); ok && v != "" {
		c.ThreatMode = v
	}
	if v, ok := flags["track_centrality"].(bool); ok {
		c.TrackCentrality = v
	}
	if v, ok := flags["sample_every"].(int); ok && v > 0 {
		c.SampleEvery = v
	}
	if v, ok := flags["steps_per_second"].(float64); ok {
		c.StepsPerSecond = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output = v
	}
	if v, ok := flags["output_format"].(string); ok && v != "" {
		c.OutputFormat = v
	}
	if v, ok := flags["ingest"].(string); ok && v != "" {
		c.Ingest = v
	}
	if v, ok := flags["spool_dir"].(string); ok && v != "" {
		c.SpoolDir = v
	}
	if v, ok := flags["mtls_cert"].(string); ok && v != "" {
		c.MTLSCert = v
	}
	if v, ok := flags["mtls_key"].(string); ok && v != "" {
		c.MTLSKey = v
	}
	if v, ok := flags["mtls_ca"].(string); ok && v != "" {
		c.MTLSCA = v
	}
	if v, ok := flags["log_level"].(string); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("BALKANSIM_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BALKANSIM_SEED: %w", err)
		}
		c.Seed = seed
	}
	if v := os.Getenv("BALKANSIM_INGEST"); v != "" {
		c.Ingest = v
	}
	if v := os.Getenv("BALKANSIM_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_KEY"); v != "" {
		c.RedisKey = v
	}
	return nil
}
