package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/user/gencanvas/internal/types"
)

type Config struct {
	DataDir  string `json:"data_dir" toml:"data_dir" yaml:"data_dir"`
	LogLevel string `json:"log_level" toml:"log_level" yaml:"log_level"`
	Listen   string `json:"listen" toml:"listen" yaml:"listen"`
	CanvasID string `json:"canvas_id" toml:"canvas_id" yaml:"canvas_id"`
	// MaxConcurrent bounds single-node operations served over HTTP at once.
	MaxConcurrent int `json:"max_concurrent" toml:"max_concurrent" yaml:"max_concurrent"`
	Storage       struct {
		// Canvas is "json" or "sqlite".
		Canvas string `json:"canvas" toml:"canvas" yaml:"canvas"`
		// Blobs is "local", "redis" or "inline".
		Blobs         string `json:"blobs" toml:"blobs" yaml:"blobs"`
		RedisAddr     string `json:"redis_addr" toml:"redis_addr" yaml:"redis_addr"`
		RedisTTLHours int    `json:"redis_ttl_hours" toml:"redis_ttl_hours" yaml:"redis_ttl_hours"`
	} `json:"storage" toml:"storage" yaml:"storage"`
	Gemini struct {
		BaseURL        string `json:"base_url" toml:"base_url" yaml:"base_url"`
		APIKey         string `json:"api_key" toml:"api_key" yaml:"api_key"`
		Model          string `json:"model" toml:"model" yaml:"model"`
		AnalysisModel  string `json:"analysis_model" toml:"analysis_model" yaml:"analysis_model"`
		TimeoutSeconds int    `json:"timeout_seconds" toml:"timeout_seconds" yaml:"timeout_seconds"`
		// RetryAttempts bounds tries per image on transient failures.
		RetryAttempts int `json:"retry_attempts" toml:"retry_attempts" yaml:"retry_attempts"`
	} `json:"gemini" toml:"gemini" yaml:"gemini"`
	Preferences Preferences `json:"preferences" toml:"preferences" yaml:"preferences"`
}

// Preferences are user settings the generation core reads but never writes.
type Preferences struct {
	Direction          string `json:"direction" toml:"direction" yaml:"direction"`
	DefaultCount       int    `json:"default_count" toml:"default_count" yaml:"default_count"`
	DefaultImageSize   string `json:"default_image_size" toml:"default_image_size" yaml:"default_image_size"`
	DefaultAspectRatio string `json:"default_aspect_ratio" toml:"default_aspect_ratio" yaml:"default_aspect_ratio"`
	ContinueMode       string `json:"continue_mode" toml:"continue_mode" yaml:"continue_mode"`
	HistoryDepth       int    `json:"history_depth" toml:"history_depth" yaml:"history_depth"`
	CollapsePreviews   bool   `json:"collapse_previews" toml:"collapse_previews" yaml:"collapse_previews"`
	PreviewDepth       int    `json:"preview_depth" toml:"preview_depth" yaml:"preview_depth"`
	LatestLevels       int    `json:"latest_levels" toml:"latest_levels" yaml:"latest_levels"`
	AutoAnalyze        bool   `json:"auto_analyze" toml:"auto_analyze" yaml:"auto_analyze"`
	BatchConcurrency   int    `json:"batch_concurrency" toml:"batch_concurrency" yaml:"batch_concurrency"`
	StallAfterSeconds  int    `json:"stall_after_seconds" toml:"stall_after_seconds" yaml:"stall_after_seconds"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".gencanvas"),
		LogLevel:      "info",
		Listen:        "127.0.0.1:8088",
		CanvasID:      "default",
		MaxConcurrent: 2,
	}
	cfg.Storage.Canvas = "json"
	cfg.Storage.Blobs = "local"
	cfg.Storage.RedisAddr = "localhost:6379"
	cfg.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	cfg.Gemini.Model = "gemini-3-pro-image-preview"
	cfg.Gemini.AnalysisModel = "gemini-2.5-flash"
	cfg.Gemini.TimeoutSeconds = 120
	cfg.Gemini.RetryAttempts = 3
	cfg.Preferences = Preferences{
		Direction:          "down",
		DefaultCount:       1,
		DefaultImageSize:   string(types.ImageSize1K),
		DefaultAspectRatio: string(types.AspectSquare),
		ContinueMode:       "single",
		HistoryDepth:       6,
		CollapsePreviews:   true,
		PreviewDepth:       3,
		BatchConcurrency:   3,
		StallAfterSeconds:  600,
	}
	return cfg
}

// Load reads path over the defaults, writing the defaults first if the file
// does not exist. Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.Normalize()
	return cfg, nil
}

// ApplyEnvOverrides copies set environment variables over the file values.
func (c *Config) ApplyEnvOverrides() {
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		c.Gemini.APIKey = apiKey
	}
	if baseURL := os.Getenv("GEMINI_BASE_URL"); baseURL != "" {
		c.Gemini.BaseURL = baseURL
	}
	if addr := os.Getenv("GENCANVAS_REDIS_ADDR"); addr != "" {
		c.Storage.RedisAddr = addr
	}
	if dir := os.Getenv("GENCANVAS_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
}

// Normalize clamps every setting into its valid range.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CanvasID == "" {
		c.CanvasID = "default"
	}
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	switch c.Storage.Canvas {
	case "json", "sqlite":
	default:
		c.Storage.Canvas = "json"
	}
	switch c.Storage.Blobs {
	case "local", "redis", "inline":
	default:
		c.Storage.Blobs = "local"
	}
	if c.Storage.RedisTTLHours < 0 {
		c.Storage.RedisTTLHours = 0
	}
	if c.Gemini.TimeoutSeconds <= 0 {
		c.Gemini.TimeoutSeconds = 120
	}
	c.Gemini.RetryAttempts = clamp(c.Gemini.RetryAttempts, 1, 5, 3)
	c.Preferences.Normalize()
}

// Normalize clamps preferences into their valid ranges.
func (p *Preferences) Normalize() {
	if p.Direction != "right" {
		p.Direction = "down"
	}
	p.DefaultCount = types.ClampCount(p.DefaultCount)
	if !types.ImageSize(p.DefaultImageSize).Valid() {
		p.DefaultImageSize = string(types.ImageSize1K)
	}
	if !types.AspectRatio(p.DefaultAspectRatio).Valid() {
		p.DefaultAspectRatio = string(types.AspectSquare)
	}
	if p.ContinueMode != "multi" {
		p.ContinueMode = "single"
	}
	p.HistoryDepth = clamp(p.HistoryDepth, 1, 12, 6)
	p.PreviewDepth = clamp(p.PreviewDepth, 1, 6, 3)
	if p.LatestLevels < 0 {
		p.LatestLevels = 0
	}
	p.BatchConcurrency = clamp(p.BatchConcurrency, 1, 6, 3)
	if p.StallAfterSeconds <= 0 {
		p.StallAfterSeconds = 600
	} else if p.StallAfterSeconds < 30 {
		p.StallAfterSeconds = 30
	}
}

// clamp maps v into [lo, hi]; zero means def.
func clamp(v, lo, hi, def int) int {
	switch {
	case v == 0:
		return def
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// format picks the file format from the extension; JSON is the default.
func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}

func decode(path string, data []byte, v any) error {
	switch format(path) {
	case "toml":
		if _, err := toml.Decode(string(data), v); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	}
	return nil
}

func encode(path string, v any) ([]byte, error) {
	switch format(path) {
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode YAML: %w", err)
		}
		return data, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// Save writes cfg to path in the format its extension names, atomically.
func Save(path string, cfg *Config) error {
	data, err := encode(path, cfg)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into a nested map keyed by its JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as a flat dot-keyed map, optionally with secrets
// masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := flatten(m)
	if mask {
		for k, v := range flat {
			if IsSecretKey(k) {
				flat[k] = Mask(v)
			}
		}
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := make(map[string]any)
	if err := decode(path, data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetValue returns the effective value of key: the file over the defaults,
// with environment overrides and normalization applied. The file is created
// with defaults first if it does not exist.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, unknownKeyError(key)
	}
	return v, nil
}

// SetValue stores value under a known key, keeping everything else in the
// file as written. The value is parsed as the key's type, so "2025" stays a
// string for canvas_id and becomes an integer for preferences.default_count.
func SetValue(path, key, value string) error {
	v, err := coerce(key, value)
	if err != nil {
		return err
	}
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	if err := setPath(m, key, v); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	data, err := encode(path, m)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}
