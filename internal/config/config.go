// Package config loads runtime settings from defaults, an optional YAML
// file and AFFIRM_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration.
type Config struct {
	// Server
	Port int    `validate:"min=1,max=65535"`
	UI   string `validate:"oneof=http tui"`

	// Storage
	DataDir       string `validate:"required"`
	RecordingsDir string `validate:"required"`
	DBPath        string `validate:"required"`
	Format        string `validate:"oneof=m4a ogg wav"`
	KeepOriginal  bool

	// Engine
	Sensitivity      string        `validate:"oneof=low medium high"`
	SampleInterval   time.Duration `validate:"min=10ms,max=1s"`
	ProgressInterval time.Duration `validate:"min=10ms,max=1s"`
	RoutePoll        time.Duration `validate:"min=100ms"`

	// Transcription
	Transcriber       string `validate:"oneof=none openai command"`
	OpenAIAPIKey      string `validate:"required_if=Transcriber openai"`
	OpenAIModel       string
	OpenAIBaseURL     string
	TranscribeCommand string        `validate:"required_if=Transcriber command"`
	TranscribeTimeout time.Duration `validate:"min=1s"`
	Language          string

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`
	LogDir   string
}

var defaults = map[string]any{
	"port":               8080,
	"ui":                 "http",
	"format":             "m4a",
	"keep_original":      false,
	"sensitivity":        "medium",
	"sample_interval":    "100ms",
	"progress_interval":  "100ms",
	"route_poll":         "1s",
	"transcriber":        "none",
	"openai_model":       "whisper-1",
	"transcribe_timeout": "60s",
	"language":           "en",
	"log_level":          "info",
}

// Load reads the configuration and validates it.
func Load() (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("AFFIRM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// the unprefixed key the OpenAI tooling uses still works
	v.BindEnv("openai_api_key", "AFFIRM_OPENAI_API_KEY", "OPENAI_API_KEY")

	if err := readFile(v); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:              intOr(v, "port"),
		UI:                strings.ToLower(v.GetString("ui")),
		DataDir:           v.GetString("data_dir"),
		RecordingsDir:     v.GetString("recordings_dir"),
		DBPath:            v.GetString("db_path"),
		Format:            strings.ToLower(v.GetString("format")),
		KeepOriginal:      boolOr(v, "keep_original"),
		Sensitivity:       strings.ToLower(v.GetString("sensitivity")),
		SampleInterval:    durationOr(v, "sample_interval"),
		ProgressInterval:  durationOr(v, "progress_interval"),
		RoutePoll:         durationOr(v, "route_poll"),
		Transcriber:       strings.ToLower(v.GetString("transcriber")),
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		OpenAIModel:       v.GetString("openai_model"),
		OpenAIBaseURL:     v.GetString("openai_base_url"),
		TranscribeCommand: v.GetString("transcribe_command"),
		TranscribeTimeout: durationOr(v, "transcribe_timeout"),
		Language:          v.GetString("language"),
		LogLevel:          strings.ToLower(v.GetString("log_level")),
		LogDir:            v.GetString("log_dir"),
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = filepath.Join(cfg.DataDir, "recordings")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "affirm.sqlite")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// readFile merges AFFIRM_CONFIG, or ~/.config/affirm/config.yaml when it
// exists. An explicit path that is missing is an error.
func readFile(v *viper.Viper) error {
	if path := os.Getenv("AFFIRM_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(home, ".config", "affirm"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "affirm-data"
	}
	return filepath.Join(home, ".local", "share", "affirm")
}

// intOr parses key, falling back to its default when the value is not a
// number.
func intOr(v *viper.Viper, key string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key))); err == nil {
		return n
	}
	return defaults[key].(int)
}

func boolOr(v *viper.Viper, key string) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(v.GetString(key))); err == nil {
		return b
	}
	return defaults[key].(bool)
}

func durationOr(v *viper.Viper, key string) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key))); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaults[key].(string))
	return d
}
