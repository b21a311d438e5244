package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in the transcriber section. All provider settings
// coexist regardless of which one is active; switching providers never
// discards another provider's settings.
const (
	ProviderWhisperCpp      = "whisper-cpp"
	ProviderVoxtral         = "voxtral"
	ProviderVoxtralRealtime = "voxtral-realtime"
)

// Config stores the daemon's runtime configuration.
type Config struct {
	Log         LogConfig         `yaml:"log" json:"log"`
	Shortcut    ShortcutConfig    `yaml:"shortcut" json:"shortcut"`
	Audio       AudioConfig       `yaml:"audio" json:"audio"`
	Injection   InjectionConfig   `yaml:"injection" json:"injection"`
	Persistence PersistenceConfig `yaml:"persistence" json:"persistence"`
	Transcriber TranscriberConfig `yaml:"transcriber" json:"transcriber"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

type ShortcutConfig struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
	Trigger     string `yaml:"trigger" json:"trigger"`
}

type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate" json:"sample_rate"`
	Channels        int `yaml:"channels" json:"channels"`
	FramesPerBuffer int `yaml:"frames_per_buffer" json:"frames_per_buffer"`
}

type InjectionConfig struct {
	TypingDelayMS int `yaml:"typing_delay_ms" json:"typing_delay_ms"`
}

type PersistenceConfig struct {
	TokenPath string `yaml:"token_path" json:"token_path"`
}

// TranscriberConfig selects the active provider and holds every provider's
// settings side by side.
type TranscriberConfig struct {
	Provider        string                `yaml:"provider" json:"provider"`
	WhisperCpp      WhisperCppConfig      `yaml:"whisper_cpp" json:"whisper_cpp"`
	Voxtral         VoxtralConfig         `yaml:"voxtral" json:"voxtral"`
	VoxtralRealtime VoxtralRealtimeConfig `yaml:"voxtral_realtime" json:"voxtral_realtime"`
}

type WhisperCppConfig struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`
}

type VoxtralConfig struct {
	APIKey   string `yaml:"api_key" json:"api_key"`
	Model    string `yaml:"model" json:"model"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

type VoxtralRealtimeConfig struct {
	APIKey   string `yaml:"api_key" json:"api_key"`
	Model    string `yaml:"model" json:"model"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// Load reads configuration from path. A missing file yields defaults.
// Environment variable references in the file are expanded before parsing.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Config{}
			cfg.setDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()
	return cfg, nil
}

// Save writes the configuration back to path, creating parent directories.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// DefaultPath resolves the standard config file location under
// XDG_CONFIG_HOME.
func DefaultPath() string {
	return filepath.Join(configHome(), "voxd", "config.yaml")
}

// TokenPath resolves the restore token location, respecting the
// VOXD_RESTORE_TOKEN_PATH override.
func (c Config) TokenPath() string {
	if override := os.Getenv("VOXD_RESTORE_TOKEN_PATH"); override != "" {
		return override
	}
	if c.Persistence.TokenPath != "" {
		return c.Persistence.TokenPath
	}
	return filepath.Join(configHome(), "voxd", "restore_token")
}

func configHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Shortcut.ID == "" {
		c.Shortcut.ID = "dictate_toggle"
	}
	if c.Shortcut.Description == "" {
		c.Shortcut.Description = "Dictate"
	}
	if c.Shortcut.Trigger == "" {
		c.Shortcut.Trigger = "<Super>space"
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.FramesPerBuffer <= 0 {
		c.Audio.FramesPerBuffer = 1024
	}
	if c.Injection.TypingDelayMS < 0 {
		c.Injection.TypingDelayMS = 0
	} else if c.Injection.TypingDelayMS == 0 {
		c.Injection.TypingDelayMS = 5
	}
	if c.Transcriber.Provider == "" {
		c.Transcriber.Provider = ProviderWhisperCpp
	}
	if c.Transcriber.WhisperCpp.Command == "" {
		c.Transcriber.WhisperCpp.Command = "whisper-cpp"
	}
	if c.Transcriber.Voxtral.Model == "" {
		c.Transcriber.Voxtral.Model = "voxtral-mini-2602"
	}
	if c.Transcriber.VoxtralRealtime.Model == "" {
		c.Transcriber.VoxtralRealtime.Model = "voxtral-mini-transcribe-realtime-2602"
	}
}
