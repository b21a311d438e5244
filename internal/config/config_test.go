package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Transcriber.Provider != ProviderWhisperCpp {
		t.Fatalf("unexpected default provider: %q", cfg.Transcriber.Provider)
	}
	if cfg.Transcriber.WhisperCpp.Command != "whisper-cpp" {
		t.Fatalf("unexpected default command: %q", cfg.Transcriber.WhisperCpp.Command)
	}
	if cfg.Shortcut.Trigger != "<Super>space" {
		t.Fatalf("unexpected default trigger: %q", cfg.Shortcut.Trigger)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Injection.TypingDelayMS != 5 {
		t.Fatalf("unexpected typing delay: %d", cfg.Injection.TypingDelayMS)
	}
}

func TestLoadKeepsAllProviderSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
transcriber:
  provider: voxtral
  whisper_cpp:
    command: /usr/local/bin/my-whisper
    args: ["-m", "model.bin", "{audio_file}"]
  voxtral:
    api_key: sk-batch
  voxtral_realtime:
    api_key: sk-rt
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Transcriber.Provider != ProviderVoxtral {
		t.Fatalf("unexpected provider: %q", cfg.Transcriber.Provider)
	}
	// Selecting one provider must not discard the others' settings.
	if cfg.Transcriber.WhisperCpp.Command != "/usr/local/bin/my-whisper" {
		t.Fatalf("whisper settings lost: %+v", cfg.Transcriber.WhisperCpp)
	}
	if len(cfg.Transcriber.WhisperCpp.Args) != 3 || cfg.Transcriber.WhisperCpp.Args[2] != "{audio_file}" {
		t.Fatalf("whisper args lost: %+v", cfg.Transcriber.WhisperCpp.Args)
	}
	if cfg.Transcriber.Voxtral.APIKey != "sk-batch" || cfg.Transcriber.VoxtralRealtime.APIKey != "sk-rt" {
		t.Fatalf("cloud provider settings lost: %+v", cfg.Transcriber)
	}
	if cfg.Transcriber.Voxtral.Model != "voxtral-mini-2602" {
		t.Fatalf("expected default model fill-in, got %q", cfg.Transcriber.Voxtral.Model)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("VOXD_TEST_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "transcriber:\n  voxtral:\n    api_key: ${VOXD_TEST_KEY}\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Transcriber.Voxtral.APIKey != "sk-from-env" {
		t.Fatalf("env not expanded: %q", cfg.Transcriber.Voxtral.APIKey)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	cfg.Shortcut.Trigger = "<Control>d"
	cfg.Transcriber.Provider = ProviderVoxtralRealtime

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Shortcut.Trigger != "<Control>d" {
		t.Fatalf("trigger not persisted: %q", loaded.Shortcut.Trigger)
	}
	if loaded.Transcriber.Provider != ProviderVoxtralRealtime {
		t.Fatalf("provider not persisted: %q", loaded.Transcriber.Provider)
	}
}

func TestTokenPathOverride(t *testing.T) {
	t.Setenv("VOXD_RESTORE_TOKEN_PATH", "/tmp/custom_token")

	var cfg Config
	cfg.setDefaults()
	if got := cfg.TokenPath(); got != "/tmp/custom_token" {
		t.Fatalf("override ignored: %q", got)
	}

	t.Setenv("VOXD_RESTORE_TOKEN_PATH", "")
	cfg.Persistence.TokenPath = "/var/lib/voxd/token"
	if got := cfg.TokenPath(); got != "/var/lib/voxd/token" {
		t.Fatalf("configured path ignored: %q", got)
	}
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("transcriber: [not a map"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
