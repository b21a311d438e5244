package ipc

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"voxd/internal/config"
)

func testConfig() config.Config {
	cfg, _ := config.Load(filepath.Join("nowhere", "missing.yaml"))
	return cfg
}

func TestSetShortcutTriggerPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(path, testConfig())

	if err := store.SetShortcutTrigger("<Super>d"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.Config().Shortcut.Trigger; got != "<Super>d" {
		t.Fatalf("unexpected trigger in store: %q", got)
	}

	reloaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("reloading config: %v", err)
	}
	if reloaded.Shortcut.Trigger != "<Super>d" {
		t.Fatalf("trigger not persisted: %q", reloaded.Shortcut.Trigger)
	}
}

func TestSetShortcutTriggerRejectsEmpty(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "config.yaml"), testConfig())
	if err := store.SetShortcutTrigger(""); err == nil {
		t.Fatalf("expected empty trigger to be rejected")
	}
}

func TestSetTranscriberJSONRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(path, testConfig())

	update := config.TranscriberConfig{
		Provider: config.ProviderVoxtral,
		Voxtral:  config.VoxtralConfig{APIKey: "k", Model: "m"},
		WhisperCpp: config.WhisperCppConfig{
			Command: "whisper-cpp",
			Args:    []string{"-m", "model.bin", "{audio_file}"},
		},
	}
	raw, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshalling update: %v", err)
	}

	if err := store.SetTranscriberJSON(string(raw)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := store.Transcriber()
	if got.Provider != config.ProviderVoxtral {
		t.Fatalf("unexpected provider: %q", got.Provider)
	}
	// Switching the active provider keeps the other provider's settings.
	if got.WhisperCpp.Command != "whisper-cpp" || len(got.WhisperCpp.Args) != 3 {
		t.Fatalf("whisper settings lost: %+v", got.WhisperCpp)
	}

	var decoded config.TranscriberConfig
	if err := json.Unmarshal([]byte(store.TranscriberJSON()), &decoded); err != nil {
		t.Fatalf("decoding property JSON: %v", err)
	}
	if decoded.Voxtral.APIKey != "k" {
		t.Fatalf("unexpected property JSON: %s", store.TranscriberJSON())
	}
}

func TestSetTranscriberJSONRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "config.yaml"), testConfig())
	if err := store.SetTranscriberJSON(`{"provider":"siri"}`); err == nil {
		t.Fatalf("expected unknown provider to be rejected")
	}
}

func TestSetTranscriberJSONRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "config.yaml"), testConfig())
	if err := store.SetTranscriberJSON("{not json"); err == nil {
		t.Fatalf("expected malformed JSON to be rejected")
	}
}

func TestSetInjectionJSONPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(path, testConfig())

	if err := store.SetInjectionJSON(`{"typing_delay_ms":12}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.Config().Injection.TypingDelayMS; got != 12 {
		t.Fatalf("unexpected delay in store: %d", got)
	}

	reloaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("reloading config: %v", err)
	}
	if reloaded.Injection.TypingDelayMS != 12 {
		t.Fatalf("delay not persisted: %d", reloaded.Injection.TypingDelayMS)
	}

	var decoded config.InjectionConfig
	if err := json.Unmarshal([]byte(store.InjectionJSON()), &decoded); err != nil {
		t.Fatalf("decoding property JSON: %v", err)
	}
	if decoded.TypingDelayMS != 12 {
		t.Fatalf("unexpected property JSON: %s", store.InjectionJSON())
	}
}

func TestSetInjectionJSONRejectsNegativeDelay(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "config.yaml"), testConfig())
	if err := store.SetInjectionJSON(`{"typing_delay_ms":-1}`); err == nil {
		t.Fatalf("expected negative delay to be rejected")
	}
}

func TestSetInjectionJSONRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "config.yaml"), testConfig())
	if err := store.SetInjectionJSON("{not json"); err == nil {
		t.Fatalf("expected malformed JSON to be rejected")
	}
}

func TestRestartRequestsCoalesce(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "config.yaml"), testConfig())
	store.RequestRestart()
	store.RequestRestart()
	store.RequestRestart()

	select {
	case <-store.RestartRequests():
	default:
		t.Fatalf("expected a pending restart request")
	}
	select {
	case <-store.RestartRequests():
		t.Fatalf("restart requests must coalesce")
	default:
	}
}

func TestShutdownRequest(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "config.yaml"), testConfig())
	store.RequestShutdown()

	select {
	case <-store.ShutdownRequests():
	default:
		t.Fatalf("expected a pending shutdown request")
	}
}
