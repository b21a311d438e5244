package ipc

import (
	"encoding/json"
	"fmt"
	"sync"

	"voxd/internal/config"
)

// Store holds the daemon's mutable configuration behind a mutex and turns
// IPC writes into restart/shutdown requests for the main loop. Requests
// coalesce: ten config writes in a row still produce one restart.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  config.Config

	restarts  chan struct{}
	shutdowns chan struct{}
}

func NewStore(path string, cfg config.Config) *Store {
	return &Store{
		path:      path,
		cfg:       cfg,
		restarts:  make(chan struct{}, 1),
		shutdowns: make(chan struct{}, 1),
	}
}

// Config returns a copy of the current configuration.
func (s *Store) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Transcriber returns the current transcriber section. The engine snapshots
// it at cycle start.
func (s *Store) Transcriber() config.TranscriberConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Transcriber
}

// SetShortcutTrigger persists a new trigger. Rebinding a shortcut requires a
// fresh portal session, so the caller follows up with RequestRestart.
func (s *Store) SetShortcutTrigger(trigger string) error {
	if trigger == "" {
		return fmt.Errorf("shortcut trigger must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Shortcut.Trigger = trigger
	return config.Save(s.path, s.cfg)
}

// SetTranscriberJSON replaces the transcriber section from its JSON form and
// persists the config. All provider settings coexist; writing one provider's
// settings never erases another's.
func (s *Store) SetTranscriberJSON(raw string) error {
	var tc config.TranscriberConfig
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		return fmt.Errorf("parsing transcriber config: %w", err)
	}
	if err := validateProvider(tc.Provider); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Transcriber = tc
	return config.Save(s.path, s.cfg)
}

// SetInjectionJSON replaces the injection section from its JSON form and
// persists the config.
func (s *Store) SetInjectionJSON(raw string) error {
	var ic config.InjectionConfig
	if err := json.Unmarshal([]byte(raw), &ic); err != nil {
		return fmt.Errorf("parsing injection config: %w", err)
	}
	if ic.TypingDelayMS < 0 {
		return fmt.Errorf("typing delay must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Injection = ic
	return config.Save(s.path, s.cfg)
}

// InjectionJSON renders the injection section for the IPC property.
func (s *Store) InjectionJSON() string {
	s.mu.Lock()
	ic := s.cfg.Injection
	s.mu.Unlock()

	raw, err := json.Marshal(ic)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// TranscriberJSON renders the transcriber section for the IPC property.
func (s *Store) TranscriberJSON() string {
	s.mu.Lock()
	tc := s.cfg.Transcriber
	s.mu.Unlock()

	raw, err := json.Marshal(tc)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func validateProvider(provider string) error {
	switch provider {
	case config.ProviderWhisperCpp, config.ProviderVoxtral, config.ProviderVoxtralRealtime:
		return nil
	default:
		return fmt.Errorf("unknown transcription provider %q", provider)
	}
}

// RequestRestart asks the main loop to rebuild the portal session and
// engine with the current config.
func (s *Store) RequestRestart() {
	select {
	case s.restarts <- struct{}{}:
	default:
	}
}

// RequestShutdown asks the main loop to exit cleanly.
func (s *Store) RequestShutdown() {
	select {
	case s.shutdowns <- struct{}{}:
	default:
	}
}

func (s *Store) RestartRequests() <-chan struct{}  { return s.restarts }
func (s *Store) ShutdownRequests() <-chan struct{} { return s.shutdowns }
