package bootstrap

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voxd/internal/audio"
	"voxd/internal/config"
	"voxd/internal/engine"
	"voxd/internal/inject"
	"voxd/internal/ports"
	"voxd/internal/transcribe"
)

// Deps are the runtime collaborators owned by the caller: the portal
// manager (which also implements the injection keyboard) and the event sink.
type Deps struct {
	Portal      ports.PortalSession
	Keyboard    inject.Keyboard
	Sink        ports.EventSink
	Transcriber func() config.TranscriberConfig
	Log         zerolog.Logger
}

// Build assembles the dictation engine for the current config.
func Build(cfg config.Config, deps Deps) (*engine.Engine, error) {
	if deps.Portal == nil {
		return nil, fmt.Errorf("portal session is required")
	}
	if deps.Keyboard == nil {
		return nil, fmt.Errorf("keyboard is required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	if deps.Transcriber == nil {
		snapshot := cfg.Transcriber
		deps.Transcriber = func() config.TranscriberConfig { return snapshot }
	}

	injector := inject.New(
		deps.Keyboard,
		time.Duration(cfg.Injection.TypingDelayMS)*time.Millisecond,
		deps.Log,
	)

	return engine.New(engine.Options{
		Portal:   deps.Portal,
		Capture:  audio.NewCapture(deps.Log),
		Injector: injector,
		Sink:     deps.Sink,
		NewDispatcher: func() ports.Dispatcher {
			return transcribe.New(deps.Transcriber(), deps.Log)
		},
		Audio: ports.AudioConfig{
			SampleRate:      cfg.Audio.SampleRate,
			Channels:        cfg.Audio.Channels,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		},
		Log: deps.Log,
	}), nil
}
