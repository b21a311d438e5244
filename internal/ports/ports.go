package ports

import (
	"context"

	"voxd/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// CaptureSession is a live microphone capture.
type CaptureSession interface {
	// Frames delivers fixed-size PCM frames as they arrive. The channel is
	// closed when capture stops or the device disappears mid-capture.
	Frames() <-chan []int16
	// Stop ends the capture and returns everything recorded so far as a WAV
	// buffer. A capture stopped immediately after starting yields a valid,
	// possibly silent, buffer. Stop is idempotent.
	Stop() ([]byte, error)
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (CaptureSession, error)
}

// StreamConfig describes provider-agnostic streaming settings.
type StreamConfig struct {
	SampleRate int
	Channels   int
}

// StreamSession is an active streaming transcription connection.
type StreamSession interface {
	SendAudio(samples []int16) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// Dispatcher is a provider snapshot taken at cycle start. It exposes the two
// call shapes; IsStreaming selects which one the engine uses.
type Dispatcher interface {
	Provider() string
	IsStreaming() bool
	// Transcribe is the batch shape: a complete WAV buffer in, final text
	// out. Empty or near-silent audio yields empty text, never an error.
	Transcribe(ctx context.Context, wav []byte) (string, error)
	// StartStream is the streaming shape: frames are pushed incrementally
	// and partial results arrive until one final result.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamSession, error)
}

// PortalSession is the engine's view of the negotiated desktop-portal
// session: the shortcut subscription plus recovery hooks.
type PortalSession interface {
	// Toggles is the shortcut activation stream. One subscription per
	// process lifetime; the channel survives session renegotiation.
	Toggles() <-chan domain.ToggleEvent
	// Errors surfaces portal session failures detected outside any call,
	// such as the compositor closing the session.
	Errors() <-chan error
	// Invalidate marks the session unusable until Reconnect succeeds.
	Invalidate()
	// Reconnect renegotiates the portal session, preferring the persisted
	// restore token and falling back to fresh interactive negotiation.
	Reconnect(ctx context.Context) error
}

// Injector replays text as synthetic key events through the portal session.
type Injector interface {
	Inject(ctx context.Context, text string) error
}

// EventSink receives engine state and cycle outcomes for the IPC surface.
type EventSink interface {
	StateChanged(state domain.EngineState)
	PartialTranscript(text string)
	FinalTranscript(text string)
	CycleError(code domain.ErrorCode, detail string)
	PortalConnected(connected bool)
}
