package domain

import (
	"errors"
	"time"
)

// EngineState models the dictation cycle lifecycle. Exactly one instance
// exists, owned by the engine control loop.
type EngineState string

const (
	StateIdle       EngineState = "Idle"
	StateRecording  EngineState = "Recording"
	StateFinalizing EngineState = "Finalizing"
	StateInjecting  EngineState = "Injecting"
	StateRecovering EngineState = "Recovering"
)

// ToggleEvent is one shortcut activation delivered by the portal.
type ToggleEvent struct {
	At time.Time
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a
// streaming provider. Partial events carry the accumulated text so far;
// the Final event carries the complete transcript.
type TranscriptEvent struct {
	Kind TranscriptKind
	Text string
}

// ErrorCode identifies cycle-terminal and non-fatal daemon errors as exposed
// on the IPC surface.
type ErrorCode string

const (
	ErrorCodeDeviceUnavailable      ErrorCode = "device_unavailable"
	ErrorCodePortalSession          ErrorCode = "portal_session"
	ErrorCodeTranscriptionAuth      ErrorCode = "transcription_auth"
	ErrorCodeTranscriptionTransient ErrorCode = "transcription_transient"
	ErrorCodeTranscriptionProtocol  ErrorCode = "transcription_protocol"
	ErrorCodeInjection              ErrorCode = "injection"
)

// ErrPortalSessionInvalid marks a portal call that failed because the
// underlying session was revoked or closed. The engine responds by entering
// Recovering and renegotiating the session once.
var ErrPortalSessionInvalid = errors.New("portal session invalid")

// ErrDeviceUnavailable marks a capture start failure: no input device exists
// or it is exclusively held. The cycle never begins.
var ErrDeviceUnavailable = errors.New("audio capture device unavailable")
