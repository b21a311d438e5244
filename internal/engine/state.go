package engine

import (
	"voxd/internal/domain"
)

// event is an input to the dictation state machine. Toggles come from the
// portal; the rest are produced by cycle goroutines reporting back to the
// control loop.
type event string

const (
	eventToggle         event = "toggle"
	eventResultReady    event = "result_ready"
	eventCycleAborted   event = "cycle_aborted"
	eventInjectionDone  event = "injection_done"
	eventPortalError    event = "portal_error"
	eventRecovered      event = "recovered"
	eventRecoveredRetry event = "recovered_retry"
	eventRecoveryFailed event = "recovery_failed"
)

// nextState returns the successor state for an event, or ok=false when the
// event does not transition from the current state and must be ignored.
// Toggles mid-pipeline are deliberately ignored, never queued: a toggle
// during Finalizing or Injecting has no meaning once recording has ended.
func nextState(state domain.EngineState, ev event) (domain.EngineState, bool) {
	if ev == eventPortalError {
		if state == domain.StateRecovering {
			return state, false
		}
		return domain.StateRecovering, true
	}

	switch state {
	case domain.StateIdle:
		if ev == eventToggle {
			return domain.StateRecording, true
		}
	case domain.StateRecording:
		switch ev {
		case eventToggle:
			return domain.StateFinalizing, true
		case eventResultReady:
			// The capture ended on its own (device loss); the transcript
			// arrives without an explicit stop.
			return domain.StateInjecting, true
		case eventCycleAborted:
			return domain.StateIdle, true
		}
	case domain.StateFinalizing:
		switch ev {
		case eventResultReady:
			return domain.StateInjecting, true
		case eventCycleAborted:
			return domain.StateIdle, true
		}
	case domain.StateInjecting:
		switch ev {
		case eventInjectionDone, eventCycleAborted:
			return domain.StateIdle, true
		}
	case domain.StateRecovering:
		switch ev {
		case eventRecovered, eventRecoveryFailed:
			return domain.StateIdle, true
		case eventRecoveredRetry:
			// The session is back and text interrupted by the failure is
			// re-injected once.
			return domain.StateInjecting, true
		case eventResultReady, eventInjectionDone, eventCycleAborted:
			// Recovery may race leftover cycle goroutines; their reports
			// are void.
			return state, false
		}
	}
	return state, false
}
