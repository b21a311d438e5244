package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voxd/internal/domain"
	"voxd/internal/ports"
	"voxd/internal/transcribe"
)

// repeatThreshold separates compositor key-repeat Activated signals from an
// intentional second press. Repeats arrive every ~30ms while the shortcut is
// held.
const repeatThreshold = 100 * time.Millisecond

// Options carries the engine's collaborators.
type Options struct {
	Portal        ports.PortalSession
	Capture       ports.AudioCapture
	Injector      ports.Injector
	Sink          ports.EventSink
	NewDispatcher func() ports.Dispatcher
	Audio         ports.AudioConfig
	Log           zerolog.Logger
}

// Engine runs the dictation cycle: toggle to record, toggle to transcribe
// and inject. A single control loop owns all state; cycle work happens in
// goroutines that report back over the results channel, so no mutex guards
// the state machine.
type Engine struct {
	portal        ports.PortalSession
	capture       ports.AudioCapture
	injector      ports.Injector
	sink          ports.EventSink
	newDispatcher func() ports.Dispatcher
	audioCfg      ports.AudioConfig
	log           zerolog.Logger

	results chan cycleResult

	state         domain.EngineState
	lastToggle    time.Time
	cycleID       string
	activeCapture ports.CaptureSession
	activeStream  ports.StreamSession
	dispatcher    ports.Dispatcher
	pendingInject string
	reinjecting   bool
}

type resultKind int

const (
	resultTranscript resultKind = iota
	resultInjected
	resultInjectFailed
	resultRecovery
)

type cycleResult struct {
	cycleID string
	kind    resultKind
	text    string
	err     error
}

func New(opts Options) *Engine {
	return &Engine{
		portal:        opts.Portal,
		capture:       opts.Capture,
		injector:      opts.Injector,
		sink:          opts.Sink,
		newDispatcher: opts.NewDispatcher,
		audioCfg:      opts.Audio,
		log:           opts.Log.With().Str("component", "engine").Logger(),
		results:       make(chan cycleResult, 16),
		state:         domain.StateIdle,
	}
}

// Run drives the control loop until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.setState(domain.StateIdle)

	for {
		select {
		case <-ctx.Done():
			e.abortCycle()
			return ctx.Err()
		case toggle := <-e.portal.Toggles():
			e.handleToggle(ctx, toggle)
		case err := <-e.portal.Errors():
			e.beginRecovery(ctx, err, e.pendingInject)
		case res := <-e.results:
			e.handleResult(ctx, res)
		}
	}
}

func (e *Engine) handleToggle(ctx context.Context, toggle domain.ToggleEvent) {
	if e.state == domain.StateRecording && toggle.At.Sub(e.lastToggle) <= repeatThreshold {
		// Held key: the compositor is repeating the activation.
		e.lastToggle = toggle.At
		return
	}

	next, ok := nextState(e.state, eventToggle)
	if !ok {
		e.log.Debug().Str("state", string(e.state)).Msg("toggle ignored mid-cycle")
		return
	}

	switch next {
	case domain.StateRecording:
		e.lastToggle = toggle.At
		e.startCycle(ctx)
	case domain.StateFinalizing:
		e.lastToggle = toggle.At
		e.setState(domain.StateFinalizing)
		e.finishCycle(ctx)
	}
}

func (e *Engine) startCycle(ctx context.Context) {
	dispatcher := e.newDispatcher()

	capture, err := e.capture.Start(ctx, e.audioCfg)
	if err != nil {
		e.log.Error().Err(err).Msg("capture start failed")
		e.sink.CycleError(domain.ErrorCodeDeviceUnavailable, err.Error())
		return
	}

	cycleID := uuid.NewString()

	var stream ports.StreamSession
	if dispatcher.IsStreaming() {
		stream, err = dispatcher.StartStream(ctx, ports.StreamConfig{
			SampleRate: e.audioCfg.SampleRate,
			Channels:   e.audioCfg.Channels,
		})
		if err != nil {
			_, _ = capture.Stop()
			e.log.Error().Err(err).Msg("streaming session start failed")
			e.sink.CycleError(transcriptionErrorCode(err), err.Error())
			return
		}
		go e.pumpFrames(capture.Frames(), stream)
		go e.consumeStream(ctx, cycleID, stream)
	}

	e.cycleID = cycleID
	e.activeCapture = capture
	e.activeStream = stream
	e.dispatcher = dispatcher
	e.reinjecting = false
	e.pendingInject = ""
	e.setState(domain.StateRecording)
	e.log.Info().Str("cycle", cycleID).Str("provider", dispatcher.Provider()).Msg("recording started")
}

// finishCycle stops the capture and kicks off transcription. The control
// loop stays responsive; the transcript arrives as a result.
func (e *Engine) finishCycle(ctx context.Context) {
	cycleID := e.cycleID
	capture := e.activeCapture
	dispatcher := e.dispatcher

	if e.activeStream != nil {
		// Closing the capture ends the frame pump, which closes the send
		// side; the final transcript arrives via consumeStream.
		go func() {
			_, _ = capture.Stop()
		}()
		return
	}

	go func() {
		wav, err := capture.Stop()
		if err != nil {
			e.sendResult(ctx, cycleResult{cycleID: cycleID, kind: resultTranscript, err: err})
			return
		}
		text, err := dispatcher.Transcribe(ctx, wav)
		e.sendResult(ctx, cycleResult{cycleID: cycleID, kind: resultTranscript, text: text, err: err})
	}()
}

func (e *Engine) handleResult(ctx context.Context, res cycleResult) {
	if res.kind == resultRecovery {
		e.finishRecovery(ctx, res)
		return
	}
	if res.cycleID != e.cycleID {
		e.log.Debug().Str("cycle", res.cycleID).Msg("stale cycle result dropped")
		return
	}

	switch res.kind {
	case resultTranscript:
		e.handleTranscript(ctx, res)
	case resultInjected:
		if next, ok := nextState(e.state, eventInjectionDone); ok {
			e.abortCycle()
			e.setState(next)
		}
	case resultInjectFailed:
		e.handleInjectFailure(ctx, res)
	}
}

func (e *Engine) handleTranscript(ctx context.Context, res cycleResult) {
	if res.err != nil {
		e.log.Error().Err(res.err).Msg("transcription failed")
		e.sink.CycleError(transcriptionErrorCode(res.err), res.err.Error())
		if next, ok := nextState(e.state, eventCycleAborted); ok {
			e.abortCycle()
			e.setState(next)
		}
		return
	}

	text := strings.TrimSpace(res.text)
	if text == "" {
		e.log.Info().Msg("empty transcript, nothing to inject")
		if next, ok := nextState(e.state, eventCycleAborted); ok {
			e.abortCycle()
			e.setState(next)
		}
		return
	}

	next, ok := nextState(e.state, eventResultReady)
	if !ok {
		return
	}
	e.sink.FinalTranscript(text)
	e.setState(next)
	e.startInjection(ctx, e.cycleID, text)
}

func (e *Engine) startInjection(ctx context.Context, cycleID, text string) {
	go func() {
		if err := e.injector.Inject(ctx, text); err != nil {
			e.sendResult(ctx, cycleResult{cycleID: cycleID, kind: resultInjectFailed, text: text, err: err})
			return
		}
		e.sendResult(ctx, cycleResult{cycleID: cycleID, kind: resultInjected})
	}()
}

func (e *Engine) handleInjectFailure(ctx context.Context, res cycleResult) {
	if errors.Is(res.err, domain.ErrPortalSessionInvalid) && !e.reinjecting {
		// One recovery attempt: renegotiate the session, then retry the
		// injection once.
		e.beginRecovery(ctx, res.err, res.text)
		return
	}

	e.log.Error().Err(res.err).Msg("injection failed")
	e.sink.CycleError(domain.ErrorCodeInjection, res.err.Error())
	if next, ok := nextState(e.state, eventCycleAborted); ok {
		e.abortCycle()
		e.setState(next)
	}
}

func (e *Engine) beginRecovery(ctx context.Context, cause error, pendingText string) {
	next, ok := nextState(e.state, eventPortalError)
	if !ok {
		return
	}

	e.log.Warn().Err(cause).Msg("portal session lost, recovering")
	e.abortCycle()
	e.pendingInject = pendingText
	e.sink.PortalConnected(false)
	e.setState(next)

	go func() {
		e.portal.Invalidate()
		err := e.portal.Reconnect(ctx)
		e.sendResult(ctx, cycleResult{kind: resultRecovery, err: err})
	}()
}

func (e *Engine) finishRecovery(ctx context.Context, res cycleResult) {
	if e.state != domain.StateRecovering {
		return
	}

	if res.err != nil {
		e.log.Error().Err(res.err).Msg("portal session recovery failed")
		e.sink.CycleError(domain.ErrorCodePortalSession, res.err.Error())
		e.pendingInject = ""
		if next, ok := nextState(e.state, eventRecoveryFailed); ok {
			e.setState(next)
		}
		return
	}

	e.sink.PortalConnected(true)
	e.log.Info().Msg("portal session recovered")

	if text := e.pendingInject; text != "" {
		e.pendingInject = ""
		e.reinjecting = true
		e.cycleID = uuid.NewString()
		if next, ok := nextState(e.state, eventRecoveredRetry); ok {
			e.setState(next)
			e.startInjection(ctx, e.cycleID, text)
		}
		return
	}

	if next, ok := nextState(e.state, eventRecovered); ok {
		e.setState(next)
	}
}

// abortCycle tears down whatever the active cycle still holds. Every
// cycle-terminal path goes through here so a stream that fails mid-recording
// never leaves the microphone open; results from the torn-down goroutines
// are dropped as stale.
func (e *Engine) abortCycle() {
	if e.activeCapture != nil {
		capture := e.activeCapture
		go func() { _, _ = capture.Stop() }()
	}
	if e.activeStream != nil {
		stream := e.activeStream
		go func() { _ = stream.Close() }()
	}
	e.clearCycle()
}

func (e *Engine) clearCycle() {
	e.cycleID = ""
	e.activeCapture = nil
	e.activeStream = nil
	e.dispatcher = nil
}

func (e *Engine) setState(state domain.EngineState) {
	e.state = state
	e.sink.StateChanged(state)
}

func (e *Engine) sendResult(ctx context.Context, res cycleResult) {
	select {
	case e.results <- res:
	case <-ctx.Done():
	}
}

// pumpFrames feeds captured frames to the streaming session and closes the
// send side when the capture ends.
func (e *Engine) pumpFrames(frames <-chan []int16, stream ports.StreamSession) {
	for frame := range frames {
		if err := stream.SendAudio(frame); err != nil {
			e.log.Warn().Err(err).Msg("dropping frame, stream send failed")
			break
		}
	}
	_ = stream.CloseSend()
}

// consumeStream forwards partials to the sink and reports the final
// transcript (or the stream error) back to the control loop.
func (e *Engine) consumeStream(ctx context.Context, cycleID string, stream ports.StreamSession) {
	var final string
	for ev := range stream.Events() {
		switch ev.Kind {
		case domain.TranscriptKindPartial:
			e.sink.PartialTranscript(ev.Text)
		case domain.TranscriptKindFinal:
			final = ev.Text
		}
	}
	if err := stream.Wait(); err != nil {
		e.sendResult(ctx, cycleResult{cycleID: cycleID, kind: resultTranscript, err: err})
		return
	}
	e.sendResult(ctx, cycleResult{cycleID: cycleID, kind: resultTranscript, text: final})
}

// transcriptionErrorCode maps a cycle error to its IPC error code.
func transcriptionErrorCode(err error) domain.ErrorCode {
	switch {
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return domain.ErrorCodeDeviceUnavailable
	case errors.Is(err, domain.ErrPortalSessionInvalid):
		return domain.ErrorCodePortalSession
	}
	switch transcribe.ClassOf(err) {
	case transcribe.ClassAuth:
		return domain.ErrorCodeTranscriptionAuth
	case transcribe.ClassTransient:
		return domain.ErrorCodeTranscriptionTransient
	default:
		return domain.ErrorCodeTranscriptionProtocol
	}
}
