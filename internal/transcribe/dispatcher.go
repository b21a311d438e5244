package transcribe

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"voxd/internal/audio"
	"voxd/internal/config"
	"voxd/internal/ports"
)

// IsStreaming reports whether a provider uses the streaming call shape.
// It is a pure function of the provider name.
func IsStreaming(provider string) bool {
	return provider == config.ProviderVoxtralRealtime
}

// RetryConfig bounds the retry loop for transient transcription failures.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the fixed retry budget for transient errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// batchBackend is the batch call shape shared by the concrete providers.
type batchBackend interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Dispatcher is an immutable provider snapshot. The engine takes one per
// dictation session so a mid-flight config change cannot corrupt a cycle.
type Dispatcher struct {
	provider string
	retry    RetryConfig
	log      zerolog.Logger

	batch    batchBackend
	realtime *RealtimeClient
}

// New builds a dispatcher from a transcriber config snapshot.
func New(cfg config.TranscriberConfig, log zerolog.Logger) *Dispatcher {
	log = log.With().Str("component", "transcribe").Str("provider", cfg.Provider).Logger()

	d := &Dispatcher{
		provider: cfg.Provider,
		retry:    DefaultRetryConfig(),
		log:      log,
	}
	switch cfg.Provider {
	case config.ProviderWhisperCpp:
		d.batch = NewWhisperCppClient(cfg.WhisperCpp, log)
	case config.ProviderVoxtral:
		d.batch = NewVoxtralClient(cfg.Voxtral, log)
	case config.ProviderVoxtralRealtime:
		d.realtime = NewRealtimeClient(cfg.VoxtralRealtime, log)
	}
	return d
}

func (d *Dispatcher) Provider() string { return d.provider }

func (d *Dispatcher) IsStreaming() bool { return IsStreaming(d.provider) }

// Transcribe runs the batch call shape, retrying transient failures within
// the fixed budget. Empty audio short-circuits to empty text.
func (d *Dispatcher) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if audio.IsEmptyWAV(wav) {
		return "", nil
	}
	if d.batch == nil {
		return "", Protocolf("provider %q does not support batch transcription", d.provider)
	}

	delay := d.retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		text, err := d.batch.Transcribe(ctx, wav)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ClassOf(err) != ClassTransient || attempt == d.retry.MaxAttempts {
			break
		}

		d.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("transient transcription failure, retrying")
		select {
		case <-ctx.Done():
			return "", Transientf("transcription cancelled: %v", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * d.retry.Multiplier)
		if delay > d.retry.MaxDelay {
			delay = d.retry.MaxDelay
		}
	}
	return "", lastErr
}

// StartStream runs the streaming call shape.
func (d *Dispatcher) StartStream(ctx context.Context, cfg ports.StreamConfig) (ports.StreamSession, error) {
	if d.realtime == nil {
		return nil, Protocolf("provider %q does not support streaming transcription", d.provider)
	}
	return d.realtime.StartStream(ctx, cfg)
}
