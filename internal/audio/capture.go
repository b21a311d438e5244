package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"voxd/internal/domain"
	"voxd/internal/ports"
)

// Capture opens the default input device via PortAudio.
type Capture struct {
	log zerolog.Logger
}

func NewCapture(log zerolog.Logger) *Capture {
	return &Capture{log: log.With().Str("component", "audio").Logger()}
}

func (c *Capture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.CaptureSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initializing portaudio: %v", domain.ErrDeviceUnavailable, err)
	}

	buffer := make([]int16, cfg.FramesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FramesPerBuffer, buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: opening input stream: %v", domain.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: starting input stream: %v", domain.ErrDeviceUnavailable, err)
	}

	c.log.Info().Int("sampleRate", cfg.SampleRate).Int("channels", cfg.Channels).Msg("capture started")

	reader := &paReader{stream: stream, buffer: buffer}
	session := newSession(reader, cfg, c.log)
	go session.run()
	return session, nil
}

// frameReader abstracts the PortAudio stream so the session plumbing can be
// exercised without a device.
type frameReader interface {
	read(dst []int16) (int, error)
	close() error
}

type paReader struct {
	stream *portaudio.Stream
	buffer []int16
}

func (r *paReader) read(dst []int16) (int, error) {
	if err := r.stream.Read(); err != nil {
		// Overflow means the device produced faster than we consumed;
		// the buffer still holds valid samples.
		if err != portaudio.InputOverflowed {
			return 0, err
		}
	}
	return copy(dst, r.buffer), nil
}

func (r *paReader) close() error {
	_ = r.stream.Stop()
	err := r.stream.Close()
	if termErr := portaudio.Terminate(); err == nil {
		err = termErr
	}
	return err
}

type session struct {
	reader frameReader
	cfg    ports.AudioConfig
	log    zerolog.Logger

	frames  chan []int16
	done    chan struct{}
	stopped chan struct{}

	mu       sync.Mutex
	recorded []int16
	readErr  error

	stopOnce sync.Once
	stopBuf  []byte
	stopErr  error
}

func newSession(reader frameReader, cfg ports.AudioConfig, log zerolog.Logger) *session {
	return &session{
		reader:  reader,
		cfg:     cfg,
		log:     log,
		frames:  make(chan []int16, 32),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (s *session) Frames() <-chan []int16 {
	return s.frames
}

// run pulls frames from the device until stopped or the device disappears.
// Device loss surfaces as an early channel close, which callers treat as a
// normal stop.
func (s *session) run() {
	defer close(s.frames)
	defer close(s.stopped)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		frame := make([]int16, s.cfg.FramesPerBuffer*s.cfg.Channels)
		n, err := s.reader.read(frame)
		if n > 0 {
			frame = frame[:n]
			s.mu.Lock()
			s.recorded = append(s.recorded, frame...)
			s.mu.Unlock()

			select {
			case s.frames <- frame:
			case <-s.done:
				return
			default:
				// Streaming consumer fell behind; dropping beats blocking
				// the device. The batch buffer already has the samples.
			}
		}
		if err != nil {
			select {
			case <-s.done:
				// Stop raced the final read; not a device failure.
			default:
				s.mu.Lock()
				s.readErr = err
				s.mu.Unlock()
				s.log.Warn().Err(err).Msg("capture ended early")
			}
			return
		}
	}
}

func (s *session) Stop() ([]byte, error) {
	s.stopOnce.Do(func() {
		close(s.done)
		// Closing the device unblocks any in-flight read so the run loop
		// can exit.
		closeErr := s.reader.close()
		<-s.stopped

		s.mu.Lock()
		recorded := s.recorded
		endedEarly := s.readErr != nil
		s.mu.Unlock()

		if closeErr != nil {
			if endedEarly {
				// The device already vanished mid-capture; that is a normal
				// stop and whatever was recorded still counts.
				s.log.Debug().Err(closeErr).Msg("closing lost device")
			} else {
				s.stopErr = closeErr
			}
		}
		s.stopBuf = EncodeWAV(recorded, s.cfg.SampleRate, s.cfg.Channels)
		s.log.Info().Int("samples", len(recorded)).Msg("capture stopped")
	})
	return s.stopBuf, s.stopErr
}
