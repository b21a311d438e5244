package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voxd/internal/ports"
)

func TestEncodeWAVEmptyIsValid(t *testing.T) {
	t.Parallel()

	wav := EncodeWAV(nil, 16000, 1)
	if len(wav) != 44 {
		t.Fatalf("unexpected header-only size: %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad container magic: %q %q", wav[0:4], wav[8:12])
	}
	if !IsEmptyWAV(wav) {
		t.Fatalf("expected empty WAV detection")
	}
}

func TestEncodeWAVHeaderFields(t *testing.T) {
	t.Parallel()

	wav := EncodeWAV([]int16{1, -1, 256}, 16000, 1)
	if IsEmptyWAV(wav) {
		t.Fatalf("expected non-empty WAV")
	}

	sampleRate := binary.LittleEndian.Uint32(wav[24:28])
	if sampleRate != 16000 {
		t.Fatalf("unexpected sample rate: %d", sampleRate)
	}
	channels := binary.LittleEndian.Uint16(wav[22:24])
	if channels != 1 {
		t.Fatalf("unexpected channels: %d", channels)
	}
	dataSize := binary.LittleEndian.Uint32(wav[40:44])
	if dataSize != 6 {
		t.Fatalf("unexpected data size: %d", dataSize)
	}
	first := int16(binary.LittleEndian.Uint16(wav[44:46]))
	if first != 1 {
		t.Fatalf("unexpected first sample: %d", first)
	}
}

func TestSessionDeliversFramesAndBuffer(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{frames: [][]int16{{1, 2}, {3, 4}}}
	s := newSession(reader, ports.AudioConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 2}, zerolog.Nop())
	go s.run()

	var streamed []int16
	for frame := range s.Frames() {
		streamed = append(streamed, frame...)
	}
	if len(streamed) != 4 {
		t.Fatalf("unexpected streamed samples: %v", streamed)
	}

	wav, err := s.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	dataSize := binary.LittleEndian.Uint32(wav[40:44])
	if dataSize != 8 {
		t.Fatalf("unexpected recorded size: %d", dataSize)
	}
}

func TestSessionStopImmediatelyYieldsSilentBuffer(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{block: make(chan struct{})}
	s := newSession(reader, ports.AudioConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 2}, zerolog.Nop())
	go s.run()

	wav, err := s.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !IsEmptyWAV(wav) {
		t.Fatalf("expected silent buffer, got %d bytes", len(wav))
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{frames: [][]int16{{7}}}
	s := newSession(reader, ports.AudioConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 1}, zerolog.Nop())
	go s.run()

	first, err := s.Stop()
	if err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	second, err := s.Stop()
	if err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("duplicate stop changed the buffer: %d vs %d", len(first), len(second))
	}
	if reader.closes != 1 {
		t.Fatalf("expected exactly one device close, got %d", reader.closes)
	}
}

func TestSessionDeviceLossClosesFramesEarly(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{frames: [][]int16{{1}}, err: errors.New("device gone")}
	s := newSession(reader, ports.AudioConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 1}, zerolog.Nop())
	go s.run()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Frames():
			if !ok {
				// Early end of stream is a normal stop: buffer still valid.
				wav, err := s.Stop()
				if err != nil {
					t.Fatalf("stop failed: %v", err)
				}
				if IsEmptyWAV(wav) {
					t.Fatalf("expected captured samples before device loss")
				}
				return
			}
		case <-deadline:
			t.Fatalf("frames channel never closed after device loss")
		}
	}
}

func TestSessionStopAfterDeviceLossReturnsBuffer(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{
		frames:   [][]int16{{5, 6}},
		err:      errors.New("device gone"),
		closeErr: errors.New("device handle already invalid"),
	}
	s := newSession(reader, ports.AudioConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 2}, zerolog.Nop())
	go s.run()

	for range s.Frames() {
	}

	wav, err := s.Stop()
	if err != nil {
		t.Fatalf("device loss must be a normal stop, got error: %v", err)
	}
	if IsEmptyWAV(wav) {
		t.Fatalf("expected the partial recording to survive device loss")
	}
}

func TestSessionStopSurfacesCloseErrorWhileHealthy(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{block: make(chan struct{}), closeErr: errors.New("close failed")}
	s := newSession(reader, ports.AudioConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 2}, zerolog.Nop())
	go s.run()

	if _, err := s.Stop(); err == nil {
		t.Fatalf("expected the close error to surface")
	}
}

type fakeReader struct {
	frames   [][]int16
	err      error
	closeErr error
	block    chan struct{}

	index  int
	closes int
}

func (f *fakeReader) read(dst []int16) (int, error) {
	if f.index >= len(f.frames) {
		if f.block != nil {
			<-f.block
			return 0, io.EOF
		}
		if f.err != nil {
			return 0, f.err
		}
		return 0, io.EOF
	}
	n := copy(dst, f.frames[f.index])
	f.index++
	var err error
	if f.index >= len(f.frames) && f.err != nil {
		err = f.err
	}
	return n, err
}

func (f *fakeReader) close() error {
	f.closes++
	if f.block != nil {
		close(f.block)
		f.block = nil
	}
	return f.closeErr
}
