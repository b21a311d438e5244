package transcribe

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"voxd/internal/config"
)

func TestWhisperCppTrimsStdout(t *testing.T) {
	t.Parallel()

	c := NewWhisperCppClient(config.WhisperCppConfig{
		Command: "sh",
		Args:    []string{"-c", "echo '  hello world  '"},
	}, zerolog.Nop())

	text, err := c.Transcribe(context.Background(), []byte("RIFF"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected transcript: %q", text)
	}
}

func TestWhisperCppTemplatesAudioFilePath(t *testing.T) {
	t.Parallel()

	c := NewWhisperCppClient(config.WhisperCppConfig{
		Command: "sh",
		Args:    []string{"-c", "test -f {audio_file} && echo found"},
	}, zerolog.Nop())

	text, err := c.Transcribe(context.Background(), []byte("RIFF"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "found" {
		t.Fatalf("expected templated file to exist, got %q", text)
	}
}

func TestWhisperCppFailureIsProtocolClass(t *testing.T) {
	t.Parallel()

	c := NewWhisperCppClient(config.WhisperCppConfig{
		Command: "sh",
		Args:    []string{"-c", "echo 'model not found' >&2; exit 1"},
	}, zerolog.Nop())

	_, err := c.Transcribe(context.Background(), []byte("RIFF"))
	if err == nil {
		t.Fatalf("expected failure")
	}
	if ClassOf(err) != ClassProtocol {
		t.Fatalf("unexpected class: %q", ClassOf(err))
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected stderr in error, got: %v", err)
	}
}

func TestWhisperCppMissingBinaryFails(t *testing.T) {
	t.Parallel()

	c := NewWhisperCppClient(config.WhisperCppConfig{Command: "voxd-test-no-such-binary"}, zerolog.Nop())
	if _, err := c.Transcribe(context.Background(), []byte("RIFF")); err == nil {
		t.Fatalf("expected missing binary to fail")
	}
}
