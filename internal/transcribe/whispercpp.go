package transcribe

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"voxd/internal/config"
)

const audioFilePlaceholder = "{audio_file}"

// WhisperCppClient shells out to a local whisper.cpp binary. The configured
// args are templated with the captured audio file path; the transcript is
// whatever the process prints to stdout.
type WhisperCppClient struct {
	cfg config.WhisperCppConfig
	log zerolog.Logger
}

func NewWhisperCppClient(cfg config.WhisperCppConfig, log zerolog.Logger) *WhisperCppClient {
	return &WhisperCppClient{cfg: cfg, log: log}
}

func (c *WhisperCppClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	tmp, err := os.CreateTemp("", "voxd_*.wav")
	if err != nil {
		return "", Protocolf("creating temp audio file: %v", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(wav); err != nil {
		tmp.Close()
		return "", Protocolf("writing temp audio file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return "", Protocolf("closing temp audio file: %v", err)
	}

	args := make([]string, 0, len(c.cfg.Args))
	replaced := false
	for _, arg := range c.cfg.Args {
		if strings.Contains(arg, audioFilePlaceholder) {
			arg = strings.ReplaceAll(arg, audioFilePlaceholder, tmp.Name())
			replaced = true
		}
		args = append(args, arg)
	}
	if !replaced {
		args = append(args, tmp.Name())
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Debug().Str("command", c.cfg.Command).Strs("args", args).Msg("running local transcriber")
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", Protocolf("local transcriber failed: %s", detail)
	}

	return strings.TrimSpace(stdout.String()), nil
}
