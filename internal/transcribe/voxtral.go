package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"voxd/internal/config"
)

// DefaultVoxtralEndpoint is the batch transcription endpoint used when the
// config does not override it.
const DefaultVoxtralEndpoint = "https://api.mistral.ai/v1/audio/transcriptions"

// VoxtralClient calls the cloud batch transcription API with a multipart
// upload of the captured WAV buffer.
type VoxtralClient struct {
	cfg  config.VoxtralConfig
	http *http.Client
	log  zerolog.Logger
}

func NewVoxtralClient(cfg config.VoxtralConfig, log zerolog.Logger) *VoxtralClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultVoxtralEndpoint
	}
	return &VoxtralClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 60 * time.Second},
		log:  log,
	}
}

func (c *VoxtralClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if c.cfg.APIKey == "" {
		return "", Autherrf("voxtral api key is not configured")
	}

	body, contentType, err := buildMultipart(wav, c.cfg.Model)
	if err != nil {
		return "", Protocolf("building upload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return "", Protocolf("building request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", Transientf("calling transcription api: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return "", Autherrf("transcription api rejected credentials: %s", detail)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return "", Transientf("transcription api unavailable (%d): %s", resp.StatusCode, detail)
		default:
			return "", Protocolf("transcription api error (%d): %s", resp.StatusCode, detail)
		}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Protocolf("decoding transcription response: %v", err)
	}
	return out.Text, nil
}

func buildMultipart(wav []byte, model string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("writing file part: %w", err)
	}
	if err := writer.WriteField("model", model); err != nil {
		return nil, "", fmt.Errorf("writing model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalizing upload: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}
