package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voxd/internal/config"
	"voxd/internal/domain"
	"voxd/internal/ports"
)

// DefaultRealtimeEndpoint is the streaming transcription endpoint used when
// the config does not override it.
const DefaultRealtimeEndpoint = "wss://api.mistral.ai/v1/audio/transcriptions/realtime"

// RealtimeClient opens streaming transcription sessions over WebSocket.
//
// Protocol: the server announces session.created; the client replies with a
// session.update carrying the PCM audio format, then streams
// input_audio.append messages (base64 little-endian samples) and finishes
// with input_audio.end. The server answers with transcription.text.delta
// events and one transcription.done.
type RealtimeClient struct {
	cfg config.VoxtralRealtimeConfig
	log zerolog.Logger
}

func NewRealtimeClient(cfg config.VoxtralRealtimeConfig, log zerolog.Logger) *RealtimeClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRealtimeEndpoint
	}
	return &RealtimeClient{cfg: cfg, log: log}
}

func (c *RealtimeClient) StartStream(ctx context.Context, streamCfg ports.StreamConfig) (ports.StreamSession, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, Autherrf("voxtral realtime api key is not configured")
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}

	wsURL := fmt.Sprintf("%s?model=%s", strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.Model)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, Transientf("connecting to realtime api: %v", err)
	}

	if err := awaitSessionCreated(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	update := sessionUpdate{
		Type: "session.update",
		Session: sessionSettings{
			AudioFormat: audioFormat{Encoding: "pcm_s16le", SampleRate: streamCfg.SampleRate},
		},
	}
	if err := conn.WriteJSON(update); err != nil {
		_ = conn.Close()
		return nil, Transientf("sending session settings: %v", err)
	}

	c.log.Info().Int("sampleRate", streamCfg.SampleRate).Msg("realtime session established")

	session := &realtimeSession{
		conn:     conn,
		events:   make(chan domain.TranscriptEvent, 64),
		audio:    make(chan []int16, 32),
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	return session, nil
}

// awaitSessionCreated blocks until the server announces the session, skipping
// unrelated message types.
func awaitSessionCreated(conn *websocket.Conn) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return Transientf("waiting for session announcement: %v", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return Protocolf("decoding session announcement: %v", err)
		}
		if msg.Type == "session.created" {
			return nil
		}
	}
}

type realtimeSession struct {
	conn *websocket.Conn

	events chan domain.TranscriptEvent
	audio  chan []int16
	done   chan struct{}
	quit   chan struct{}
	// readDone unblocks the write loop when the server side fails first.
	readDone chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func (s *realtimeSession) SendAudio(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	copied := append([]int16(nil), samples...)

	// The lock is held across the send so a concurrent CloseSend cannot
	// close the channel between the check and the send.
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return Protocolf("audio stream is already closed")
	}

	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return Protocolf("session closed")
	}
}

func (s *realtimeSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *realtimeSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *realtimeSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *realtimeSession) Close() error {
	s.closeOnce.Do(func() {
		// The connection goes down first: it unblocks the loops, which close
		// done and release any sender still holding the send lock. CloseSend
		// must come after or it could wait on that sender forever.
		close(s.quit)
		_ = s.conn.Close()
	})
	<-s.done
	_ = s.CloseSend()
	return s.waitErr()
}

func (s *realtimeSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *realtimeSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *realtimeSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case samples, ok := <-s.audio:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"input_audio.end"}`)); err != nil {
					s.setErr(Transientf("ending audio stream: %v", err))
				}
				return
			}
			msg := audioAppend{Type: "input_audio.append", Audio: encodePCM(samples)}
			if err := s.conn.WriteJSON(msg); err != nil {
				s.setErr(Transientf("sending audio: %v", err))
				return
			}
		case <-s.readDone:
			return
		}
	}
}

func (s *realtimeSession) readLoop() {
	defer s.wg.Done()
	defer close(s.readDone)

	var accumulated strings.Builder
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(Transientf("reading server event: %v", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcription.text.delta":
			if msg.Text == "" {
				continue
			}
			accumulated.WriteString(msg.Text)
			s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: accumulated.String()})
		case "transcription.done":
			s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: accumulated.String()})
			return
		case "error":
			detail := msg.Text
			if detail == "" {
				detail = string(payload)
			}
			s.setErr(Protocolf("realtime api error: %s", detail))
			return
		}
	}
}

// emit blocks until the consumer takes the event or the session is closed;
// final events must not be dropped under backlog.
func (s *realtimeSession) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.quit:
	}
}

// encodePCM packs samples as little-endian bytes and base64-encodes them.
func encodePCM(samples []int16) string {
	raw := make([]byte, 0, len(samples)*2)
	for _, sample := range samples {
		raw = append(raw, byte(sample), byte(uint16(sample)>>8))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

type sessionUpdate struct {
	Type    string          `json:"type"`
	Session sessionSettings `json:"session"`
}

type sessionSettings struct {
	AudioFormat audioFormat `json:"audio_format"`
}

type audioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type serverMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
