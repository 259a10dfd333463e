package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"lapnote/internal/domain"
)

const chunkSize = 8192

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	Diarize     bool
}

// Transcriber sends one recorded segment over the Deepgram live websocket and
// collects its final results.
type Transcriber struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewTranscriber(cfg Config) *Transcriber {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Transcriber{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Transcribe ignores the instruction text; labels and timestamps come from
// diarization. Deepgram reports no token usage.
func (t *Transcriber) Transcribe(ctx context.Context, req domain.TranscriptionRequest) (domain.ServiceResponse, error) {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return domain.ServiceResponse{}, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	wsURL, err := buildListenURL(t.cfg, req.ContentType)
	if err != nil {
		return domain.ServiceResponse{}, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.cfg.APIKey)

	conn, _, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return domain.ServiceResponse{}, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	s := newListenSession(conn, t.cfg.Diarize)
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for offset := 0; offset < len(req.Audio); offset += chunkSize {
		end := min(offset+chunkSize, len(req.Audio))
		if err := s.SendAudio(req.Audio[offset:end]); err != nil {
			_ = s.Close()
			return domain.ServiceResponse{}, err
		}
	}
	_ = s.CloseSend()

	if err := s.Wait(); err != nil {
		return domain.ServiceResponse{Text: s.Transcript()}, err
	}
	return domain.ServiceResponse{Text: s.Transcript()}, nil
}

type listenSession struct {
	conn    *websocket.Conn
	diarize bool

	audio chan []byte
	done  chan struct{}

	wg sync.WaitGroup

	mu      sync.Mutex
	finals  []string
	speaker int

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func newListenSession(conn *websocket.Conn, diarize bool) *listenSession {
	s := &listenSession{
		conn:    conn,
		diarize: diarize,
		audio:   make(chan []byte, 32),
		done:    make(chan struct{}),
		speaker: -1,
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

func (s *listenSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	closed := s.sendClosed
	s.sendMu.RUnlock()
	if closed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

func (s *listenSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *listenSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *listenSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

// Transcript joins the final results received so far.
func (s *listenSession) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sep := " "
	if s.diarize {
		sep = "\n"
	}
	return strings.TrimSpace(strings.Join(s.finals, sep))
}

func (s *listenSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *listenSession) setErr(err error) {
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

func (s *listenSession) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.setErr(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *listenSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		switch {
		case strings.EqualFold(response.Type, "Error"):
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		case strings.EqualFold(response.Type, "Metadata"):
			// Deepgram sends metadata once the stream is drained.
			return
		case !response.IsFinal && !response.SpeechFinal:
			continue
		}

		s.addFinal(response)
	}
}

func (s *listenSession) addFinal(response deepgramResponse) {
	transcript := extractTranscript(response)
	if transcript == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.diarize {
		s.finals = append(s.finals, transcript)
		return
	}

	speaker, ok := firstSpeaker(response)
	if !ok || speaker == s.speaker {
		s.finals = append(s.finals, transcript)
		return
	}
	s.speaker = speaker
	s.finals = append(s.finals, fmt.Sprintf("[%s] Speaker %d: %s", formatOffset(response.Start), speaker+1, transcript))
}

type deepgramWord struct {
	Word    string  `json:"word"`
	Start   float64 `json:"start"`
	Speaker *int    `json:"speaker"`
}

type deepgramAlternative struct {
	Transcript string         `json:"transcript"`
	Words      []deepgramWord `json:"words"`
}

type deepgramResponse struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`

	Channel struct {
		Alternatives []deepgramAlternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []deepgramAlternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func firstSpeaker(response deepgramResponse) (int, bool) {
	if len(response.Channel.Alternatives) == 0 {
		return 0, false
	}
	for _, word := range response.Channel.Alternatives[0].Words {
		if word.Speaker != nil {
			return *word.Speaker, true
		}
	}
	return 0, false
}

func formatOffset(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// buildListenURL leaves encoding unset for containerized audio so Deepgram
// reads it from the container header.
func buildListenURL(providerCfg Config, contentType string) (string, error) {
	base := providerCfg.APIBaseURL
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}
	base = strings.TrimSpace(base)

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	query := listenURL.Query()
	query.Set("model", providerCfg.Model)
	if isRawPCM(contentType) {
		query.Set("encoding", "linear16")
		query.Set("sample_rate", "16000")
		query.Set("channels", "1")
	}
	query.Set("punctuate", "true")
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	query.Set("diarize", fmt.Sprintf("%t", providerCfg.Diarize))
	if providerCfg.Language != "" {
		query.Set("language", providerCfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}

func isRawPCM(contentType string) bool {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "audio/l16", "audio/pcm", "audio/x-raw":
		return true
	}
	return false
}
