package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agrobot/internal/inference"
	"agrobot/internal/localstore"
	"agrobot/internal/metrics"
)

// Messages shown in place of a missing or unreachable backend answer.
const (
	FallbackAnswer     = "Sorry, I couldn't get a response."
	ConnectionErrorMsg = "Connection Error: Could not reach the backend. Is it running?"
)

// Backend is the inference call a session makes for each turn.
type Backend interface {
	Predict(ctx context.Context, q inference.Query) (inference.Result, error)
}

// Saver receives fire-and-forget history snapshots. Implementations must not
// surface persistence failures back to the session.
type Saver interface {
	SaveAsync(id string, messages []Message)
}

// Prefs supplies the per-profile settings a turn needs; *localstore.Store
// satisfies it.
type Prefs interface {
	Language(ctx context.Context) string
	Coordinates(ctx context.Context) (localstore.Coords, bool)
	AutoplayEnabled(ctx context.Context) bool
}

// Autoplayer is notified when a new assistant message carries audio and the
// autoplay preference is on.
type Autoplayer interface {
	Autoplay(trackID string, mp3 []byte)
}

type Session struct {
	mu       sync.Mutex
	id       string
	messages []Message
	loading  bool
	lastErr  string

	backend  Backend
	saver    Saver
	prefs    Prefs
	autoplay Autoplayer
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type Config struct {
	Backend  Backend
	Saver    Saver
	Prefs    Prefs
	Autoplay Autoplayer
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

func NewSession(cfg Config) *Session {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Session{
		id:       uuid.NewString(),
		backend:  cfg.Backend,
		saver:    cfg.Saver,
		prefs:    cfg.Prefs,
		autoplay: cfg.Autoplay,
		logger:   cfg.Logger,
		metrics:  m,
	}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastError returns the error banner text, empty when the last send succeeded.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Reset starts a fresh conversation under a new id.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = uuid.NewString()
	s.messages = nil
	s.loading = false
	s.lastErr = ""
}

// Load replaces id and messages atomically from a history snapshot. Loading a
// session is not a save.
func (s *Session) Load(id string, messages []Message) {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.messages = msgs
	s.loading = false
	s.lastErr = ""
}

// Send runs one full turn: append the user message, call the backend, append
// the assistant message built from the outcome. Empty input is a no-op. The
// session id is captured before the call; if the active session changed while
// the call was in flight the response is discarded rather than misrouted.
func (s *Session) Send(ctx context.Context, in Input) error {
	if in.Empty() {
		return nil
	}

	userMsg := Message{Sender: SenderUser, Text: in.Text, Image: in.Image}

	s.mu.Lock()
	sentFrom := s.id
	s.messages = append(s.messages, userMsg)
	s.loading = true
	s.lastErr = ""
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.saver.SaveAsync(sentFrom, snapshot)
	s.metrics.SendsTotal.Inc()

	q := inference.Query{
		Text:     in.Text,
		Image:    in.Image,
		Language: s.prefs.Language(ctx),
	}
	if coords, ok := s.prefs.Coordinates(ctx); ok {
		q.Lat, q.Lon = coords.Lat(), coords.Lon()
	}

	res, callErr := s.backend.Predict(ctx, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Clearing the loading flag is always the final step of a completed send,
	// including the transport-failure path.
	defer func() {
		if s.id == sentFrom {
			s.loading = false
		}
	}()

	if s.id != sentFrom {
		s.metrics.StaleDropped.Inc()
		s.logger.Debug().Str("session_id", sentFrom).Msg("dropping response for superseded session")
		return callErr
	}

	var reply Message
	switch {
	case callErr != nil:
		s.metrics.InferenceFailures.Inc()
		s.logger.Error().Err(callErr).Str("session_id", sentFrom).Msg("inference call failed")
		s.lastErr = ConnectionErrorMsg
		reply = Message{Sender: SenderAssistant, Text: ConnectionErrorMsg}
	case res.Kind == inference.KindAnswer:
		reply = Message{Sender: SenderAssistant, Text: res.Text, Audio: res.Audio}
	case res.Kind == inference.KindFailure:
		reply = Message{Sender: SenderAssistant, Text: res.Text}
	default:
		reply = Message{Sender: SenderAssistant, Text: FallbackAnswer}
	}

	s.messages = append(s.messages, reply)
	s.saver.SaveAsync(s.id, s.snapshotLocked())

	if s.autoplay != nil && reply.HasAudio() && s.prefs.AutoplayEnabled(ctx) {
		s.autoplay.Autoplay(trackID(s.id, len(s.messages)-1), reply.Audio)
	}

	return callErr
}

func (s *Session) snapshotLocked() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// trackID names a message's audio for the playback singleton: stable for the
// same message, distinct across messages and sessions.
func trackID(sessionID string, index int) string {
	return fmt.Sprintf("%s/%d", sessionID, index)
}
