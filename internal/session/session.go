package session

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	chatmodel "github.com/jhyang-dev/reverie/backend/internal/model/chat"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
	"github.com/jhyang-dev/reverie/backend/internal/service/chat"
)

// CodeInsufficientPoints is the reserved error discriminator clients must
// special-case.
const CodeInsufficientPoints = "INSUFFICIENT_POINTS"

// Frame is one newline-delimited JSON unit of the chat stream.
type Frame struct {
	Content          string   `json:"content,omitempty"`
	Done             bool     `json:"done,omitempty"`
	Tokens           int      `json:"tokens,omitempty"`
	Cost             int      `json:"cost,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	Error            string   `json:"error,omitempty"`
	Code             string   `json:"code,omitempty"`
}

// Message is the session's view of one conversation entry. Pending marks an
// optimistic entry not yet confirmed by the server.
type Message struct {
	ID      string
	Role    string
	Content string
	Pending bool
}

// Callbacks let the embedding UI react to terminal stream outcomes.
type Callbacks struct {
	OnInsufficientBalance func(message string)
	OnFailure             func(message string)
}

// Regeneration records the before/after of one regenerate for audit.
type Regeneration struct {
	MessageID       string
	PreviousContent string
	NewContent      string
}

// Session holds the streaming state of one room on the client side. At most
// one operation is in flight; calls made while streaming are ignored.
type Session struct {
	mu sync.Mutex

	roomID           string
	messages         []Message
	isStreaming      bool
	buffer           strings.Builder
	modelStatus      chat.ModelStatus
	suggestedActions []string
	tokens           int
	cost             int
	lastRegeneration *Regeneration

	log *logger.Logger
}

// Registry owns one Session per room.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      *logger.Logger
}

// NewRegistry returns an empty session registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log.With("component", "session"),
	}
}

// Get returns the room's session, creating it on first use.
func (r *Registry) Get(roomID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[roomID]
	if !ok {
		s = &Session{
			roomID:      roomID,
			modelStatus: chat.StatusStable,
			log:         r.log.With("room", roomID),
		}
		r.sessions[roomID] = s
	}
	return s
}

// Revalidate replaces the session's message list with the authoritative view
// from the server and clears all transient streaming state.
func (s *Session) Revalidate(messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]Message(nil), messages...)
	s.buffer.Reset()
	s.isStreaming = false
	s.suggestedActions = nil
	s.lastRegeneration = nil
}

// Send pushes an optimistic user message and consumes the response stream to
// completion. Returns false when another operation is already in flight; the
// call is then ignored entirely.
func (s *Session) Send(userContent string, stream io.Reader, cb Callbacks) bool {
	s.mu.Lock()
	if s.isStreaming {
		s.mu.Unlock()
		s.log.Debug("send ignored, stream already in flight")
		return false
	}
	s.isStreaming = true
	s.buffer.Reset()

	optimistic := Message{
		ID:      "temp-" + uuid.NewString(),
		Role:    chatmodel.RoleUser,
		Content: userContent,
		Pending: true,
	}
	s.messages = append(s.messages, optimistic)
	s.mu.Unlock()

	s.consume(stream, cb, optimistic.ID, nil)
	return true
}

// Regenerate re-requests the given assistant message and consumes the response
// stream. The target's previous content is retained so the outcome can be
// audited and restored on failure. Returns false while another operation is in
// flight.
func (s *Session) Regenerate(messageID string, stream io.Reader, cb Callbacks) bool {
	s.mu.Lock()
	if s.isStreaming {
		s.mu.Unlock()
		s.log.Debug("regenerate ignored, stream already in flight")
		return false
	}

	idx := s.indexOf(messageID)
	if idx < 0 {
		s.mu.Unlock()
		s.log.Warn("regenerate target not in session", "message", messageID)
		return false
	}

	s.isStreaming = true
	s.buffer.Reset()
	regen := &Regeneration{
		MessageID:       messageID,
		PreviousContent: s.messages[idx].Content,
	}
	s.messages[idx].Pending = true
	s.mu.Unlock()

	s.consume(stream, cb, "", regen)
	return true
}

// consume reads frames until a terminal frame or EOF. optimisticID names the
// user message to roll back on error; regen is set for regenerate operations.
func (s *Session) consume(stream io.Reader, cb Callbacks, optimisticID string, regen *Regeneration) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	terminal := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var frame Frame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			s.log.Warn("skipping malformed frame", "error", err)
			continue
		}

		switch {
		case frame.Error != "":
			s.fail(frame, cb, optimisticID, regen)
			terminal = true
		case frame.Done:
			s.finish(frame, optimisticID, regen)
			terminal = true
		case frame.Content != "":
			s.mu.Lock()
			s.buffer.WriteString(frame.Content)
			s.mu.Unlock()
		}
		if terminal {
			break
		}
	}

	if err := scanner.Err(); err != nil && !terminal {
		s.log.Warn("stream read failed", "error", err)
	}
	if !terminal {
		// Stream ended without a terminal frame; treat as a failure so the
		// session never stays locked.
		s.fail(Frame{Error: "stream ended unexpectedly"}, cb, optimisticID, regen)
	}
}

func (s *Session) finish(frame Frame, optimisticID string, regen *Regeneration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content := s.buffer.String()
	s.buffer.Reset()
	s.isStreaming = false
	s.modelStatus = chat.StatusStable
	s.suggestedActions = frame.SuggestedActions
	s.tokens = frame.Tokens
	s.cost = frame.Cost

	if regen != nil {
		if idx := s.indexOf(regen.MessageID); idx >= 0 {
			s.messages[idx].Content = content
			s.messages[idx].Pending = false
		}
		regen.NewContent = content
		s.lastRegeneration = regen
		return
	}

	if idx := s.indexOf(optimisticID); idx >= 0 {
		s.messages[idx].Pending = false
	}
	s.messages = append(s.messages, Message{
		ID:      "temp-" + uuid.NewString(),
		Role:    chatmodel.RoleAssistant,
		Content: content,
	})
}

func (s *Session) fail(frame Frame, cb Callbacks, optimisticID string, regen *Regeneration) {
	s.mu.Lock()

	s.buffer.Reset()
	s.isStreaming = false
	s.modelStatus = chat.StatusUnstable

	if regen != nil {
		if idx := s.indexOf(regen.MessageID); idx >= 0 {
			s.messages[idx].Content = regen.PreviousContent
			s.messages[idx].Pending = false
		}
	} else if idx := s.indexOf(optimisticID); idx >= 0 {
		s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	}
	s.mu.Unlock()

	s.log.Warn("stream failed", "code", frame.Code, "error", frame.Error)
	if frame.Code == CodeInsufficientPoints {
		if cb.OnInsufficientBalance != nil {
			cb.OnInsufficientBalance(frame.Error)
		}
		return
	}
	if cb.OnFailure != nil {
		cb.OnFailure(frame.Error)
	}
}

// indexOf must be called with s.mu held.
func (s *Session) indexOf(messageID string) int {
	for i, msg := range s.messages {
		if msg.ID == messageID {
			return i
		}
	}
	return -1
}

// Messages returns a copy of the session's current message list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// IsStreaming reports whether an operation is in flight.
func (s *Session) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isStreaming
}

// Buffer returns the partial completion accumulated so far.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.String()
}

// ModelStatus returns the backend health as observed by the last operation.
func (s *Session) ModelStatus() chat.ModelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelStatus
}

// SuggestedActions returns the follow-ups delivered by the last success.
func (s *Session) SuggestedActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.suggestedActions...)
}

// LastRegeneration returns the before/after record of the most recent
// completed regenerate, or nil.
func (s *Session) LastRegeneration() *Regeneration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRegeneration
}
