package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhyang-dev/reverie/backend/internal/analysis/suggest"
	chatmodel "github.com/jhyang-dev/reverie/backend/internal/model/chat"
	"github.com/jhyang-dev/reverie/backend/internal/model/persona"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
	"github.com/jhyang-dev/reverie/backend/internal/provider"
	"github.com/jhyang-dev/reverie/backend/internal/service/billing"
	memoryservice "github.com/jhyang-dev/reverie/backend/internal/service/memory"
	"github.com/jhyang-dev/reverie/backend/internal/service/prompt"
	"github.com/jhyang-dev/reverie/backend/internal/store"
)

var (
	ErrPersonaNotFound     = errors.New("persona not found")
	ErrNotAssistantMessage = errors.New("message is not an assistant message")
)

// ModelStatus reflects backend health as observed by the last call.
type ModelStatus string

const (
	StatusStable   ModelStatus = "stable"
	StatusUnstable ModelStatus = "unstable"
	StatusDown     ModelStatus = "down"
)

const (
	// messageCost is the points price of one exchange.
	messageCost = 1
	// historyLimit caps how many prior turns are replayed to the model.
	historyLimit = 20
	previewLimit = 100
)

// fallbackReply is shown when the backend call fails. Persona-neutral on
// purpose; it is never persisted as an authoritative assistant message.
const fallbackReply = "...sorry, I lost my train of thought for a moment. Could you say that again?"

// Result is the outcome of a send or regenerate.
type Result struct {
	Room             chatmodel.Room
	UserMessage      chatmodel.Message
	AssistantMessage chatmodel.Message
	Content          string
	TokensUsed       int
	Cost             int
	SuggestedActions []string
	ModelStatus      ModelStatus
	// Fallback marks a recovered provider failure: Content carries the
	// fallback string and no assistant row was persisted.
	Fallback bool
	// NoOp marks a regenerate that found no preceding user message.
	NoOp bool
}

// Service is the message ledger: it orchestrates send, regenerate and
// rollback against the persisted, sequence-numbered, branchable messages.
type Service struct {
	rooms     store.RoomRepo
	messages  store.MessageRepo
	personas  persona.Store
	providers *provider.Registry
	memories  *memoryservice.Service
	billing   billing.Ledger
	log       *logger.Logger

	memoryEnabled  bool
	retrievalLimit int

	// background tracks detached memory-extraction tasks so tests can join.
	background sync.WaitGroup
}

// NewService wires the ledger.
func NewService(
	rooms store.RoomRepo,
	messages store.MessageRepo,
	personas persona.Store,
	providers *provider.Registry,
	memories *memoryservice.Service,
	billingLedger billing.Ledger,
	memoryEnabled bool,
	retrievalLimit int,
	log *logger.Logger,
) *Service {
	if retrievalLimit <= 0 {
		retrievalLimit = memoryservice.DefaultSearchLimit
	}
	return &Service{
		rooms:          rooms,
		messages:       messages,
		personas:       personas,
		providers:      providers,
		memories:       memories,
		billing:        billingLedger,
		memoryEnabled:  memoryEnabled,
		retrievalLimit: retrievalLimit,
		log:            log.With("service", "chat"),
	}
}

// Send persists the user message, obtains the assistant reply and persists it
// one sequence slot later. Memory extraction runs as a detached task after the
// result is ready; it never delays or fails the exchange.
func (s *Service) Send(ctx context.Context, userID, characterID, roomID, content, model string) (*Result, error) {
	char, ok := s.resolvePersona(ctx, characterID, roomID)
	if !ok {
		return nil, ErrPersonaNotFound
	}

	// Balance is checked before any side effect so a declined send persists
	// nothing.
	if err := s.billing.Check(ctx, userID, messageCost); err != nil {
		return nil, err
	}

	room, err := s.rooms.GetOrCreate(ctx, roomID, userID, char.ID, char.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve room: %w", err)
	}

	history, err := s.messages.ListActive(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	maxSeq, err := s.messages.MaxSequence(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence: %w", err)
	}
	nextSeq := maxSeq + 1

	userMsg := chatmodel.Message{
		ID:             uuid.NewString(),
		RoomID:         room.ID,
		UserID:         userID,
		Role:           chatmodel.RoleUser,
		Content:        content,
		SequenceNumber: nextSeq,
		BranchName:     chatmodel.DefaultBranch,
		IsActiveBranch: true,
	}
	if len(history) > 0 {
		userMsg.ParentMessageID = history[len(history)-1].ID
	}
	if err := s.messages.Create(ctx, &userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	systemPrompt := s.buildPrompt(ctx, char, room.ID, content)
	input := buildProviderInput(systemPrompt, history, content)

	reply, err := s.providers.Invoke(ctx, input, model)
	if err != nil {
		// Recovered locally: the visible exchange is rolled back and the
		// caller shows the fallback string instead of a persisted reply.
		s.log.Warn("provider call failed", "room", room.ID, "model", model, "error", err)
		if delErr := s.messages.SetDeleted(ctx, userMsg.ID, true); delErr != nil {
			s.log.Error("failed to roll back user message", "message", userMsg.ID, "error", delErr)
		}
		return &Result{
			Room:        room,
			UserMessage: userMsg,
			Content:     fallbackReply,
			ModelStatus: StatusUnstable,
			Fallback:    true,
		}, nil
	}

	tokens := estimateTokens(systemPrompt, content, reply)
	assistantMsg := chatmodel.Message{
		ID:              uuid.NewString(),
		RoomID:          room.ID,
		UserID:          userID,
		Role:            chatmodel.RoleAssistant,
		Content:         reply,
		SequenceNumber:  nextSeq + 1,
		ParentMessageID: userMsg.ID,
		BranchName:      chatmodel.DefaultBranch,
		IsActiveBranch:  true,
		TokensUsed:      tokens,
		Cost:            messageCost,
	}
	if err := s.messages.Create(ctx, &assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	if err := s.rooms.TouchExchange(ctx, room.ID, truncate(reply, previewLimit), 2); err != nil {
		s.log.Warn("failed to update room aggregates", "room", room.ID, "error", err)
	}

	s.dispatchMemoryTask(char, room.ID, content, reply)

	return &Result{
		Room:             room,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Content:          reply,
		TokensUsed:       tokens,
		Cost:             messageCost,
		SuggestedActions: suggest.Actions(reply),
		ModelStatus:      StatusStable,
	}, nil
}

// Regenerate replaces one assistant message with a fresh completion at the
// same sequence slot. With no preceding user message the call is a no-op.
func (s *Service) Regenerate(ctx context.Context, userID, messageID, guidance, model string) (*Result, error) {
	target, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if target.Role != chatmodel.RoleAssistant {
		return nil, ErrNotAssistantMessage
	}

	room, err := s.rooms.GetByID(ctx, target.RoomID)
	if err != nil {
		return nil, err
	}

	char, ok := s.personas.FindByID(room.CharacterID)
	if !ok {
		return nil, ErrPersonaNotFound
	}

	active, err := s.messages.ListActive(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	userMsg, found := precedingUserMessage(active, target.ID)
	if !found {
		return &Result{Room: room, NoOp: true, ModelStatus: StatusStable}, nil
	}

	// Soft removal, never a hard delete: the row stays for audit and is
	// restored verbatim when the replacement cannot be produced.
	if err := s.messages.SetDeleted(ctx, target.ID, true); err != nil {
		return nil, fmt.Errorf("failed to remove message from active view: %w", err)
	}

	if err := s.billing.Check(ctx, userID, messageCost); err != nil {
		if restoreErr := s.messages.SetDeleted(ctx, target.ID, false); restoreErr != nil {
			s.log.Error("failed to restore message after balance check", "message", target.ID, "error", restoreErr)
		}
		return nil, err
	}

	userContent := userMsg.Content
	if guidance != "" {
		userContent = fmt.Sprintf("%s\n\n(Guidance for this reply: %s)", userContent, guidance)
	}

	systemPrompt := s.buildPrompt(ctx, char, room.ID, userMsg.Content)
	history := messagesBefore(active, userMsg.SequenceNumber)
	input := buildProviderInput(systemPrompt, history, userContent)

	reply, err := s.providers.Invoke(ctx, input, model)
	if err != nil {
		s.log.Warn("provider call failed during regenerate", "room", room.ID, "error", err)
		if restoreErr := s.messages.SetDeleted(ctx, target.ID, false); restoreErr != nil {
			s.log.Error("failed to restore message after provider failure", "message", target.ID, "error", restoreErr)
		}
		return &Result{
			Room:             room,
			UserMessage:      userMsg,
			AssistantMessage: target,
			Content:          fallbackReply,
			ModelStatus:      StatusUnstable,
			Fallback:         true,
		}, nil
	}

	tokens := estimateTokens(systemPrompt, userContent, reply)
	replacement := chatmodel.Message{
		ID:              uuid.NewString(),
		RoomID:          room.ID,
		UserID:          userID,
		Role:            chatmodel.RoleAssistant,
		Content:         reply,
		SequenceNumber:  target.SequenceNumber,
		ParentMessageID: target.ParentMessageID,
		BranchName:      target.BranchName,
		IsActiveBranch:  true,
		TokensUsed:      tokens,
		Cost:            messageCost,
	}
	if err := s.messages.Create(ctx, &replacement); err != nil {
		return nil, fmt.Errorf("failed to persist replacement message: %w", err)
	}

	if err := s.rooms.TouchExchange(ctx, room.ID, truncate(reply, previewLimit), 0); err != nil {
		s.log.Warn("failed to update room aggregates", "room", room.ID, "error", err)
	}

	return &Result{
		Room:             room,
		UserMessage:      userMsg,
		AssistantMessage: replacement,
		Content:          reply,
		TokensUsed:       tokens,
		Cost:             messageCost,
		SuggestedActions: suggest.Actions(reply),
		ModelStatus:      StatusStable,
	}, nil
}

// Rollback re-points the active view so the chosen message becomes the new
// tip. Nothing is deleted: the abandoned continuation moves onto a named
// branch and stays queryable.
func (s *Service) Rollback(ctx context.Context, messageID string) (int64, error) {
	tip, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return 0, err
	}

	branchName := fmt.Sprintf("abandoned-%s", time.Now().UTC().Format("20060102T150405"))
	moved, err := s.messages.DeactivateAfter(ctx, tip.RoomID, tip.SequenceNumber, branchName)
	if err != nil {
		return 0, fmt.Errorf("failed to switch branch: %w", err)
	}

	s.log.Info("rolled back room", "room", tip.RoomID, "tip", tip.ID, "moved", moved)
	return moved, nil
}

// ListMessages returns the visible conversation for a room.
func (s *Service) ListMessages(ctx context.Context, roomID string) ([]chatmodel.Message, error) {
	return s.messages.ListActive(ctx, roomID)
}

// ListRooms returns the user's rooms, most recently active first.
func (s *Service) ListRooms(ctx context.Context, userID string) ([]chatmodel.Room, error) {
	return s.rooms.ListByUser(ctx, userID)
}

// WaitBackground joins all detached memory tasks. Test hook.
func (s *Service) WaitBackground() {
	s.background.Wait()
}

func (s *Service) resolvePersona(ctx context.Context, characterID, roomID string) (persona.Persona, bool) {
	if roomID != "" {
		if room, err := s.rooms.GetByID(ctx, roomID); err == nil {
			return s.personas.FindByID(room.CharacterID)
		}
	}
	return s.personas.FindByID(characterID)
}

func (s *Service) buildPrompt(ctx context.Context, char persona.Persona, roomID, query string) string {
	var recalled []string
	if s.memoryEnabled && char.EnableMemory && s.memories != nil {
		for _, match := range s.memories.Search(ctx, roomID, query, s.retrievalLimit) {
			recalled = append(recalled, match.Content)
		}
	}
	return prompt.BuildSystemPrompt(char, recalled)
}

// dispatchMemoryTask runs fact extraction and storage detached from the
// request. The goroutine carries its own recover boundary; failures are
// observable only via logs.
func (s *Service) dispatchMemoryTask(char persona.Persona, roomID, userContent, reply string) {
	if !s.memoryEnabled || !char.EnableMemory || s.memories == nil {
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("memory task panicked", "room", roomID, "panic", r)
			}
		}()

		// The request context is gone by now; the task gets its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		for _, fact := range s.memories.ExtractFacts(ctx, userContent, reply) {
			s.memories.Save(ctx, roomID, fact, memoryservice.DefaultImportance)
		}
	}()
}

func buildProviderInput(systemPrompt string, history []chatmodel.Message, userContent string) []provider.Message {
	input := make([]provider.Message, 0, len(history)+2)
	input = append(input, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})

	start := 0
	if len(history) > historyLimit {
		start = len(history) - historyLimit
	}
	for _, msg := range history[start:] {
		switch msg.Role {
		case chatmodel.RoleUser:
			input = append(input, provider.Message{Role: provider.RoleUser, Content: msg.Content})
		case chatmodel.RoleAssistant:
			input = append(input, provider.Message{Role: provider.RoleAssistant, Content: msg.Content})
		}
	}

	input = append(input, provider.Message{Role: provider.RoleUser, Content: userContent})
	return input
}

// precedingUserMessage scans backward from the target for the nearest user
// turn in the active view.
func precedingUserMessage(active []chatmodel.Message, targetID string) (chatmodel.Message, bool) {
	targetIdx := -1
	for i, msg := range active {
		if msg.ID == targetID {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return chatmodel.Message{}, false
	}
	for i := targetIdx - 1; i >= 0; i-- {
		if active[i].Role == chatmodel.RoleUser {
			return active[i], true
		}
	}
	return chatmodel.Message{}, false
}

func messagesBefore(active []chatmodel.Message, sequence int) []chatmodel.Message {
	var out []chatmodel.Message
	for _, msg := range active {
		if msg.SequenceNumber < sequence {
			out = append(out, msg)
		}
	}
	return out
}

// estimateTokens is a rough chars/4 heuristic; the vendors' own accounting is
// not exposed through the adapter surface.
func estimateTokens(parts ...string) int {
	total := 0
	for _, part := range parts {
		total += len(part)
	}
	return total / 4
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
