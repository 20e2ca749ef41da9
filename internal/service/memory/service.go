package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	memorymodel "github.com/jhyang-dev/reverie/backend/internal/model/memory"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
	"github.com/jhyang-dev/reverie/backend/internal/provider"
	"github.com/jhyang-dev/reverie/backend/internal/service/embedding"
	"github.com/jhyang-dev/reverie/backend/internal/store"
)

// Thresholds are deliberately distinct: the write-time probe guards data
// quality, the read-time cut balances recall against noise.
const (
	DedupeThreshold    = 0.95
	RetrievalThreshold = 0.7
	DefaultImportance  = 5
	DefaultSearchLimit = 5
)

const extractionSystemPrompt = `You extract durable facts about the user from a chat exchange.
Keep only facts worth remembering long term: identity, preferences, relationships, occupation, important life events.
Exclude greetings, small talk, questions, and anything about the assistant.
Respond with JSON only, in the exact shape {"facts": ["fact one", "fact two"]}.
Return {"facts": []} when nothing qualifies.`

// Service owns the semantic memory of a room. Memory is an enhancement, never
// a correctness requirement: every method swallows its own failures and the
// chat path can never block or fail because of it.
type Service struct {
	repo         store.MemoryRepo
	embedder     embedding.Embedder
	providers    *provider.Registry
	extractModel string
	log          *logger.Logger
}

// NewService wires the memory service. extractModel is the logical model id
// used for fact extraction.
func NewService(repo store.MemoryRepo, embedder embedding.Embedder, providers *provider.Registry, extractModel string, log *logger.Logger) *Service {
	return &Service{
		repo:         repo,
		embedder:     embedder,
		providers:    providers,
		extractModel: extractModel,
		log:          log.With("service", "memory"),
	}
}

// Save embeds content and inserts it unless a near-duplicate already exists in
// the room. All failures are logged and swallowed.
func (s *Service) Save(ctx context.Context, roomID, content string, importance int) {
	if importance <= 0 {
		importance = DefaultImportance
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		s.log.Warn("embedding failed, memory dropped", "room", roomID, "error", err)
		return
	}

	nearest, err := s.repo.SearchSimilar(ctx, roomID, vec, DedupeThreshold, 1)
	if err != nil {
		s.log.Warn("similarity probe failed, memory dropped", "room", roomID, "error", err)
		return
	}
	if len(nearest) > 0 {
		s.log.Debug("near-duplicate memory suppressed", "room", roomID, "similarity", nearest[0].Similarity)
		return
	}

	mem := &memorymodel.Memory{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		Content:    content,
		Embedding:  pgvector.NewVector(vec),
		Importance: importance,
	}
	if err := s.repo.Insert(ctx, mem); err != nil {
		s.log.Warn("memory insert failed", "room", roomID, "error", err)
		return
	}
	s.log.Debug("memory saved", "room", roomID, "memory", mem.ID)
}

// Search returns up to limit memories from the room relevant to the query,
// best match first. Never fails: any internal error yields an empty result.
func (s *Service) Search(ctx context.Context, roomID, query string, limit int) []memorymodel.Match {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.log.Warn("query embedding failed", "room", roomID, "error", err)
		return nil
	}

	matches, err := s.repo.SearchSimilar(ctx, roomID, vec, RetrievalThreshold, limit)
	if err != nil {
		s.log.Warn("similarity search failed", "room", roomID, "error", err)
		return nil
	}
	return matches
}

type extractionResult struct {
	Facts []string `json:"facts"`
}

// ExtractFacts asks a model for durable user facts from one exchange. It
// performs no persistence; the caller hands the result to Save. Returns an
// empty list on any failure.
func (s *Service) ExtractFacts(ctx context.Context, userMessage, aiResponse string) []string {
	input := []provider.Message{
		{Role: provider.RoleSystem, Content: extractionSystemPrompt},
		{Role: provider.RoleUser, Content: fmt.Sprintf("User message:\n%s\n\nAssistant reply:\n%s", userMessage, aiResponse)},
	}

	raw, err := s.providers.Invoke(ctx, input, s.extractModel)
	if err != nil {
		s.log.Warn("fact extraction call failed", "error", err)
		return nil
	}

	var parsed extractionResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		s.log.Warn("fact extraction returned unparseable output", "error", err)
		return nil
	}

	facts := make([]string, 0, len(parsed.Facts))
	for _, fact := range parsed.Facts {
		if trimmed := strings.TrimSpace(fact); trimmed != "" {
			facts = append(facts, trimmed)
		}
	}
	return facts
}

// stripCodeFence tolerates models that wrap JSON in a markdown fence.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
