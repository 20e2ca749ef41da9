package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	chatmodel "github.com/jhyang-dev/reverie/backend/internal/model/chat"
	memorymodel "github.com/jhyang-dev/reverie/backend/internal/model/memory"
)

// In-memory repo implementations, used when no database is configured and by
// tests. They mirror the Postgres repos' semantics, including soft deletion
// and branch filtering.

// MemoryMessageRepo implements MessageRepo over a slice.
type MemoryMessageRepo struct {
	mu   sync.Mutex
	rows []chatmodel.Message
}

// NewMemoryMessageRepo returns an empty in-memory message repo.
func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{}
}

func (r *MemoryMessageRepo) Create(_ context.Context, msg *chatmodel.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	r.rows = append(r.rows, *msg)
	return nil
}

func (r *MemoryMessageRepo) GetByID(_ context.Context, id string) (chatmodel.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return chatmodel.Message{}, ErrNotFound
}

func (r *MemoryMessageRepo) ListActive(_ context.Context, roomID string) ([]chatmodel.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chatmodel.Message
	for _, row := range r.rows {
		if row.RoomID == roomID && row.Visible() {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (r *MemoryMessageRepo) MaxSequence(_ context.Context, roomID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, row := range r.rows {
		if row.RoomID == roomID && row.SequenceNumber > max {
			max = row.SequenceNumber
		}
	}
	return max, nil
}

func (r *MemoryMessageRepo) SetDeleted(_ context.Context, id string, deleted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			r.rows[i].IsDeleted = deleted
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryMessageRepo) DeactivateAfter(_ context.Context, roomID string, sequence int, branchName string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var moved int64
	for i := range r.rows {
		row := &r.rows[i]
		if row.RoomID == roomID && row.IsActiveBranch && row.SequenceNumber > sequence {
			row.IsActiveBranch = false
			row.BranchName = branchName
			moved++
		}
	}
	return moved, nil
}

func (r *MemoryMessageRepo) CountAll(_ context.Context, roomID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, row := range r.rows {
		if row.RoomID == roomID {
			count++
		}
	}
	return count, nil
}

// MemoryRoomRepo implements RoomRepo over a map.
type MemoryRoomRepo struct {
	mu    sync.Mutex
	rooms map[string]chatmodel.Room
}

// NewMemoryRoomRepo returns an empty in-memory room repo.
func NewMemoryRoomRepo() *MemoryRoomRepo {
	return &MemoryRoomRepo{rooms: make(map[string]chatmodel.Room)}
}

func (r *MemoryRoomRepo) GetByID(_ context.Context, id string) (chatmodel.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return chatmodel.Room{}, ErrNotFound
	}
	return room, nil
}

func (r *MemoryRoomRepo) GetOrCreate(_ context.Context, roomID, userID, characterID, title string) (chatmodel.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if roomID != "" {
		if room, ok := r.rooms[roomID]; ok {
			return room, nil
		}
	}
	room := chatmodel.Room{
		ID:          roomID,
		UserID:      userID,
		CharacterID: characterID,
		Title:       title,
		CreatedAt:   time.Now().UTC(),
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	r.rooms[room.ID] = room
	return room, nil
}

func (r *MemoryRoomRepo) ListByUser(_ context.Context, userID string) ([]chatmodel.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chatmodel.Room
	for _, room := range r.rooms {
		if room.UserID == userID {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (r *MemoryRoomRepo) TouchExchange(_ context.Context, roomID, preview string, added int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.LastMessage = preview
	room.LastMessageAt = time.Now().UTC()
	room.MessageCount += added
	r.rooms[roomID] = room
	return nil
}

// MemoryVectorRepo implements MemoryRepo with brute-force cosine similarity.
type MemoryVectorRepo struct {
	mu   sync.Mutex
	rows []memorymodel.Memory
}

// NewMemoryVectorRepo returns an empty in-memory vector repo.
func NewMemoryVectorRepo() *MemoryVectorRepo {
	return &MemoryVectorRepo{}
}

func (r *MemoryVectorRepo) Insert(_ context.Context, mem *memorymodel.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	r.rows = append(r.rows, *mem)
	return nil
}

func (r *MemoryVectorRepo) SearchSimilar(_ context.Context, roomID string, embedding []float32, threshold float64, limit int) ([]memorymodel.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matches []memorymodel.Match
	for _, row := range r.rows {
		if row.RoomID != roomID {
			continue
		}
		sim := cosine(row.Embedding.Slice(), embedding)
		if sim >= threshold {
			matches = append(matches, memorymodel.Match{Memory: row, Similarity: sim})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
