package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jhyang-dev/reverie/backend/internal/middleware"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
	"github.com/jhyang-dev/reverie/backend/internal/service/billing"
	chatService "github.com/jhyang-dev/reverie/backend/internal/service/chat"
	"github.com/jhyang-dev/reverie/backend/internal/store"
	"github.com/jhyang-dev/reverie/backend/pkg/utils"
)

// codeInsufficientPoints is the reserved discriminator clients special-case.
const codeInsufficientPoints = "INSUFFICIENT_POINTS"

// chunkRunes is the frame size used when replaying a buffered completion as
// incremental content frames.
const chunkRunes = 48

// Handler exposes the chat endpoints.
type Handler struct {
	chatSvc *chatService.Service
	log     *logger.Logger
}

// New creates the chat handler.
func New(chatSvc *chatService.Service, log *logger.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		log:     log.With("handler", "chat"),
	}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/rooms", h.handleListRooms)
	r.Get("/rooms/{roomID}/messages", h.handleListMessages)
	r.Post("/messages/{messageID}/rollback", h.handleRollback)
}

type chatRequest struct {
	RoomID           string `json:"room_id"`
	CharacterID      string `json:"character_id"`
	Message          string `json:"message"`
	Model            string `json:"model"`
	Regenerate       bool   `json:"regenerate"`
	ReplaceMessageID string `json:"replace_message_id"`
	Guidance         string `json:"guidance"`
}

// handleChat serves both send and regenerate. The completion is obtained in
// full, then replayed to the client as NDJSON frames. Errors that occur before
// the first frame map to plain HTTP statuses; insufficient balance is 402 with
// the reserved code.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.Regenerate {
		if payload.ReplaceMessageID == "" {
			utils.RespondError(w, http.StatusBadRequest, "replace_message_id is required for regenerate")
			return
		}
	} else {
		if payload.Message == "" {
			utils.RespondError(w, http.StatusBadRequest, "message is required")
			return
		}
		if payload.RoomID == "" && payload.CharacterID == "" {
			utils.RespondError(w, http.StatusBadRequest, "room_id or character_id is required")
			return
		}
	}

	userID := middleware.UserID(r.Context())

	var (
		res *chatService.Result
		err error
	)
	if payload.Regenerate {
		res, err = h.chatSvc.Regenerate(r.Context(), userID, payload.ReplaceMessageID, payload.Guidance, payload.Model)
	} else {
		res, err = h.chatSvc.Send(r.Context(), userID, payload.CharacterID, payload.RoomID, payload.Message, payload.Model)
	}
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupStreamHeaders(w)
	w.Header().Set("X-Room-ID", res.Room.ID)
	w.WriteHeader(http.StatusOK)

	h.streamResult(w, flusher, res)
}

// streamResult replays one ledger result as NDJSON frames.
func (h *Handler) streamResult(w http.ResponseWriter, flusher http.Flusher, res *chatService.Result) {
	if res.NoOp {
		utils.WriteFrame(w, flusher, map[string]any{
			"error": "no preceding user message to regenerate from",
			"code":  "NO_OP",
		})
		return
	}

	if res.Fallback {
		utils.WriteFrame(w, flusher, map[string]any{
			"error": res.Content,
			"code":  "PROVIDER_ERROR",
		})
		return
	}

	for _, chunk := range chunkContent(res.Content, chunkRunes) {
		utils.WriteFrame(w, flusher, map[string]any{"content": chunk})
	}
	utils.WriteFrame(w, flusher, map[string]any{
		"done":              true,
		"tokens":            res.TokensUsed,
		"cost":              res.Cost,
		"suggested_actions": res.SuggestedActions,
	})
}

func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.chatSvc.ListRooms(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.log.Error("failed to list rooms", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	utils.RespondJSON(w, http.StatusOK, rooms)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	messages, err := h.chatSvc.ListMessages(r.Context(), roomID)
	if err != nil {
		h.log.Error("failed to list messages", "room", roomID, "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	moved, err := h.chatSvc.Rollback(r.Context(), messageID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"status": "ok", "moved": moved})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrInsufficientBalance):
		utils.RespondErrorCode(w, http.StatusPaymentRequired, "insufficient balance", codeInsufficientPoints)
	case errors.Is(err, chatService.ErrPersonaNotFound):
		utils.RespondError(w, http.StatusBadRequest, "persona not found")
	case errors.Is(err, chatService.ErrNotAssistantMessage):
		utils.RespondError(w, http.StatusBadRequest, "message is not an assistant message")
	case errors.Is(err, store.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "not found")
	default:
		h.log.Error("chat request failed", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func chunkContent(content string, size int) []string {
	runes := []rune(content)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
