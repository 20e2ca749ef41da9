package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jhyang-dev/reverie/backend/internal/config"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
)

// Gemini calls the generateContent endpoint. Persona instructions go into
// system_instruction; assistant turns are relabeled "model" per the protocol.
type Gemini struct {
	cfg        config.GeminiConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewGemini builds the Gemini adapter.
func NewGemini(cfg config.GeminiConfig, log *logger.Logger) *Gemini {
	return &Gemini{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log.With("provider", "gemini"),
	}
}

func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Gemini) Invoke(ctx context.Context, messages []Message, model string) (string, error) {
	system, turns := splitSystem(messages)

	reqBody := geminiRequest{}
	if system != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	for _, msg := range turns {
		role := msg.Role
		if role == RoleAssistant {
			role = "model"
		}
		reqBody.Contents = append(reqBody.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Provider: g.Name(), Message: err.Error()}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(g.cfg.BaseURL, "/"), model, g.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Provider: g.Name(), Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &Error{Provider: g.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Provider: g.Name(), Message: err.Error()}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Provider: g.Name(), Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", &Error{Provider: g.Name(), Message: msg}
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", &Error{Provider: g.Name(), Message: "empty candidates in response"}
	}

	var builder strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		builder.WriteString(part.Text)
	}

	g.log.Debug("completion received", "model", model, "length", builder.Len())
	return builder.String(), nil
}
