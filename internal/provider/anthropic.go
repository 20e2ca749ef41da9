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

const anthropicMaxTokens = 2048

// Anthropic calls the messages API. The protocol separates persona
// instructions from the turn history, so the system message travels in the
// dedicated top-level field instead of the message list.
type Anthropic struct {
	cfg        config.AnthropicConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewAnthropic builds the Anthropic adapter.
func NewAnthropic(cfg config.AnthropicConfig, log *logger.Logger) *Anthropic {
	return &Anthropic{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log.With("provider", "anthropic"),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Anthropic) Invoke(ctx context.Context, messages []Message, model string) (string, error) {
	system, turns := splitSystem(messages)

	reqBody := anthropicRequest{
		Model:     model,
		MaxTokens: anthropicMaxTokens,
		System:    system,
	}
	for _, msg := range turns {
		reqBody.Messages = append(reqBody.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Provider: a.Name(), Message: err.Error()}
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Provider: a.Name(), Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", a.cfg.Version)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &Error{Provider: a.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Provider: a.Name(), Message: err.Error()}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Provider: a.Name(), Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", &Error{Provider: a.Name(), Message: msg}
	}

	var builder strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}
	if builder.Len() == 0 {
		return "", &Error{Provider: a.Name(), Message: "empty content in response"}
	}

	a.log.Debug("completion received", "model", model, "length", builder.Len())
	return builder.String(), nil
}
