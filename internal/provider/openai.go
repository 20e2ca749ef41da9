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

// OpenAI calls the chat completions endpoint. The system turn stays inline in
// the message list, which is the protocol's native shape.
type OpenAI struct {
	cfg        config.OpenAIConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewOpenAI builds the OpenAI adapter.
func NewOpenAI(cfg config.OpenAIConfig, log *logger.Logger) *OpenAI {
	return &OpenAI{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log.With("provider", "openai"),
	}
}

func (o *OpenAI) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAI) Invoke(ctx context.Context, messages []Message, model string) (string, error) {
	reqBody := openAIRequest{Model: model}
	for _, msg := range messages {
		reqBody.Messages = append(reqBody.Messages, openAIMessage{Role: msg.Role, Content: msg.Content})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Provider: o.Name(), Message: err.Error()}
	}

	url := strings.TrimRight(o.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Provider: o.Name(), Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", &Error{Provider: o.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Provider: o.Name(), Message: err.Error()}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Provider: o.Name(), Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", &Error{Provider: o.Name(), Message: msg}
	}

	if len(parsed.Choices) == 0 {
		return "", &Error{Provider: o.Name(), Message: "empty choices in response"}
	}

	o.log.Debug("completion received", "model", model, "length", len(parsed.Choices[0].Message.Content))
	return parsed.Choices[0].Message.Content, nil
}
