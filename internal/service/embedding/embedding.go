package embedding

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

// Embedder turns text into a fixed-length vector for semantic comparison.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}

// OpenAIEmbedder calls the embeddings endpoint with a fixed model.
type OpenAIEmbedder struct {
	cfg        config.OpenAIConfig
	model      string
	httpClient *http.Client
	log        *logger.Logger
}

// NewOpenAIEmbedder builds the embedder for the configured embedding model.
func NewOpenAIEmbedder(cfg config.OpenAIConfig, model string, log *logger.Logger) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		cfg:        cfg,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With("service", "embedding"),
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: e.model, Input: []string{input}})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("malformed embeddings response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return nil, fmt.Errorf("embeddings request failed: %s", parsed.Error.Message)
		}
		return nil, fmt.Errorf("embeddings request failed: status %d", resp.StatusCode)
	}

	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embeddings response carried no data")
	}

	return parsed.Data[0].Embedding, nil
}
