package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OllamaProvider embeds text via a local or remote Ollama server's
// /api/embeddings endpoint.
type OllamaProvider struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// NewOllamaProvider builds an OllamaProvider against baseURL (e.g.
// "http://localhost:11434") using the given model and expected dimensions.
func NewOllamaProvider(baseURL, model string, dims int) *OllamaProvider {
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls Ollama's embeddings endpoint, respecting ctx's deadline. The
// caller is expected to apply the external-call 30s suspension-point budget.
func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Truncate(text, MaxLength)

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: ollama returned status %d", resp.StatusCode)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode ollama response: %w", err)
	}
	return out.Embedding, nil
}

// EmbedBatch embeds each text sequentially; Ollama's embeddings endpoint has
// no native batch form.
func (o *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return sequentialBatch(ctx, o, texts)
}

// Dimensions returns the configured vector width.
func (o *OllamaProvider) Dimensions() int { return o.dims }

// ModelName identifies the underlying Ollama model.
func (o *OllamaProvider) ModelName() string { return o.model }
