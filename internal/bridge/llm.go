package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/cstpd/internal/model"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

const llmPromptTemplate = `Given this decision record, generate an abstract bridge-definition.

Decision: %s
Context: %s
Reasons: %s
Pattern: %s

Generate TWO fields:
1. STRUCTURE: What does this decision look like as an abstract pattern? Strip all specific names, numbers, and project details. Describe the recognizable form.
2. FUNCTION: What problem does this abstract pattern solve? Why would someone use this approach?

Keep each to 1-2 sentences. Be abstract - this should match similar decisions across different projects.

Reply in this exact format:
STRUCTURE: <your answer>
FUNCTION: <your answer>`

// GeminiExtractor calls the Gemini Flash API to derive a genuinely abstract
// bridge. Best-effort: any error, timeout, or safety-filtered empty
// response returns (nil, nil) rather than propagating, so callers can fall
// back to rule-based extraction without special-casing LLM failures.
type GeminiExtractor struct {
	apiKey string
	model  string
	client *http.Client
}

// NewGeminiExtractor builds an extractor. An empty apiKey makes Extract a
// no-op, matching the original's "no credentials configured" skip.
func NewGeminiExtractor(apiKey, model string, timeout time.Duration) *GeminiExtractor {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GeminiExtractor{apiKey: apiKey, model: model, client: &http.Client{Timeout: timeout}}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

// Extract requests a bridge for a from Gemini. Returns (nil, nil) on any
// failure mode that should fall back rather than error out the caller.
func (g *GeminiExtractor) Extract(ctx context.Context, a Abstractable) (*model.Bridge, error) {
	if g.apiKey == "" {
		return nil, nil
	}

	var reasonParts []string
	for _, r := range a.Reasons {
		reasonParts = append(reasonParts, fmt.Sprintf("%s: %s", r.Type, r.Text))
	}
	reasonsText := strings.Join(reasonParts, " | ")
	if reasonsText == "" {
		reasonsText = "none"
	}
	pattern := a.Pattern
	if pattern == "" {
		pattern = "none"
	}

	prompt := fmt.Sprintf(llmPromptTemplate, a.Decision, a.Context, reasonsText, pattern)

	reqBody := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}
	reqBody.GenerationConfig.Temperature = 0.3
	reqBody.GenerationConfig.MaxOutputTokens = 256

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil
	}

	url := fmt.Sprintf(geminiEndpoint, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, nil // timeout or network error: caller falls back
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, nil // no candidates: likely safety-filtered
	}

	text := out.Candidates[0].Content.Parts[0].Text
	structure, function := parseLLMReply(text)
	if structure == "" && function == "" {
		return nil, nil
	}
	if structure == "" {
		structure = function
	}
	if function == "" {
		function = structure
	}
	return &model.Bridge{Structure: structure, Function: function, Method: model.BridgeMethodLLM}, nil
}

func parseLLMReply(text string) (structure, function string) {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "STRUCTURE:"):
			structure = strings.TrimSpace(line[len("STRUCTURE:"):])
		case strings.HasPrefix(upper, "FUNCTION:"):
			function = strings.TrimSpace(line[len("FUNCTION:"):])
		}
	}
	return structure, function
}
