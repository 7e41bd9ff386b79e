// Package embedding converts decision text into fixed-dimension vectors for
// the vector store, per the embedding-provider contract: embed, embed_batch,
// dimensions, model_name, max_length.
package embedding

import "context"

// MaxLength is the default input truncation length in characters.
const MaxLength = 8000

// Provider turns text into an embedding vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// Truncate clips text to the provider's max input length, matching the
// contract's "input truncated internally" behavior.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxLength
	}
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen]
}

// sequentialBatch embeds each text one at a time. Used as the default
// EmbedBatch implementation by providers whose backend has no native batch
// endpoint.
func sequentialBatch(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
