package chunk

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/knovalab/knova/internal/embed"
)

// SemanticConfig configures the semantic chunker.
type SemanticConfig struct {
	// BoundaryThreshold is the cosine similarity below which adjacent
	// sentences are split into separate chunks.
	BoundaryThreshold float64

	// MinSentences is the minimum number of sentences per chunk. A chunk
	// never ends before collecting this many, regardless of similarity.
	MinSentences int

	// MaxSentences is the maximum number of sentences per chunk.
	MaxSentences int
}

// DefaultSemanticConfig returns the default semantic chunker settings.
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{
		BoundaryThreshold: 0.5,
		MinSentences:      1,
		MaxSentences:      20,
	}
}

// SemanticChunker groups consecutive sentences whose embeddings stay
// similar, starting a new chunk where adjacent-sentence similarity drops
// below the boundary threshold. A trailing chunk shorter than
// MinSentences merges into its predecessor.
type SemanticChunker struct {
	cfg      SemanticConfig
	embedder embed.Embedder
}

// NewSemanticChunker creates a semantic chunker backed by the given
// embedder.
func NewSemanticChunker(embedder embed.Embedder, cfg SemanticConfig) (*SemanticChunker, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.BoundaryThreshold < -1 || cfg.BoundaryThreshold > 1 {
		return nil, fmt.Errorf("boundary_threshold must be in [-1, 1], got %g", cfg.BoundaryThreshold)
	}
	if cfg.MinSentences < 1 {
		return nil, fmt.Errorf("min_sentences must be at least 1, got %d", cfg.MinSentences)
	}
	if cfg.MaxSentences < cfg.MinSentences {
		return nil, fmt.Errorf("max_sentences must be at least min_sentences, got %d", cfg.MaxSentences)
	}
	return &SemanticChunker{cfg: cfg, embedder: embedder}, nil
}

// Strategy returns the strategy tag.
func (c *SemanticChunker) Strategy() string {
	return StrategySemantic
}

// Chunk splits the input document at semantic boundaries.
func (c *SemanticChunker) Chunk(ctx context.Context, input *Input) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sentences := splitSentences(input.Text)
	if len(sentences) == 0 {
		return []*Chunk{}, nil
	}
	if len(sentences) == 1 {
		return finalize([]*Chunk{{Text: sentences[0]}}, input.DocID, StrategySemantic, 0), nil
	}

	vectors, err := c.embedder.EmbedBatch(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}

	var groups [][]string
	group := []string{sentences[0]}
	for i := 1; i < len(sentences); i++ {
		sim := sentenceSimilarity(vectors[i-1], vectors[i])
		boundary := sim < c.cfg.BoundaryThreshold && len(group) >= c.cfg.MinSentences
		if boundary || len(group) >= c.cfg.MaxSentences {
			groups = append(groups, group)
			group = nil
		}
		group = append(group, sentences[i])
	}
	groups = append(groups, group)

	// A trailing fragment below the minimum merges backward.
	if len(groups) > 1 && len(groups[len(groups)-1]) < c.cfg.MinSentences {
		last := groups[len(groups)-1]
		groups = groups[:len(groups)-1]
		groups[len(groups)-1] = append(groups[len(groups)-1], last...)
	}

	chunks := make([]*Chunk, 0, len(groups))
	for _, g := range groups {
		chunks = append(chunks, &Chunk{Text: strings.Join(g, " ")})
	}
	return finalize(chunks, input.DocID, StrategySemantic, 0), nil
}

// splitSentences splits text into trimmed sentences at terminator
// boundaries, treating newlines as whitespace.
func splitSentences(text string) []string {
	flat := strings.Join(strings.Fields(text), " ")
	var sentences []string
	for _, s := range splitAfterTerminators(flat) {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}

// sentenceSimilarity is the cosine similarity of two sentence vectors.
// A zero vector (empty or stopword-only sentence) yields zero so it
// always opens a boundary.
func sentenceSimilarity(a, b []float32) float64 {
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

var _ Chunker = (*SemanticChunker)(nil)
