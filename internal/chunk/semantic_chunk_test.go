package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knovalab/knova/internal/embed"
)

// stubEmbedder returns preassigned vectors per sentence so boundary
// placement is deterministic in tests.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int                  { return 3 }
func (s *stubEmbedder) ModelName() string                { return "stub" }
func (s *stubEmbedder) Available(_ context.Context) bool { return true }
func (s *stubEmbedder) Close() error                     { return nil }

var _ embed.Embedder = (*stubEmbedder)(nil)

func TestSemanticChunkerBoundaryAtTopicShift(t *testing.T) {
	stub := &stubEmbedder{vectors: map[string][]float32{
		"Cats purr softly.":     {1, 0, 0},
		"Kittens nap often.":    {1, 0, 0},
		"Engines burn fuel.":    {0, 1, 0},
		"Pistons move quickly.": {0, 1, 0},
	}}
	c, err := NewSemanticChunker(stub, DefaultSemanticConfig())
	require.NoError(t, err)

	text := "Cats purr softly. Kittens nap often. Engines burn fuel. Pistons move quickly."
	chunks, err := c.Chunk(context.Background(), &Input{DocID: "d", Text: text})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Cats purr softly. Kittens nap often.", chunks[0].Text)
	assert.Equal(t, "Engines burn fuel. Pistons move quickly.", chunks[1].Text)
	assert.Equal(t, StrategySemantic, chunks[0].Metadata.Strategy)
	assert.Equal(t, "d_chunk0", chunks[0].ID)
}

func TestSemanticChunkerMaxSentencesCap(t *testing.T) {
	stub := &stubEmbedder{vectors: map[string][]float32{}}
	c, err := NewSemanticChunker(stub, SemanticConfig{
		BoundaryThreshold: 0.5,
		MinSentences:      1,
		MaxSentences:      2,
	})
	require.NoError(t, err)

	// All sentences share the default stub vector, so only the cap splits.
	text := "One one. Two two. Three three. Four four."
	chunks, err := c.Chunk(context.Background(), &Input{DocID: "d", Text: text})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "One one. Two two.", chunks[0].Text)
	assert.Equal(t, "Three three. Four four.", chunks[1].Text)
}

func TestSemanticChunkerTrailingFragmentMerges(t *testing.T) {
	stub := &stubEmbedder{vectors: map[string][]float32{
		"Alpha beta.":     {1, 0, 0},
		"Gamma delta.":    {1, 0, 0},
		"Unrelated coda.": {0, 1, 0},
	}}
	c, err := NewSemanticChunker(stub, SemanticConfig{
		BoundaryThreshold: 0.5,
		MinSentences:      2,
		MaxSentences:      10,
	})
	require.NoError(t, err)

	chunks, err := c.Chunk(context.Background(), &Input{
		DocID: "d",
		Text:  "Alpha beta. Gamma delta. Unrelated coda.",
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Alpha beta. Gamma delta. Unrelated coda.", chunks[0].Text)
}

func TestSemanticChunkerSingleSentence(t *testing.T) {
	c, err := NewSemanticChunker(&stubEmbedder{}, DefaultSemanticConfig())
	require.NoError(t, err)

	chunks, err := c.Chunk(context.Background(), &Input{DocID: "d", Text: "Only one sentence here."})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Only one sentence here.", chunks[0].Text)
}

func TestSemanticChunkerEmpty(t *testing.T) {
	c, err := NewSemanticChunker(&stubEmbedder{}, DefaultSemanticConfig())
	require.NoError(t, err)

	chunks, err := c.Chunk(context.Background(), &Input{DocID: "d", Text: "  "})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSemanticChunkerConfigValidation(t *testing.T) {
	_, err := NewSemanticChunker(nil, DefaultSemanticConfig())
	assert.Error(t, err)

	_, err = NewSemanticChunker(&stubEmbedder{}, SemanticConfig{BoundaryThreshold: 2, MinSentences: 1, MaxSentences: 2})
	assert.Error(t, err)

	_, err = NewSemanticChunker(&stubEmbedder{}, SemanticConfig{BoundaryThreshold: 0.5, MinSentences: 0, MaxSentences: 2})
	assert.Error(t, err)

	_, err = NewSemanticChunker(&stubEmbedder{}, SemanticConfig{BoundaryThreshold: 0.5, MinSentences: 3, MaxSentences: 2})
	assert.Error(t, err)
}
