package chunk

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// RecursiveConfig configures the recursive character chunker.
// Sizes are measured in characters.
type RecursiveConfig struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int

	// ChunkOverlap is the exact overlap between adjacent chunks within a
	// segment, in characters. Must be smaller than ChunkSize.
	ChunkOverlap int
}

// DefaultRecursiveConfig returns the default recursive chunker settings.
func DefaultRecursiveConfig() RecursiveConfig {
	return RecursiveConfig{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// RecursiveChunker splits text hierarchically: paragraph boundaries first,
// then sentence boundaries within oversized pieces, then word boundaries,
// then fixed width. Adjacent chunks within a segment share exactly
// ChunkOverlap characters of suffix/prefix; no overlap is added across
// paragraph breaks. Fenced code blocks are atomic and never split.
type RecursiveChunker struct {
	cfg RecursiveConfig
}

// fencedBlockPattern matches a complete fenced code block.
var fencedBlockPattern = regexp.MustCompile("(?s)```.*?```")

// NewRecursiveChunker creates a recursive chunker.
func NewRecursiveChunker(cfg RecursiveConfig) (*RecursiveChunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk_size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", cfg.ChunkOverlap)
	}
	return &RecursiveChunker{cfg: cfg}, nil
}

// Strategy returns the strategy tag.
func (c *RecursiveChunker) Strategy() string {
	return StrategyRecursive
}

// Chunk splits the input document.
func (c *RecursiveChunker) Chunk(ctx context.Context, input *Input) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Text) == "" {
		return []*Chunk{}, nil
	}

	var chunks []*Chunk
	for _, seg := range splitSegments(input.Text) {
		if seg.code {
			// Fenced blocks are atomic even when oversized.
			chunks = append(chunks, &Chunk{
				Text:     seg.text,
				Metadata: Metadata{ChunkType: TypeCode},
			})
			continue
		}

		pieces := c.splitPieces(seg.text)
		for i, piece := range pieces {
			text := piece
			if i > 0 && c.cfg.ChunkOverlap > 0 {
				prev := chunks[len(chunks)-1].Text
				text = tail(prev, c.cfg.ChunkOverlap) + piece
			}
			chunks = append(chunks, &Chunk{
				Text:     text,
				Metadata: Metadata{ChunkType: TypeText},
			})
		}
	}

	ratio := float64(c.cfg.ChunkOverlap) / float64(c.cfg.ChunkSize)
	return finalize(chunks, input.DocID, StrategyRecursive, ratio), nil
}

// segment is a hard-boundary piece of the document: a paragraph or an
// atomic fenced code block.
type segment struct {
	text string
	code bool
}

// splitSegments splits text at fenced code blocks and paragraph breaks.
func splitSegments(text string) []segment {
	var segments []segment

	appendProse := func(s string) {
		for _, para := range strings.Split(s, "\n\n") {
			if trimmed := strings.TrimSpace(para); trimmed != "" {
				segments = append(segments, segment{text: trimmed})
			}
		}
	}

	last := 0
	for _, loc := range fencedBlockPattern.FindAllStringIndex(text, -1) {
		appendProse(text[last:loc[0]])
		segments = append(segments, segment{text: strings.TrimSpace(text[loc[0]:loc[1]]), code: true})
		last = loc[1]
	}
	appendProse(text[last:])

	return segments
}

// splitPieces splits one prose segment into base pieces. The first piece
// is at most ChunkSize characters; subsequent pieces are at most
// ChunkSize-ChunkOverlap so the overlap prefix keeps chunks within
// ChunkSize.
func (c *RecursiveChunker) splitPieces(s string) []string {
	if len(s) <= c.cfg.ChunkSize {
		return []string{s}
	}

	stride := c.cfg.ChunkSize - c.cfg.ChunkOverlap
	units := atomicUnits(s, stride)

	var pieces []string
	var cur strings.Builder
	budget := c.cfg.ChunkSize
	for _, u := range units {
		if cur.Len() > 0 && cur.Len()+len(u) > budget {
			pieces = append(pieces, cur.String())
			cur.Reset()
			budget = stride
		}
		cur.WriteString(u)
	}
	if cur.Len() > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}

// atomicUnits splits s into units no longer than max characters,
// preferring sentence boundaries, then word boundaries, then fixed width.
func atomicUnits(s string, max int) []string {
	var units []string
	for _, sent := range splitAfterTerminators(s) {
		if len(sent) <= max {
			units = append(units, sent)
			continue
		}
		for _, word := range splitAfterSpaces(sent) {
			if len(word) <= max {
				units = append(units, word)
				continue
			}
			for start := 0; start < len(word); start += max {
				end := start + max
				if end > len(word) {
					end = len(word)
				}
				units = append(units, word[start:end])
			}
		}
	}
	return units
}

// splitAfterTerminators splits after sentence terminators (". ", "! ",
// "? "), keeping the terminator attached to the preceding sentence.
func splitAfterTerminators(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s)-1; i++ {
		if (s[i] == '.' || s[i] == '!' || s[i] == '?') && s[i+1] == ' ' {
			parts = append(parts, s[start:i+2])
			start = i + 2
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// splitAfterSpaces splits after spaces, keeping the space attached to the
// preceding word.
func splitAfterSpaces(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			parts = append(parts, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// tail returns the last n bytes of s, or all of s when shorter.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var _ Chunker = (*RecursiveChunker)(nil)
