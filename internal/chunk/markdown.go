package chunk

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// MarkdownConfig configures the markdown-aware chunker.
type MarkdownConfig struct {
	// MaxChunkSize is the maximum section size in characters before the
	// recursive fallback splits it.
	MaxChunkSize int

	// ChunkOverlap is the overlap used by the recursive fallback.
	ChunkOverlap int
}

// DefaultMarkdownConfig returns the default markdown chunker settings.
func DefaultMarkdownConfig() MarkdownConfig {
	return MarkdownConfig{
		MaxChunkSize: DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// MarkdownChunker splits markdown documents at header boundaries. Each
// chunk inherits the path of its ancestor headers. Fenced code blocks and
// tables are atomic. Sections larger than MaxChunkSize fall back to the
// recursive chunker.
type MarkdownChunker struct {
	cfg      MarkdownConfig
	fallback *RecursiveChunker
}

// Markdown structure patterns.
var (
	mdHeaderPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	mdTablePattern  = regexp.MustCompile(`(?m)^\|.+\|$`)
	mdListPattern   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
)

// NewMarkdownChunker creates a markdown chunker.
func NewMarkdownChunker(cfg MarkdownConfig) (*MarkdownChunker, error) {
	if cfg.MaxChunkSize <= 0 {
		return nil, fmt.Errorf("max_chunk_size must be positive, got %d", cfg.MaxChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("chunk_overlap must be in [0, max_chunk_size), got %d", cfg.ChunkOverlap)
	}
	fallback, err := NewRecursiveChunker(RecursiveConfig{
		ChunkSize:    cfg.MaxChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}
	return &MarkdownChunker{cfg: cfg, fallback: fallback}, nil
}

// Strategy returns the strategy tag.
func (c *MarkdownChunker) Strategy() string {
	return StrategyMarkdown
}

// mdSection is one header-delimited region of the document.
type mdSection struct {
	headerPath []string
	content    string
}

// Chunk splits the input document at header boundaries.
func (c *MarkdownChunker) Chunk(ctx context.Context, input *Input) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Text) == "" {
		return []*Chunk{}, nil
	}

	var chunks []*Chunk
	for _, sec := range parseMarkdownSections(input.Text) {
		secChunks, err := c.sectionChunks(ctx, input, sec)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, secChunks...)
	}

	return finalize(chunks, input.DocID, StrategyMarkdown, 0), nil
}

// sectionChunks emits one chunk for a section that fits, or recursive
// fallback chunks when it is oversized.
func (c *MarkdownChunker) sectionChunks(ctx context.Context, input *Input, sec mdSection) ([]*Chunk, error) {
	content := strings.TrimSpace(sec.content)
	if content == "" {
		return nil, nil
	}

	if len(content) <= c.cfg.MaxChunkSize || isAtomicBlock(content) {
		return []*Chunk{{
			Text: content,
			Metadata: Metadata{
				ChunkType:  classifyMarkdown(content),
				HeaderPath: sec.headerPath,
			},
		}}, nil
	}

	// Oversized section: recursive split, header path preserved.
	sub, err := c.fallback.Chunk(ctx, &Input{DocID: input.DocID, Text: content})
	if err != nil {
		return nil, err
	}
	for _, sc := range sub {
		sc.Metadata.HeaderPath = sec.headerPath
	}
	return sub, nil
}

// parseMarkdownSections splits the document at headers, maintaining the
// ancestor header stack for each section.
func parseMarkdownSections(text string) []mdSection {
	lines := strings.Split(text, "\n")
	var sections []mdSection
	headerStack := make([]string, 6)
	stackDepth := 0

	var content strings.Builder
	currentPath := []string{}
	inFence := false

	flush := func() {
		if strings.TrimSpace(content.String()) != "" {
			sections = append(sections, mdSection{
				headerPath: append([]string(nil), currentPath...),
				content:    content.String(),
			})
		}
		content.Reset()
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}

		match := mdHeaderPattern.FindStringSubmatch(line)
		if match != nil && !inFence {
			flush()

			level := len(match[1])
			title := strings.TrimSpace(match[2])
			headerStack[level-1] = title
			for i := level; i < 6; i++ {
				headerStack[i] = ""
			}
			stackDepth = level

			currentPath = nil
			for i := 0; i < stackDepth; i++ {
				if headerStack[i] != "" {
					currentPath = append(currentPath, headerStack[i])
				}
			}
		}

		content.WriteString(line)
		content.WriteString("\n")
	}
	flush()

	return sections
}

// isAtomicBlock reports whether content is a single fenced code block or
// table that must not be split internally.
func isAtomicBlock(content string) bool {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") && strings.HasSuffix(trimmed, "```") {
		return true
	}
	lines := strings.Split(trimmed, "\n")
	for _, line := range lines {
		if !mdTablePattern.MatchString(line) {
			return false
		}
	}
	return len(lines) > 0
}

// classifyMarkdown picks the chunk type for a markdown section.
func classifyMarkdown(content string) Type {
	trimmed := strings.TrimSpace(content)
	switch {
	case strings.HasPrefix(trimmed, "```"):
		return TypeCode
	case mdHeaderPattern.MatchString(firstLine(trimmed)):
		return TypeHeader
	case mdListPattern.MatchString(firstLine(trimmed)):
		return TypeList
	default:
		return TypeText
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

var _ Chunker = (*MarkdownChunker)(nil)
