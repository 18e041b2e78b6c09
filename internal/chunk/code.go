package chunk

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// CodeConfig configures the code chunker. Sizes are measured in lines.
type CodeConfig struct {
	// MaxChunkLines is the maximum chunk size in lines.
	MaxChunkLines int

	// WindowOverlapLines is the line overlap used when an oversized
	// declaration falls back to fixed windows.
	WindowOverlapLines int
}

// DefaultCodeConfig returns the default code chunker settings.
func DefaultCodeConfig() CodeConfig {
	return CodeConfig{
		MaxChunkLines:      DefaultMaxChunkLines,
		WindowOverlapLines: 10,
	}
}

// CodeChunker splits source files at top-level declaration boundaries
// found by line scanning. Consecutive declarations are packed into chunks
// up to MaxChunkLines; the import prelude stays with the first chunk. A
// declaration longer than MaxChunkLines is split into overlapping line
// windows.
type CodeChunker struct {
	cfg CodeConfig
}

// declPattern matches the start of a top-level declaration in the
// languages the chunker understands. Column-0 anchoring keeps nested
// definitions inside their parent.
var declPattern = regexp.MustCompile(`^(?:func |type |class |def |fn |impl |struct |enum |interface |module |public |private |protected |static |export |const |var )`)

// languageByExt maps file extensions to language tags for metadata.
var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".kt":    "kotlin",
	".swift": "swift",
	".sh":    "shell",
	".sql":   "sql",
}

// NewCodeChunker creates a code chunker.
func NewCodeChunker(cfg CodeConfig) (*CodeChunker, error) {
	if cfg.MaxChunkLines <= 0 {
		return nil, fmt.Errorf("max_chunk_lines must be positive, got %d", cfg.MaxChunkLines)
	}
	if cfg.WindowOverlapLines < 0 || cfg.WindowOverlapLines >= cfg.MaxChunkLines {
		return nil, fmt.Errorf("window_overlap_lines must be in [0, max_chunk_lines), got %d", cfg.WindowOverlapLines)
	}
	return &CodeChunker{cfg: cfg}, nil
}

// Strategy returns the strategy tag.
func (c *CodeChunker) Strategy() string {
	return StrategyCode
}

// block is a run of source lines belonging to one declaration or the
// file prelude. Line numbers are 1-based.
type block struct {
	lines     []string
	lineStart int
}

// Chunk splits the input source file.
func (c *CodeChunker) Chunk(ctx context.Context, input *Input) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Text) == "" {
		return []*Chunk{}, nil
	}

	language := languageByExt[ext(input.SourcePath)]
	blocks := splitDeclarations(input.Text)

	var chunks []*Chunk
	var cur block
	flush := func() {
		if len(cur.lines) == 0 {
			return
		}
		chunks = append(chunks, c.blockChunks(cur, language)...)
		cur = block{}
	}

	for _, b := range blocks {
		if len(cur.lines) > 0 && len(cur.lines)+len(b.lines) > c.cfg.MaxChunkLines {
			flush()
		}
		if len(cur.lines) == 0 {
			cur.lineStart = b.lineStart
		}
		cur.lines = append(cur.lines, b.lines...)
	}
	flush()

	return finalize(chunks, input.DocID, StrategyCode, 0), nil
}

// blockChunks emits one chunk for a block that fits, or overlapping line
// windows for an oversized declaration.
func (c *CodeChunker) blockChunks(b block, language string) []*Chunk {
	if len(b.lines) <= c.cfg.MaxChunkLines {
		return []*Chunk{codeChunk(b.lines, b.lineStart, language)}
	}

	stride := c.cfg.MaxChunkLines - c.cfg.WindowOverlapLines
	var chunks []*Chunk
	for start := 0; start < len(b.lines); start += stride {
		end := start + c.cfg.MaxChunkLines
		if end > len(b.lines) {
			end = len(b.lines)
		}
		chunks = append(chunks, codeChunk(b.lines[start:end], b.lineStart+start, language))
		if end == len(b.lines) {
			break
		}
	}
	return chunks
}

func codeChunk(lines []string, lineStart int, language string) *Chunk {
	return &Chunk{
		Text: strings.Join(lines, "\n"),
		Metadata: Metadata{
			ChunkType: TypeCode,
			LineStart: lineStart,
			LineEnd:   lineStart + len(lines) - 1,
			Language:  language,
		},
	}
}

// splitDeclarations groups the file's lines into blocks, one per
// top-level declaration. Lines before the first declaration (package
// clause, imports, file comments) form the prelude block, which the
// caller packs together with the first declaration.
func splitDeclarations(text string) []block {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var blocks []block
	cur := block{lineStart: 1}

	for i, line := range lines {
		if declPattern.MatchString(line) && len(cur.lines) > 0 && hasCode(cur.lines) {
			blocks = append(blocks, cur)
			cur = block{lineStart: i + 1}
		}
		cur.lines = append(cur.lines, line)
	}
	if len(cur.lines) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

// hasCode reports whether the block contains any non-blank line.
func hasCode(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}

var _ Chunker = (*CodeChunker)(nil)
