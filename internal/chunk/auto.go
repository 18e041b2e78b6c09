package chunk

import (
	"context"
	"strings"

	"github.com/knovalab/knova/internal/embed"
)

// semanticSentenceMin is the sentence-terminator count at which fence-free
// prose dispatches to the semantic chunker.
const semanticSentenceMin = 5

// AutoChunker picks a strategy per document. The file extension decides
// when known; otherwise content heuristics do: fence-free prose with
// enough sentences splits semantically (when an embedder is available),
// header density selects markdown, declaration density selects code, and
// the recursive chunker is the fallback.
type AutoChunker struct {
	recursive *RecursiveChunker
	markdown  *MarkdownChunker
	code      *CodeChunker
	semantic  *SemanticChunker
}

// NewAutoChunker creates an auto-dispatching chunker with default
// settings for each strategy. Without an embedder the semantic strategy
// is unavailable; prose that would qualify falls through to the other
// content rules.
func NewAutoChunker() (*AutoChunker, error) {
	recursive, err := NewRecursiveChunker(DefaultRecursiveConfig())
	if err != nil {
		return nil, err
	}
	markdown, err := NewMarkdownChunker(DefaultMarkdownConfig())
	if err != nil {
		return nil, err
	}
	code, err := NewCodeChunker(DefaultCodeConfig())
	if err != nil {
		return nil, err
	}
	return &AutoChunker{recursive: recursive, markdown: markdown, code: code}, nil
}

// NewAutoChunkerWithEmbedder creates an auto-dispatching chunker whose
// strategy set includes the semantic chunker backed by the given
// embedder.
func NewAutoChunkerWithEmbedder(embedder embed.Embedder) (*AutoChunker, error) {
	c, err := NewAutoChunker()
	if err != nil {
		return nil, err
	}
	semantic, err := NewSemanticChunker(embedder, DefaultSemanticConfig())
	if err != nil {
		return nil, err
	}
	c.semantic = semantic
	return c, nil
}

// Strategy returns the strategy tag of the fallback chunker. The
// dispatched chunker stamps its own tag on the chunks it produces.
func (c *AutoChunker) Strategy() string {
	return StrategyRecursive
}

// Chunk dispatches the document to the detected strategy.
func (c *AutoChunker) Chunk(ctx context.Context, input *Input) ([]*Chunk, error) {
	return c.pick(input).Chunk(ctx, input)
}

// pick selects the chunker for a document. Extension rules win; the
// first matching content rule decides the rest.
func (c *AutoChunker) pick(input *Input) Chunker {
	switch e := ext(input.SourcePath); {
	case e == ".md" || e == ".markdown":
		return c.markdown
	case languageByExt[e] != "":
		return c.code
	}

	switch {
	case c.semantic != nil &&
		sentenceTerminators(input.Text) >= semanticSentenceMin &&
		!strings.Contains(input.Text, "```"):
		return c.semantic
	case looksLikeMarkdown(input.Text):
		return c.markdown
	case looksLikeCode(input.Text):
		return c.code
	default:
		return c.recursive
	}
}

// sentenceTerminators counts sentence-ending punctuation: '.', '!', or
// '?' followed by whitespace or the end of the text.
func sentenceTerminators(text string) int {
	count := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
		default:
			continue
		}
		if i+1 == len(text) {
			count++
			continue
		}
		switch text[i+1] {
		case ' ', '\n', '\t', '\r':
			count++
		}
	}
	return count
}

// looksLikeMarkdown reports whether the text carries markdown structure:
// at least two headers, or one header plus a fenced block.
func looksLikeMarkdown(text string) bool {
	headers := len(mdHeaderPattern.FindAllString(text, 3))
	fences := strings.Count(text, "```") / 2
	return headers >= 2 || (headers >= 1 && fences >= 1)
}

// looksLikeCode reports whether a meaningful share of lines start
// top-level declarations.
func looksLikeCode(text string) bool {
	lines := strings.Split(text, "\n")
	var total, decls int
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		if declPattern.MatchString(line) {
			decls++
		}
	}
	return total >= 5 && decls*10 >= total
}

var _ Chunker = (*AutoChunker)(nil)
