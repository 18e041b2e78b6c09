// Package chunk splits documents into retrievable units. Five strategies
// are provided: recursive character splitting, markdown structure, code
// boundaries, semantic similarity, and an auto-dispatcher that picks a
// strategy from the content.
package chunk

import (
	"context"
	"strconv"
	"strings"
)

// Chunking defaults.
const (
	// DefaultChunkSize is the default chunk size in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the default overlap between adjacent chunks
	// in characters.
	DefaultChunkOverlap = 200

	// DefaultMaxChunkLines is the default size cap for code chunks.
	DefaultMaxChunkLines = 120
)

// Strategy names emitted in chunk metadata.
const (
	StrategyRecursive = "recursive"
	StrategyMarkdown  = "markdown"
	StrategyCode      = "code"
	StrategySemantic  = "semantic"
)

// Type classifies the content of a chunk.
type Type string

const (
	TypeText   Type = "text"
	TypeCode   Type = "code"
	TypeHeader Type = "header"
	TypeList   Type = "list"
)

// Metadata describes a chunk's position and provenance within its parent
// document.
type Metadata struct {
	ChunkIndex   int      `json:"chunk_index"`
	TotalChunks  int      `json:"total_chunks"`
	ChunkType    Type     `json:"chunk_type"`
	ParentDocID  string   `json:"parent_doc_id"`
	Strategy     string   `json:"chunking_strategy"`
	CharCount    int      `json:"char_count"`
	WordCount    int      `json:"word_count"`
	OverlapRatio float64  `json:"overlap_ratio,omitempty"`
	LineStart    int      `json:"line_start,omitempty"`
	LineEnd      int      `json:"line_end,omitempty"`
	HeaderPath   []string `json:"header_path,omitempty"`
	Language     string   `json:"language,omitempty"`
}

// Chunk is a contiguous piece of a document, the unit of embedding and
// retrieval. Chunks are immutable after creation.
type Chunk struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Input is a document handed to a chunker.
type Input struct {
	// DocID is the parent document id; chunk ids derive from it.
	DocID string

	// Text is the plain-text document content.
	Text string

	// SourcePath is the original file path, if known. Used by the
	// auto-dispatcher for extension hints.
	SourcePath string
}

// Chunker splits a document into an ordered list of chunks.
type Chunker interface {
	// Chunk splits the input into chunks. Chunk ids and index metadata
	// are assigned by the chunker.
	Chunk(ctx context.Context, input *Input) ([]*Chunk, error)

	// Strategy returns the strategy tag written into chunk metadata.
	Strategy() string
}

// chunkID builds the id for the index-th chunk of a document.
func chunkID(docID string, index int) string {
	return docID + "_chunk" + strconv.Itoa(index)
}

// finalize assigns ids, indices, counts, and shared metadata to the
// ordered chunk list of one document.
func finalize(chunks []*Chunk, docID, strategy string, overlapRatio float64) []*Chunk {
	total := len(chunks)
	for i, c := range chunks {
		c.ID = chunkID(docID, i)
		c.Metadata.ChunkIndex = i
		c.Metadata.TotalChunks = total
		c.Metadata.ParentDocID = docID
		c.Metadata.Strategy = strategy
		c.Metadata.CharCount = len(c.Text)
		c.Metadata.WordCount = len(strings.Fields(c.Text))
		c.Metadata.OverlapRatio = overlapRatio
		if c.Metadata.ChunkType == "" {
			c.Metadata.ChunkType = TypeText
		}
	}
	return chunks
}

// ext returns the lowercase file extension of path including the dot, or
// the empty string.
func ext(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 || idx == len(path)-1 {
		return ""
	}
	return strings.ToLower(path[idx:])
}
