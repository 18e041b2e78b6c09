// Package repo holds the per-project document registry: source
// documents, their chunk ids, and strict JSON persistence.
package repo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/knovalab/knova/internal/kberr"
)

// Document is a source document tracked by the repository.
type Document struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ChunkIDs  []string          `json:"chunk_ids,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// clone returns a deep copy of the document.
func (d *Document) clone() *Document {
	out := *d
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	if d.ChunkIDs != nil {
		out.ChunkIDs = append([]string(nil), d.ChunkIDs...)
	}
	return &out
}

// Repository is an in-memory document table with optional JSON
// persistence. All reads return deep copies so callers can never
// mutate repository state through a returned document.
type Repository struct {
	mu   sync.RWMutex
	docs map[string]*Document
	path string

	now func() time.Time
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithPath enables persistence at the given file path.
func WithPath(path string) RepositoryOption {
	return func(r *Repository) {
		r.path = path
	}
}

// NewRepository creates an empty repository.
func NewRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		docs: make(map[string]*Document),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add stores a document, assigning an id when absent. The stored copy
// is independent of the argument. Returns the stored document's id.
func (r *Repository) Add(doc *Document) (string, error) {
	if doc == nil {
		return "", kberr.New(kberr.KindInvalidArgument, "document is required")
	}

	stored := doc.clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if existing, ok := r.docs[stored.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.docs[stored.ID] = stored
	return stored.ID, nil
}

// Get returns a deep copy of the document.
func (r *Repository) Get(id string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, kberr.Newf(kberr.KindNotFound, "document %q not found", id)
	}
	return doc.clone(), nil
}

// List returns deep copies of all documents ordered by id.
func (r *Repository) List() []*Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Document, 0, len(r.docs))
	for _, doc := range r.docs {
		out = append(out, doc.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a document and returns its chunk ids so the caller
// can clean up the backend.
func (r *Repository) Delete(id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, kberr.Newf(kberr.KindNotFound, "document %q not found", id)
	}
	chunks := append([]string(nil), doc.ChunkIDs...)
	delete(r.docs, id)
	return chunks, nil
}

// Count returns the number of documents.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

// ReplaceIndex swaps the entire document table in one step. Readers
// see either the old table or the new one, never a mix.
func (r *Repository) ReplaceIndex(docs []*Document) error {
	next := make(map[string]*Document, len(docs))
	now := r.now().UTC()
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return kberr.New(kberr.KindInvalidArgument, "replacement documents need ids")
		}
		stored := doc.clone()
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = now
		}
		next[stored.ID] = stored
	}

	r.mu.Lock()
	r.docs = next
	r.mu.Unlock()
	return nil
}

// repoFile is the persisted shape.
type repoFile struct {
	Version   int         `json:"version"`
	Documents []*Document `json:"documents"`
}

// Save writes the repository atomically as JSON. A no-op without a
// configured path.
func (r *Repository) Save() error {
	if r.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create repository directory: %w", err)
	}
	payload := repoFile{Version: 1, Documents: r.List()}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode repository: %w", err)
	}
	if err := renameio.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write repository file: %w", err)
	}
	return nil
}

// Load replaces the repository contents from the persisted file.
// Decoding is strict: unknown fields are rejected so a corrupt or
// foreign file never loads partially. A missing file leaves the
// repository empty.
func (r *Repository) Load() error {
	if r.path == "" {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read repository file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var payload repoFile
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("decode repository file: %w", err)
	}

	return r.ReplaceIndex(payload.Documents)
}
