package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/coder/hnsw"
	"github.com/google/renameio"

	"github.com/knovalab/knova/internal/kberr"
)

// EmbeddedConfig configures the in-process backend.
type EmbeddedConfig struct {
	// Dimensions is the embedding dimensionality. Required.
	Dimensions int

	// Path is the persistence directory. Empty means memory-only.
	Path string

	// M is the HNSW connectivity parameter. Zero selects the default.
	M int

	// EfSearch is the HNSW search breadth. Zero selects the default.
	EfSearch int
}

// EmbeddedBackend is the in-process VectorBackend: a coder/hnsw graph
// for vector search, a bleve index for keyword search, and a document
// table holding text, metadata, and the original embeddings.
//
// Deletion from the graph is lazy: the node stays but loses its id
// mapping, so it never surfaces in results. This sidesteps graph
// corruption when the last node is removed and is reported through
// Stats as orphans.
type EmbeddedBackend struct {
	mu  sync.RWMutex
	cfg EmbeddedConfig

	graph   *hnsw.Graph[uint64]
	keyword bleve.Index
	docs    map[string]*storedDoc

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	initialized bool
	closed      bool
}

type storedDoc struct {
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// embeddedMeta is the gob-persisted sidecar: id mappings and documents.
type embeddedMeta struct {
	Docs    map[string]*storedDoc
	IDMap   map[string]uint64
	NextKey uint64
	Config  EmbeddedConfig
}

// keywordDoc is the shape handed to bleve.
type keywordDoc struct {
	Content string `json:"content"`
}

// NewEmbeddedBackend creates an embedded backend. Call Initialize
// before use.
func NewEmbeddedBackend(cfg EmbeddedConfig) (*EmbeddedBackend, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	return &EmbeddedBackend{
		cfg:    cfg,
		docs:   make(map[string]*storedDoc),
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Initialize builds the graph and keyword index, loading persisted
// state when a path is configured and a previous save exists.
func (b *EmbeddedBackend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("backend is closed")
	}
	if b.initialized {
		return nil
	}

	b.graph = hnsw.NewGraph[uint64]()
	b.graph.Distance = hnsw.CosineDistance
	b.graph.M = b.cfg.M
	b.graph.EfSearch = b.cfg.EfSearch
	b.graph.Ml = 0.25

	var (
		idx bleve.Index
		err error
	)
	if b.cfg.Path == "" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else {
		if err := os.MkdirAll(b.cfg.Path, 0o755); err != nil {
			return fmt.Errorf("create backend directory: %w", err)
		}
		kwPath := filepath.Join(b.cfg.Path, "keyword.bleve")
		idx, err = bleve.Open(kwPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(kwPath, bleve.NewIndexMapping())
		}
	}
	if err != nil {
		return fmt.Errorf("open keyword index: %w", err)
	}
	b.keyword = idx

	if b.cfg.Path != "" {
		if err := b.loadLocked(); err != nil {
			return err
		}
	}

	b.initialized = true
	return nil
}

// AddDocuments upserts documents into all three structures.
func (b *EmbeddedBackend) AddDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.readyLocked(); err != nil {
		return err
	}

	for _, doc := range docs {
		if len(doc.Embedding) != b.cfg.Dimensions {
			return ErrDimensionMismatch{Expected: b.cfg.Dimensions, Got: len(doc.Embedding)}
		}
	}

	batch := b.keyword.NewBatch()
	for _, doc := range docs {
		if key, exists := b.idMap[doc.ID]; exists {
			// Lazy delete: orphan the old graph node.
			delete(b.keyMap, key)
			delete(b.idMap, doc.ID)
		}

		vec := make([]float32, len(doc.Embedding))
		copy(vec, doc.Embedding)
		normalizeInPlace(vec)

		key := b.nextKey
		b.nextKey++
		b.graph.Add(hnsw.MakeNode(key, vec))
		b.idMap[doc.ID] = key
		b.keyMap[key] = doc.ID

		b.docs[doc.ID] = &storedDoc{
			Text:      doc.Text,
			Embedding: vec,
			Metadata:  copyMetadata(doc.Metadata),
		}
		if err := batch.Index(doc.ID, keywordDoc{Content: doc.Text}); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
	}
	if err := b.keyword.Batch(batch); err != nil {
		return fmt.Errorf("keyword batch: %w", err)
	}

	// The bleve index is already on disk; keep the graph and document
	// sidecar in step with it.
	return b.saveLocked()
}

// QueryVector searches the graph and post-filters by metadata. The
// graph is over-queried when a filter is present so filtered-out hits
// do not starve the result.
func (b *EmbeddedBackend) QueryVector(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]*SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readyLocked(); err != nil {
		return nil, err
	}
	if len(embedding) != b.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: b.cfg.Dimensions, Got: len(embedding)}
	}
	if b.graph.Len() == 0 || topK <= 0 {
		return []*SearchResult{}, nil
	}

	query := make([]float32, len(embedding))
	copy(query, embedding)
	normalizeInPlace(query)

	fetch := topK
	if len(filter) > 0 {
		fetch = topK * 4
	}
	// Orphaned nodes still occupy graph slots.
	fetch += b.graph.Len() - len(b.idMap)

	results := make([]*SearchResult, 0, topK)
	for _, node := range b.graph.Search(query, fetch) {
		id, ok := b.keyMap[node.Key]
		if !ok {
			continue
		}
		doc := b.docs[id]
		if doc == nil || !matchesFilter(doc.Metadata, filter) {
			continue
		}
		distance := b.graph.Distance(query, node.Value)
		results = append(results, &SearchResult{
			ID:       id,
			Score:    cosineDistanceToScore(distance),
			Text:     doc.Text,
			Metadata: copyMetadata(doc.Metadata),
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// QueryKeyword searches the bleve index and post-filters by metadata.
func (b *EmbeddedBackend) QueryKeyword(ctx context.Context, query string, topK int, filter map[string]string) ([]*SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readyLocked(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return []*SearchResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = topK
	if len(filter) > 0 {
		req.Size = topK * 4
	}

	res, err := b.keyword.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	results := make([]*SearchResult, 0, topK)
	for _, hit := range res.Hits {
		doc := b.docs[hit.ID]
		if doc == nil || !matchesFilter(doc.Metadata, filter) {
			continue
		}
		results = append(results, &SearchResult{
			ID:       hit.ID,
			Score:    hit.Score,
			Text:     doc.Text,
			Metadata: copyMetadata(doc.Metadata),
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// FetchEmbeddings returns stored embeddings for the given ids.
func (b *EmbeddedBackend) FetchEmbeddings(ctx context.Context, ids []string) (map[string][]float32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readyLocked(); err != nil {
		return nil, err
	}

	out := make(map[string][]float32, len(ids))
	for _, id := range ids {
		if doc, ok := b.docs[id]; ok {
			vec := make([]float32, len(doc.Embedding))
			copy(vec, doc.Embedding)
			out[id] = vec
		}
	}
	return out, nil
}

// DeleteDocuments removes documents by id and/or metadata filter.
func (b *EmbeddedBackend) DeleteDocuments(ctx context.Context, ids []string, filter map[string]string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.readyLocked(); err != nil {
		return 0, err
	}
	if len(ids) == 0 && len(filter) == 0 {
		return 0, kberr.New(kberr.KindInvalidArgument, "delete needs ids or a filter")
	}

	victims := make([]string, 0, len(ids))
	if len(ids) > 0 {
		for _, id := range ids {
			if doc, ok := b.docs[id]; ok && matchesFilter(doc.Metadata, filter) {
				victims = append(victims, id)
			}
		}
	} else if len(filter) > 0 {
		for id, doc := range b.docs {
			if matchesFilter(doc.Metadata, filter) {
				victims = append(victims, id)
			}
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	batch := b.keyword.NewBatch()
	for _, id := range victims {
		if key, ok := b.idMap[id]; ok {
			delete(b.keyMap, key)
			delete(b.idMap, id)
		}
		delete(b.docs, id)
		batch.Delete(id)
	}
	if err := b.keyword.Batch(batch); err != nil {
		return 0, fmt.Errorf("keyword delete: %w", err)
	}
	if err := b.saveLocked(); err != nil {
		return 0, err
	}
	return len(victims), nil
}

// Stats returns document and graph counters.
func (b *EmbeddedBackend) Stats(ctx context.Context) (*Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readyLocked(); err != nil {
		return nil, err
	}
	nodes := b.graph.Len()
	return &Stats{
		Documents:  len(b.docs),
		IndexNodes: nodes,
		Orphans:    nodes - len(b.idMap),
	}, nil
}

// Health reports readiness.
func (b *EmbeddedBackend) Health(ctx context.Context) Health {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch {
	case b.closed:
		return Health{Detail: "backend closed"}
	case !b.initialized:
		return Health{Detail: "not initialized"}
	default:
		return Health{Healthy: true, Detail: fmt.Sprintf("%d documents", len(b.docs))}
	}
}

// Save persists the graph and the document sidecar atomically. A no-op
// for memory-only backends.
func (b *EmbeddedBackend) Save() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readyLocked(); err != nil {
		return err
	}
	return b.saveLocked()
}

// saveLocked writes the graph and sidecar files. Caller holds the lock.
func (b *EmbeddedBackend) saveLocked() error {
	if b.cfg.Path == "" {
		return nil
	}

	graphPath := filepath.Join(b.cfg.Path, "vectors.hnsw")
	t, err := renameio.TempFile("", graphPath)
	if err != nil {
		return fmt.Errorf("create temp graph file: %w", err)
	}
	defer t.Cleanup()
	if err := b.graph.Export(t); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace graph file: %w", err)
	}

	meta := embeddedMeta{
		Docs:    b.docs,
		IDMap:   b.idMap,
		NextKey: b.nextKey,
		Config:  b.cfg,
	}
	metaPath := filepath.Join(b.cfg.Path, "vectors.meta")
	mt, err := renameio.TempFile("", metaPath)
	if err != nil {
		return fmt.Errorf("create temp meta file: %w", err)
	}
	defer mt.Cleanup()
	if err := gob.NewEncoder(mt).Encode(meta); err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	return mt.CloseAtomicallyReplace()
}

// loadLocked restores persisted state if present. Called under the
// write lock during Initialize.
func (b *EmbeddedBackend) loadLocked() error {
	metaPath := filepath.Join(b.cfg.Path, "vectors.meta")
	file, err := os.Open(metaPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open meta file: %w", err)
	}
	defer file.Close()

	var meta embeddedMeta
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode meta: %w", err)
	}
	if meta.Config.Dimensions != b.cfg.Dimensions {
		return ErrDimensionMismatch{Expected: b.cfg.Dimensions, Got: meta.Config.Dimensions}
	}

	b.docs = meta.Docs
	b.idMap = meta.IDMap
	b.nextKey = meta.NextKey
	b.keyMap = make(map[uint64]string, len(b.idMap))
	for id, key := range b.idMap {
		b.keyMap[key] = id
	}

	graphPath := filepath.Join(b.cfg.Path, "vectors.hnsw")
	gf, err := os.Open(graphPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer gf.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := b.graph.Import(bufio.NewReader(gf)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

// Close persists pending state and releases the keyword index and the
// graph.
func (b *EmbeddedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	var saveErr error
	if b.initialized {
		saveErr = b.saveLocked()
	}

	b.closed = true
	b.graph = nil
	if b.keyword != nil {
		if err := b.keyword.Close(); err != nil {
			return err
		}
	}
	return saveErr
}

func (b *EmbeddedBackend) readyLocked() error {
	if b.closed {
		return kberr.New(kberr.KindNotReady, "backend is closed")
	}
	if !b.initialized {
		return kberr.New(kberr.KindNotReady, "backend not initialized")
	}
	return nil
}

// normalizeInPlace scales v to unit length. Zero vectors are left
// unchanged.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// cosineDistanceToScore converts cosine distance to cosine similarity,
// matching the relational backend's `1 - (embedding <=> query)` score.
func cosineDistanceToScore(distance float32) float64 {
	return float64(1.0 - distance)
}

var _ VectorBackend = (*EmbeddedBackend)(nil)
