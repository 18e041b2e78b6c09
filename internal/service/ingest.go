package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/knovalab/knova/internal/chunk"
	"github.com/knovalab/knova/internal/embed"
	"github.com/knovalab/knova/internal/kberr"
	"github.com/knovalab/knova/internal/repo"
	"github.com/knovalab/knova/internal/store"
)

// IngestDocument is one document submitted for indexing.
type IngestDocument struct {
	ID         string            `json:"id,omitempty"`
	Title      string            `json:"title,omitempty"`
	Text       string            `json:"text"`
	SourcePath string            `json:"source_path,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IngestRequest submits documents to one project.
type IngestRequest struct {
	ProjectID string           `json:"project_id"`
	Documents []IngestDocument `json:"documents"`
}

// IngestItem is the per-document outcome. A failed document does not
// abort the rest of the batch.
type IngestItem struct {
	DocID  string    `json:"doc_id"`
	Chunks int       `json:"chunks"`
	Error  *APIError `json:"error,omitempty"`
}

// IngestResponse summarizes one ingest batch.
type IngestResponse struct {
	Items     []IngestItem  `json:"items"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Took      time.Duration `json:"took"`
}

// Ingest chunks, embeds, and indexes a batch of documents.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	if !s.limits.forProject(req.ProjectID).ingest.Allow() {
		return nil, kberr.New(kberr.KindRateLimited, "ingest rate limit exceeded")
	}
	if len(req.Documents) == 0 {
		return nil, kberr.New(kberr.KindInvalidArgument, "ingest requires at least one document")
	}

	backend, err := s.manager.Backend(req.ProjectID)
	if err != nil {
		return nil, err
	}
	embedder, err := s.manager.Embedder(req.ProjectID)
	if err != nil {
		return nil, err
	}
	repository, err := s.repository(req.ProjectID)
	if err != nil {
		return nil, err
	}
	chunker, err := s.chunker(req.ProjectID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp := &IngestResponse{}
	for _, doc := range req.Documents {
		item := s.ingestOne(ctx, req.ProjectID, backend, embedder, repository, chunker, doc)
		if item.Error != nil {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Items = append(resp.Items, item)
	}
	resp.Took = time.Since(started)

	if resp.Succeeded > 0 {
		if err := repository.Save(); err != nil {
			s.logger.Warn("persist document records",
				slog.String("project_id", req.ProjectID),
				slog.String("error", err.Error()))
		}
	}

	// Indexed content changed; cached query results are stale.
	if cache, err := s.manager.ProjectCache(req.ProjectID); err == nil {
		cache.Clear()
	}
	if s.metrics != nil {
		s.metrics.ProjectDocuments.WithLabelValues(req.ProjectID).Set(float64(repository.Count()))
	}
	return resp, nil
}

func (s *Service) ingestOne(ctx context.Context, projectID string, backend store.VectorBackend, embedder embed.Embedder, repository *repo.Repository, chunker *chunk.AutoChunker, doc IngestDocument) IngestItem {
	item := IngestItem{DocID: doc.ID}

	fail := func(err error) IngestItem {
		item.Error = FromError(err)
		if s.metrics != nil {
			s.metrics.ProjectIngests.WithLabelValues(projectID, "error").Inc()
			s.metrics.ProjectErrors.WithLabelValues(projectID, string(kberr.KindOf(err))).Inc()
		}
		return item
	}

	if doc.Text == "" {
		return fail(kberr.New(kberr.KindInvalidArgument, "document text must not be empty"))
	}

	// The repository assigns the id when the caller omitted one; chunk
	// ids derive from it, so register the document first.
	record := &repo.Document{
		ID:       doc.ID,
		Title:    doc.Title,
		Text:     doc.Text,
		Metadata: doc.Metadata,
	}
	docID, err := repository.Add(record)
	if err != nil {
		return fail(err)
	}
	item.DocID = docID

	// A failure past this point must not leave a chunkless record
	// inflating document counts.
	discard := func(err error) IngestItem {
		if _, derr := repository.Delete(docID); derr != nil && !kberr.IsKind(derr, kberr.KindNotFound) {
			s.logger.Warn("remove record of failed ingest",
				slog.String("doc_id", docID),
				slog.String("error", derr.Error()))
		}
		return fail(err)
	}

	chunkStart := time.Now()
	chunks, err := chunker.Chunk(ctx, &chunk.Input{
		DocID:      docID,
		Text:       doc.Text,
		SourcePath: doc.SourcePath,
	})
	if err != nil {
		return discard(err)
	}
	if len(chunks) == 0 {
		return discard(kberr.New(kberr.KindInvalidArgument, "document produced no chunks"))
	}
	if s.metrics != nil {
		s.metrics.ChunkingDuration.WithLabelValues(chunks[0].Metadata.Strategy).
			Observe(time.Since(chunkStart).Seconds())
		for _, c := range chunks {
			s.metrics.ChunksCreated.Inc()
			s.metrics.ChunkSizeBytes.Observe(float64(len(c.Text)))
		}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return discard(kberr.Wrap(kberr.KindBackendUnavailable, "embed chunks", err))
	}

	stored := make([]*store.Document, len(chunks))
	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		stored[i] = &store.Document{
			ID:        c.ID,
			Text:      c.Text,
			Embedding: embeddings[i],
			Metadata:  chunkMetadata(docID, doc, i, len(chunks), c.Metadata.Strategy, string(c.Metadata.ChunkType)),
		}
		chunkIDs[i] = c.ID
	}
	if err := backend.AddDocuments(ctx, stored); err != nil {
		return discard(err)
	}

	record.ChunkIDs = chunkIDs
	record.ID = docID
	if _, err := repository.Add(record); err != nil {
		return discard(err)
	}

	item.Chunks = len(chunks)
	if s.metrics != nil {
		s.metrics.ProjectIngests.WithLabelValues(projectID, "ok").Inc()
	}
	return item
}

func chunkMetadata(docID string, doc IngestDocument, index, total int, strategy, chunkType string) map[string]string {
	meta := make(map[string]string, len(doc.Metadata)+5)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["parent_doc_id"] = docID
	meta["chunk_index"] = strconv.Itoa(index)
	meta["total_chunks"] = strconv.Itoa(total)
	meta["chunking_strategy"] = strategy
	meta["chunk_type"] = chunkType
	return meta
}

// GetDocument returns one document record.
func (s *Service) GetDocument(projectID, docID string) (*repo.Document, error) {
	repository, err := s.repository(projectID)
	if err != nil {
		return nil, err
	}
	return repository.Get(docID)
}

// ListDocuments returns a project's document records, subject to the
// list budget.
func (s *Service) ListDocuments(projectID string) ([]*repo.Document, error) {
	if !s.limits.list.Allow() {
		return nil, kberr.New(kberr.KindRateLimited, "list rate limit exceeded")
	}
	repository, err := s.repository(projectID)
	if err != nil {
		return nil, err
	}
	return repository.List(), nil
}

// DeleteDocuments removes documents by id, metadata filter, or both,
// and returns how many chunks were deleted from the backend.
func (s *Service) DeleteDocuments(ctx context.Context, projectID string, ids []string, filter map[string]string) (int, error) {
	if len(ids) == 0 && len(filter) == 0 {
		return 0, kberr.New(kberr.KindInvalidArgument, "delete requires document ids or a metadata filter")
	}

	backend, err := s.manager.Backend(projectID)
	if err != nil {
		return 0, err
	}
	repository, err := s.repository(projectID)
	if err != nil {
		return 0, err
	}

	// Document ids map to chunk ids through the repository.
	var chunkIDs []string
	for _, id := range ids {
		removed, err := repository.Delete(id)
		if err != nil {
			if kberr.IsKind(err, kberr.KindNotFound) {
				continue
			}
			return 0, err
		}
		chunkIDs = append(chunkIDs, removed...)
	}
	if len(chunkIDs) == 0 && len(filter) == 0 {
		return 0, nil
	}

	deleted, err := backend.DeleteDocuments(ctx, chunkIDs, filter)
	if err != nil {
		return 0, err
	}

	if err := repository.Save(); err != nil {
		s.logger.Warn("persist document records",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()))
	}

	if cache, err := s.manager.ProjectCache(projectID); err == nil {
		cache.Clear()
	}
	if s.metrics != nil {
		s.metrics.ProjectDocuments.WithLabelValues(projectID).Set(float64(repository.Count()))
	}
	return deleted, nil
}
