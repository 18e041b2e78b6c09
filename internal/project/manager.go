package project

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knovalab/knova/internal/cache"
	"github.com/knovalab/knova/internal/embed"
	"github.com/knovalab/knova/internal/kberr"
	"github.com/knovalab/knova/internal/metrics"
	"github.com/knovalab/knova/internal/search"
	"github.com/knovalab/knova/internal/store"
)

// DefaultEmbeddingModel is used when a project does not name one.
const DefaultEmbeddingModel = "hashing-256"

// BackendFactory opens the vector backend for a project's collection.
type BackendFactory func(ctx context.Context, p *Project) (store.VectorBackend, error)

// EmbedderFactory builds the embedder for an embedding model name.
type EmbedderFactory func(model string) (embed.Embedder, error)

// QueryCache is the per-project semantic cache over search results.
type QueryCache = cache.SemanticCache[[]*search.Result]

// Manager is the process-wide project registry. One RWMutex guards the
// registry maps; per-project resources (backends, caches) synchronize
// themselves. Components are held in id-keyed maps so deletion is a
// single registry operation.
type Manager struct {
	mu        sync.RWMutex
	projects  map[string]*Project
	byName    map[string]string
	backends  map[string]store.VectorBackend
	embedders map[string]embed.Embedder
	caches    map[string]*QueryCache
	keys      map[string][]*APIKey
	keyByHash map[string]*APIKey

	meta            *MetaStore
	metrics         *metrics.Registry
	logger          *slog.Logger
	backendFactory  BackendFactory
	embedderFactory EmbedderFactory
	cacheCfg        cache.SemanticConfig

	now func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetaStore enables metadata persistence.
func WithMetaStore(meta *MetaStore) ManagerOption {
	return func(m *Manager) { m.meta = meta }
}

// WithMetrics wires the metrics registry.
func WithMetrics(reg *metrics.Registry) ManagerOption {
	return func(m *Manager) { m.metrics = reg }
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithCacheConfig sets the per-project query cache configuration.
func WithCacheConfig(cfg cache.SemanticConfig) ManagerOption {
	return func(m *Manager) { m.cacheCfg = cfg }
}

// NewManager creates a project manager.
func NewManager(backendFactory BackendFactory, embedderFactory EmbedderFactory, opts ...ManagerOption) *Manager {
	m := &Manager{
		projects:        make(map[string]*Project),
		byName:          make(map[string]string),
		backends:        make(map[string]store.VectorBackend),
		embedders:       make(map[string]embed.Embedder),
		caches:          make(map[string]*QueryCache),
		keys:            make(map[string][]*APIKey),
		keyByHash:       make(map[string]*APIKey),
		logger:          slog.Default(),
		backendFactory:  backendFactory,
		embedderFactory: embedderFactory,
		cacheCfg:        cache.DefaultSemanticConfig(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateParams are the inputs to CreateProject.
type CreateParams struct {
	Name           string
	Description    string
	EmbeddingModel string
	Metadata       map[string]string
}

// CreateProject registers a new project: validates name uniqueness,
// assigns the id and collection name, opens the backend, and persists
// the metadata.
func (m *Manager) CreateProject(ctx context.Context, params CreateParams) (*Project, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, kberr.New(kberr.KindInvalidArgument, "project name must not be empty")
	}
	model := params.EmbeddingModel
	if model == "" {
		model = DefaultEmbeddingModel
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[name]; exists {
		return nil, kberr.Newf(kberr.KindDuplicateName, "project name %q already in use", name)
	}

	now := m.now().UTC()
	p := &Project{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    params.Description,
		EmbeddingModel: model,
		Metadata:       params.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	p.CollectionName = collectionName(p.ID)

	if err := m.openResourcesLocked(ctx, p); err != nil {
		return nil, err
	}

	if m.meta != nil {
		if err := m.meta.SaveProject(ctx, p); err != nil {
			m.closeResourcesLocked(p.ID)
			return nil, kberr.Wrap(kberr.KindInternal, "persist project", err)
		}
	}

	m.projects[p.ID] = p
	m.byName[p.Name] = p.ID
	if m.metrics != nil {
		m.metrics.ProjectCreations.Inc()
	}
	m.logger.Info("project created",
		slog.String("project_id", p.ID),
		slog.String("name", p.Name),
		slog.String("collection", p.CollectionName))
	return p.clone(), nil
}

// openResourcesLocked opens backend, embedder, and cache for p.
func (m *Manager) openResourcesLocked(ctx context.Context, p *Project) error {
	embedder, err := m.embedderFactory(p.EmbeddingModel)
	if err != nil {
		return kberr.Wrap(kberr.KindInvalidArgument, "open embedder", err)
	}

	backend, err := m.backendFactory(ctx, p)
	if err != nil {
		return kberr.Wrap(kberr.KindBackendUnavailable, "open backend collection", err)
	}
	if err := backend.Initialize(ctx); err != nil {
		_ = backend.Close()
		return kberr.Wrap(kberr.KindBackendUnavailable, "initialize backend collection", err)
	}

	m.backends[p.ID] = backend
	m.embedders[p.ID] = embedder
	m.caches[p.ID] = cache.NewSemanticCache[[]*search.Result](m.cacheCfg)
	return nil
}

// closeResourcesLocked releases and forgets a project's resources.
func (m *Manager) closeResourcesLocked(id string) {
	if backend, ok := m.backends[id]; ok {
		if err := backend.Close(); err != nil {
			m.logger.Warn("close backend", slog.String("project_id", id), slog.String("error", err.Error()))
		}
	}
	if embedder, ok := m.embedders[id]; ok {
		_ = embedder.Close()
	}
	delete(m.backends, id)
	delete(m.embedders, id)
	delete(m.caches, id)
}

// GetProject returns a copy of the project.
func (m *Manager) GetProject(id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, kberr.Newf(kberr.KindNotFound, "project %q not found", id)
	}
	return p.clone(), nil
}

// ListProjects returns copies of all projects ordered by creation.
func (m *Manager) ListProjects() []*Project {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Patch is a partial project update. Nil fields are left unchanged.
type Patch struct {
	Name           *string
	Description    *string
	EmbeddingModel *string
	Metadata       map[string]string
}

// UpdateProject applies a patch. Renames keep name uniqueness; an
// embedding model change is rejected once the project holds documents.
func (m *Manager) UpdateProject(ctx context.Context, id string, patch Patch) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, kberr.Newf(kberr.KindNotFound, "project %q not found", id)
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, kberr.New(kberr.KindInvalidArgument, "project name must not be empty")
		}
		if other, exists := m.byName[name]; exists && other != id {
			return nil, kberr.Newf(kberr.KindDuplicateName, "project name %q already in use", name)
		}
		delete(m.byName, p.Name)
		p.Name = name
		m.byName[name] = id
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Metadata != nil {
		p.Metadata = patch.Metadata
	}
	if patch.EmbeddingModel != nil && *patch.EmbeddingModel != p.EmbeddingModel {
		stats, err := m.backends[id].Stats(ctx)
		if err != nil {
			return nil, kberr.Wrap(kberr.KindBackendUnavailable, "check document count", err)
		}
		if stats.Documents > 0 {
			return nil, kberr.Newf(kberr.KindConflict,
				"cannot change embedding model of project with %d documents", stats.Documents)
		}
		embedder, err := m.embedderFactory(*patch.EmbeddingModel)
		if err != nil {
			return nil, kberr.Wrap(kberr.KindInvalidArgument, "open embedder", err)
		}
		if old, ok := m.embedders[id]; ok {
			_ = old.Close()
		}
		m.embedders[id] = embedder
		p.EmbeddingModel = *patch.EmbeddingModel
	}

	p.UpdatedAt = m.now().UTC()
	if m.meta != nil {
		if err := m.meta.SaveProject(ctx, p); err != nil {
			return nil, kberr.Wrap(kberr.KindInternal, "persist project", err)
		}
	}
	if m.metrics != nil {
		m.metrics.ProjectUpdates.Inc()
	}
	return p.clone(), nil
}

// DeleteProject removes a project, its backend, cache, keys, metrics
// series, and persisted metadata. Idempotent: deleting an unknown id
// is a no-op.
func (m *Manager) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return nil
	}

	m.closeResourcesLocked(id)

	for _, k := range m.keys[id] {
		delete(m.keyByHash, k.Hash)
	}
	delete(m.keys, id)
	delete(m.byName, p.Name)
	delete(m.projects, id)

	if m.meta != nil {
		if err := m.meta.DeleteProject(ctx, id); err != nil {
			return kberr.Wrap(kberr.KindInternal, "delete persisted project", err)
		}
	}
	if m.metrics != nil {
		m.metrics.ProjectDeletions.Inc()
		m.metrics.DeleteProject(id)
	}
	m.logger.Info("project deleted", slog.String("project_id", id))
	return nil
}

// Backend returns the project's vector backend.
func (m *Manager) Backend(id string) (store.VectorBackend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	backend, ok := m.backends[id]
	if !ok {
		return nil, kberr.Newf(kberr.KindNotFound, "project %q not found", id)
	}
	return backend, nil
}

// Embedder returns the project's embedder.
func (m *Manager) Embedder(id string) (embed.Embedder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	embedder, ok := m.embedders[id]
	if !ok {
		return nil, kberr.Newf(kberr.KindNotFound, "project %q not found", id)
	}
	return embedder, nil
}

// ProjectCache returns the project's semantic query cache.
func (m *Manager) ProjectCache(id string) (*QueryCache, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.caches[id]
	if !ok {
		return nil, kberr.Newf(kberr.KindNotFound, "project %q not found", id)
	}
	return c, nil
}

// Load restores projects and API keys from the metadata store and
// reopens their backends. Call once at startup, before serving.
func (m *Manager) Load(ctx context.Context) error {
	if m.meta == nil {
		return nil
	}

	projects, err := m.meta.ListProjects(ctx)
	if err != nil {
		return kberr.Wrap(kberr.KindInternal, "load projects", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range projects {
		if err := m.openResourcesLocked(ctx, p); err != nil {
			return err
		}
		m.projects[p.ID] = p
		m.byName[p.Name] = p.ID

		keys, err := m.meta.ListKeys(ctx, p.ID)
		if err != nil {
			return kberr.Wrap(kberr.KindInternal, "load api keys", err)
		}
		m.keys[p.ID] = keys
		for _, k := range keys {
			m.keyByHash[k.Hash] = k
		}
	}

	m.logger.Info("registry loaded", slog.Int("projects", len(projects)))
	return nil
}

// Close releases every project's resources and the metadata store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.projects {
		m.closeResourcesLocked(id)
	}
	if m.meta != nil {
		return m.meta.Close()
	}
	return nil
}
