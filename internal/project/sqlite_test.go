package project

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knovalab/knova/internal/kberr"
)

func newTestMetaStore(t *testing.T) *MetaStore {
	t.Helper()
	s, err := OpenMetaStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMetaStoreProjectRoundTrip(t *testing.T) {
	s := newTestMetaStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &Project{
		ID:             "p1",
		Name:           "docs",
		Description:    "product docs",
		EmbeddingModel: "hashing-256",
		CollectionName: "kb_p1",
		Metadata:       map[string]string{"team": "platform"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.SaveProject(ctx, p))

	got, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p.ID, got[0].ID)
	assert.Equal(t, p.Name, got[0].Name)
	assert.Equal(t, p.Metadata, got[0].Metadata)
	assert.True(t, got[0].CreatedAt.Equal(now))
}

func TestMetaStoreProjectUpsert(t *testing.T) {
	s := newTestMetaStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &Project{ID: "p1", Name: "docs", EmbeddingModel: "m", CollectionName: "kb_p1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveProject(ctx, p))

	p.Name = "handbook"
	p.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.SaveProject(ctx, p))

	got, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "handbook", got[0].Name)
}

func TestMetaStoreKeyRoundTrip(t *testing.T) {
	s := newTestMetaStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := &Project{ID: "p1", Name: "docs", EmbeddingModel: "m", CollectionName: "kb_p1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveProject(ctx, p))

	expires := now.Add(24 * time.Hour)
	k := &APIKey{
		ID:        "k1",
		ProjectID: "p1",
		Name:      "ci",
		Hash:      HashKey("kb_example"),
		Scopes:    []Scope{ScopeRead, ScopeWrite},
		CreatedAt: now,
		ExpiresAt: &expires,
	}
	require.NoError(t, s.SaveKey(ctx, k))

	got, err := s.ListKeys(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, k.Hash, got[0].Hash)
	assert.Equal(t, []Scope{ScopeRead, ScopeWrite}, got[0].Scopes)
	require.NotNil(t, got[0].ExpiresAt)
	assert.True(t, got[0].ExpiresAt.Equal(expires))
	assert.Nil(t, got[0].LastUsedAt)
	assert.False(t, got[0].Revoked)
}

func TestMetaStoreTouchAndRevoke(t *testing.T) {
	s := newTestMetaStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := &Project{ID: "p1", Name: "docs", EmbeddingModel: "m", CollectionName: "kb_p1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveProject(ctx, p))
	k := &APIKey{ID: "k1", ProjectID: "p1", Hash: "h1", Scopes: []Scope{ScopeRead}, CreatedAt: now}
	require.NoError(t, s.SaveKey(ctx, k))

	used := now.Add(time.Minute)
	require.NoError(t, s.TouchKey(ctx, "k1", used))

	k.Revoked = true
	revokedAt := now.Add(2 * time.Minute)
	k.RevokedAt = &revokedAt
	require.NoError(t, s.SaveKey(ctx, k))

	got, err := s.ListKeys(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].LastUsedAt)
	assert.True(t, got[0].LastUsedAt.Equal(used))
	assert.True(t, got[0].Revoked)
}

func TestMetaStoreDeleteProjectCascades(t *testing.T) {
	s := newTestMetaStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &Project{ID: "p1", Name: "docs", EmbeddingModel: "m", CollectionName: "kb_p1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveProject(ctx, p))
	k := &APIKey{ID: "k1", ProjectID: "p1", Hash: "h1", Scopes: []Scope{ScopeRead}, CreatedAt: now}
	require.NoError(t, s.SaveKey(ctx, k))

	require.NoError(t, s.DeleteProject(ctx, "p1"))

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)
	keys, err := s.ListKeys(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestManagerLoadRestoresRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	ctx := context.Background()

	metaA, err := OpenMetaStore(path)
	require.NoError(t, err)
	m1 := newTestManager(t, WithMetaStore(metaA))

	p := mustCreate(t, m1, "docs")
	raw, _, err := m1.CreateAPIKey(ctx, p.ID, KeyParams{Name: "ci", Scopes: []Scope{ScopeWrite}})
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	metaB, err := OpenMetaStore(path)
	require.NoError(t, err)
	m2 := newTestManager(t, WithMetaStore(metaB))
	require.NoError(t, m2.Load(ctx))

	got, err := m2.GetProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "docs", got.Name)

	// A reloaded manager still validates keys issued before the restart.
	projectID, _, err := m2.ValidateAPIKey(ctx, raw, ScopeRead)
	require.NoError(t, err)
	assert.Equal(t, p.ID, projectID)

	// And still enforces name uniqueness against restored projects.
	_, err = m2.CreateProject(ctx, CreateParams{Name: "docs"})
	assert.True(t, kberr.IsKind(err, kberr.KindDuplicateName))
}
