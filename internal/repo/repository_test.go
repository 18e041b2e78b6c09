package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knovalab/knova/internal/kberr"
)

func TestRepositoryAddAssignsID(t *testing.T) {
	r := NewRepository()

	id, err := r.Add(&Document{Text: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	doc, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Text)
	assert.False(t, doc.CreatedAt.IsZero())
}

func TestRepositoryGetReturnsDeepCopy(t *testing.T) {
	r := NewRepository()
	id, err := r.Add(&Document{
		Text:     "original",
		Metadata: map[string]string{"lang": "en"},
		ChunkIDs: []string{"c0"},
	})
	require.NoError(t, err)

	got, err := r.Get(id)
	require.NoError(t, err)
	got.Text = "mutated"
	got.Metadata["lang"] = "es"
	got.ChunkIDs[0] = "mutated"

	fresh, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "original", fresh.Text)
	assert.Equal(t, "en", fresh.Metadata["lang"])
	assert.Equal(t, "c0", fresh.ChunkIDs[0])
}

func TestRepositoryAddCopiesInput(t *testing.T) {
	r := NewRepository()
	input := &Document{ID: "d1", Text: "text", Metadata: map[string]string{"k": "v"}}
	_, err := r.Add(input)
	require.NoError(t, err)

	input.Metadata["k"] = "changed"
	doc, err := r.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, "v", doc.Metadata["k"])
}

func TestRepositoryUpdatePreservesCreatedAt(t *testing.T) {
	r := NewRepository()
	_, err := r.Add(&Document{ID: "d1", Text: "v1"})
	require.NoError(t, err)
	first, err := r.Get("d1")
	require.NoError(t, err)

	_, err = r.Add(&Document{ID: "d1", Text: "v2"})
	require.NoError(t, err)
	second, err := r.Get("d1")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "v2", second.Text)
}

func TestRepositoryGetNotFound(t *testing.T) {
	r := NewRepository()
	_, err := r.Get("missing")
	assert.True(t, kberr.IsKind(err, kberr.KindNotFound))
}

func TestRepositoryDeleteReturnsChunkIDs(t *testing.T) {
	r := NewRepository()
	_, err := r.Add(&Document{ID: "d1", Text: "t", ChunkIDs: []string{"d1_chunk0", "d1_chunk1"}})
	require.NoError(t, err)

	chunks, err := r.Delete("d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1_chunk0", "d1_chunk1"}, chunks)

	_, err = r.Get("d1")
	assert.True(t, kberr.IsKind(err, kberr.KindNotFound))
}

func TestRepositoryListSorted(t *testing.T) {
	r := NewRepository()
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Add(&Document{ID: id, Text: id})
		require.NoError(t, err)
	}

	docs := r.List()
	require.Len(t, docs, 3)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
	assert.Equal(t, "c", docs[2].ID)
}

func TestRepositoryReplaceIndexAtomic(t *testing.T) {
	r := NewRepository()
	for i := 0; i < 10; i++ {
		_, err := r.Add(&Document{ID: fmt.Sprintf("old%d", i), Text: "old"})
		require.NoError(t, err)
	}

	// Readers racing a replace must always observe a complete table:
	// either all-old or all-new, never a blend.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				docs := r.List()
				if len(docs) == 0 {
					continue
				}
				generation := docs[0].Text
				for _, d := range docs {
					if d.Text != generation {
						t.Errorf("mixed generations observed: %s vs %s", generation, d.Text)
						return
					}
				}
			}
		}()
	}

	for gen := 0; gen < 20; gen++ {
		next := make([]*Document, 10)
		text := fmt.Sprintf("gen%d", gen)
		for i := range next {
			next[i] = &Document{ID: fmt.Sprintf("doc%d", i), Text: text}
		}
		require.NoError(t, r.ReplaceIndex(next))
	}
	close(stop)
	wg.Wait()
}

func TestRepositoryReplaceIndexRequiresIDs(t *testing.T) {
	r := NewRepository()
	err := r.ReplaceIndex([]*Document{{Text: "no id"}})
	assert.True(t, kberr.IsKind(err, kberr.KindInvalidArgument))
}

func TestRepositorySaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.json")
	r := NewRepository(WithPath(path))
	_, err := r.Add(&Document{ID: "d1", Text: "persisted", Metadata: map[string]string{"k": "v"}, ChunkIDs: []string{"d1_chunk0"}})
	require.NoError(t, err)
	require.NoError(t, r.Save())

	loaded := NewRepository(WithPath(path))
	require.NoError(t, loaded.Load())
	assert.Equal(t, 1, loaded.Count())

	doc, err := loaded.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, "persisted", doc.Text)
	assert.Equal(t, "v", doc.Metadata["k"])
	assert.Equal(t, []string{"d1_chunk0"}, doc.ChunkIDs)
}

func TestRepositoryLoadMissingFile(t *testing.T) {
	r := NewRepository(WithPath(filepath.Join(t.TempDir(), "absent.json")))
	require.NoError(t, r.Load())
	assert.Zero(t, r.Count())
}

func TestRepositoryLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.json")
	payload := `{"version":1,"documents":[],"injected":"field"}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	r := NewRepository(WithPath(path))
	assert.Error(t, r.Load())
}
