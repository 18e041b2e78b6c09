package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPGVectorBackendValidation(t *testing.T) {
	_, err := NewPGVectorBackend(PGVectorConfig{Collection: "kb_x", Dimensions: 4})
	assert.ErrorContains(t, err, "dsn")

	_, err = NewPGVectorBackend(PGVectorConfig{DSN: "postgres://localhost/kb", Collection: "kb_x", Dimensions: 0})
	assert.ErrorContains(t, err, "dimensions")

	_, err = NewPGVectorBackend(PGVectorConfig{DSN: "postgres://localhost/kb", Collection: "kb-x; DROP TABLE", Dimensions: 4})
	assert.ErrorContains(t, err, "collection")

	b, err := NewPGVectorBackend(PGVectorConfig{DSN: "postgres://localhost/kb", Collection: "kb_proj1", Dimensions: 4})
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestPGVectorBackendRequiresInitialize(t *testing.T) {
	b, err := NewPGVectorBackend(PGVectorConfig{DSN: "postgres://localhost/kb", Collection: "kb_proj1", Dimensions: 4})
	require.NoError(t, err)

	_, qerr := b.QueryVector(context.Background(), []float32{1, 0, 0, 0}, 1, nil)
	assert.Error(t, qerr)
	assert.False(t, b.Health(context.Background()).Healthy)
	assert.NoError(t, b.Close())
}

func TestFilterClause(t *testing.T) {
	where, args := filterClause(nil, 2)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = filterClause(map[string]string{"lang": "en"}, 2)
	assert.Equal(t, "WHERE metadata @> $2::jsonb", where)
	require.Len(t, args, 1)
	assert.JSONEq(t, `{"lang":"en"}`, string(args[0].([]byte)))
}
