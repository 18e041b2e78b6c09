package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpanderAcronyms(t *testing.T) {
	e := NewExpander()

	exp := e.Expand("ml pipeline")
	assert.Equal(t, "ml pipeline", exp.Original)
	assert.Contains(t, exp.AddedTerms, "machine")
	assert.Contains(t, exp.AddedTerms, "learning")
	assert.True(t, strings.HasPrefix(exp.Expanded, "ml pipeline "), "original query stays at the front")
}

func TestExpanderSynonyms(t *testing.T) {
	e := NewExpander()

	exp := e.Expand("search documents")
	assert.Contains(t, exp.AddedTerms, "find")
	assert.Contains(t, exp.AddedTerms, "lookup")
	assert.Contains(t, exp.AddedTerms, "retrieve")
}

func TestExpanderIdempotent(t *testing.T) {
	e := NewExpander()

	queries := []string{
		"ml pipeline",
		"search the api docs",
		"rag with llm context",
		"delete config entries fast",
	}
	for _, q := range queries {
		first := e.Expand(q)
		second := e.Expand(first.Expanded)
		assert.Equal(t, first.Expanded, second.Expanded, "query %q", q)
		assert.Empty(t, second.AddedTerms, "query %q", q)
	}
}

func TestExpanderAlreadySpelledOut(t *testing.T) {
	e := NewExpander()

	exp := e.Expand("machine learning ml")
	// The acronym expansion words are already present.
	assert.NotContains(t, exp.AddedTerms, "machine")
	assert.NotContains(t, exp.AddedTerms, "learning")
}

func TestExpanderNoMatches(t *testing.T) {
	e := NewExpander()

	exp := e.Expand("zebra xylophone")
	assert.Equal(t, "zebra xylophone", exp.Expanded)
	assert.Empty(t, exp.AddedTerms)
}

func TestExpanderEmptyQuery(t *testing.T) {
	e := NewExpander()

	exp := e.Expand("   ")
	assert.Equal(t, "   ", exp.Expanded)
	assert.Empty(t, exp.AddedTerms)
}

func TestExpanderMaxExpansions(t *testing.T) {
	e := NewExpander(WithMaxTermExpansions(1))

	exp := e.Expand("search")
	require.Len(t, exp.AddedTerms, 1)
	assert.Equal(t, "find", exp.AddedTerms[0])
}

func TestExpanderCustomTables(t *testing.T) {
	e := NewExpander(
		WithSynonyms(map[string][]string{"librosa": {"audio"}}),
		WithAcronyms(map[string]string{"stft": "short time fourier transform"}),
	)

	exp := e.Expand("librosa stft")
	assert.Contains(t, exp.AddedTerms, "audio")
	assert.Contains(t, exp.AddedTerms, "fourier")
}

func TestExpanderCaseInsensitive(t *testing.T) {
	e := NewExpander()

	exp := e.Expand("ML Pipeline")
	assert.Contains(t, exp.AddedTerms, "machine")
}

func TestExpanderDefaultAcronymCoverage(t *testing.T) {
	assert.GreaterOrEqual(t, len(defaultAcronyms), 50)
}
