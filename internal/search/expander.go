package search

import (
	"strings"
	"unicode"
)

// Expansion is the outcome of query expansion.
type Expansion struct {
	// Original is the query as received.
	Original string

	// Expanded is the query with synonym and acronym terms appended.
	Expanded string

	// AddedTerms lists the appended terms in order.
	AddedTerms []string
}

// Expander appends synonyms and acronym expansions to a query so
// keyword search bridges vocabulary gaps. Expansion is idempotent:
// terms already present are never appended again, so expanding an
// expanded query returns it unchanged.
type Expander struct {
	synonyms      map[string][]string
	acronyms      map[string]string
	maxExpansions int
}

// ExpanderOption configures an Expander.
type ExpanderOption func(*Expander)

// WithSynonyms merges custom synonym mappings over the defaults.
func WithSynonyms(synonyms map[string][]string) ExpanderOption {
	return func(e *Expander) {
		for k, v := range synonyms {
			e.synonyms[strings.ToLower(k)] = append(e.synonyms[strings.ToLower(k)], v...)
		}
	}
}

// WithAcronyms merges custom acronym mappings over the defaults.
func WithAcronyms(acronyms map[string]string) ExpanderOption {
	return func(e *Expander) {
		for k, v := range acronyms {
			e.acronyms[strings.ToLower(k)] = v
		}
	}
}

// WithMaxTermExpansions caps the synonyms appended per query term.
func WithMaxTermExpansions(n int) ExpanderOption {
	return func(e *Expander) {
		e.maxExpansions = n
	}
}

// NewExpander creates an expander with the default synonym and acronym
// tables.
func NewExpander(opts ...ExpanderOption) *Expander {
	e := &Expander{
		synonyms:      make(map[string][]string, len(defaultSynonyms)),
		acronyms:      make(map[string]string, len(defaultAcronyms)),
		maxExpansions: 3,
	}
	for k, v := range defaultSynonyms {
		e.synonyms[k] = v
	}
	for k, v := range defaultAcronyms {
		e.acronyms[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand appends expansion terms to the query. The original text is
// kept verbatim at the front so exact matches keep their weight.
func (e *Expander) Expand(query string) Expansion {
	terms := expandTokenize(query)
	if len(terms) == 0 {
		return Expansion{Original: query, Expanded: query}
	}

	seen := make(map[string]bool, len(terms)*2)
	for _, t := range terms {
		seen[strings.ToLower(t)] = true
	}

	var added []string
	appendTerm := func(t string) {
		key := strings.ToLower(t)
		if !seen[key] {
			seen[key] = true
			added = append(added, t)
		}
	}

	for _, term := range terms {
		key := strings.ToLower(term)
		if full, ok := e.acronyms[key]; ok {
			// Every word of the acronym expansion must be new; a query
			// that already spells it out gains nothing.
			for _, w := range strings.Fields(full) {
				appendTerm(w)
			}
		}
		count := 0
		for _, syn := range e.synonyms[key] {
			if count == e.maxExpansions {
				break
			}
			if !seen[strings.ToLower(syn)] {
				appendTerm(syn)
				count++
			}
		}
	}

	expanded := query
	if len(added) > 0 {
		expanded = query + " " + strings.Join(added, " ")
	}
	return Expansion{Original: query, Expanded: expanded, AddedTerms: added}
}

// expandTokenize splits a query into word terms, dropping punctuation.
func expandTokenize(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
