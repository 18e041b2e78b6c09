// Package project implements the process-wide project registry:
// project CRUD, per-project backends and caches, the API key
// subsystem, and the background heartbeat.
package project

import (
	"strings"
	"time"
)

// Project is one tenant knowledge base.
type Project struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	EmbeddingModel string            `json:"embedding_model"`
	CollectionName string            `json:"collection_name"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// clone returns a copy safe to hand to callers.
func (p *Project) clone() *Project {
	out := *p
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// collectionName derives the backend collection for a project id.
// Collections of distinct projects are disjoint by construction.
func collectionName(projectID string) string {
	return "kb_" + strings.ToLower(strings.ReplaceAll(projectID, "-", ""))
}
