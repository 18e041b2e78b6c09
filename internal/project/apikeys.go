package project

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/knovalab/knova/internal/kberr"
)

// KeyParams are the inputs to CreateAPIKey.
type KeyParams struct {
	Name      string
	Scopes    []Scope
	ExpiresAt *time.Time
}

// CreateAPIKey mints a key for a project. The returned raw string is
// shown exactly once; only its hash is retained.
func (m *Manager) CreateAPIKey(ctx context.Context, projectID string, params KeyParams) (raw string, key *APIKey, err error) {
	if len(params.Scopes) == 0 {
		return "", nil, kberr.New(kberr.KindInvalidArgument, "api key needs at least one scope")
	}
	for _, s := range params.Scopes {
		if !ValidScope(s) {
			return "", nil, kberr.Newf(kberr.KindInvalidArgument, "unknown scope %q", s)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[projectID]; !ok {
		return "", nil, kberr.Newf(kberr.KindNotFound, "project %q not found", projectID)
	}

	raw, hash, err := GenerateKey()
	if err != nil {
		return "", nil, kberr.Wrap(kberr.KindInternal, "generate api key", err)
	}

	k := &APIKey{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      params.Name,
		Hash:      hash,
		Scopes:    append([]Scope(nil), params.Scopes...),
		CreatedAt: m.now().UTC(),
		ExpiresAt: params.ExpiresAt,
	}

	if m.meta != nil {
		if err := m.meta.SaveKey(ctx, k); err != nil {
			return "", nil, kberr.Wrap(kberr.KindInternal, "persist api key", err)
		}
	}

	m.keys[projectID] = append(m.keys[projectID], k)
	m.keyByHash[hash] = k
	if m.metrics != nil {
		m.metrics.APIKeysActive.WithLabelValues(projectID).Inc()
	}
	m.logger.Info("api key created",
		slog.String("project_id", projectID),
		slog.String("key_id", k.ID))
	return raw, k.clone(), nil
}

// ListAPIKeys returns copies of a project's keys, revoked included.
// Raw keys are never recoverable from the listing.
func (m *Manager) ListAPIKeys(projectID string) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.projects[projectID]; !ok {
		return nil, kberr.Newf(kberr.KindNotFound, "project %q not found", projectID)
	}

	keys := make([]*APIKey, 0, len(m.keys[projectID]))
	for _, k := range m.keys[projectID] {
		keys = append(keys, k.clone())
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
	return keys, nil
}

// RevokeAPIKey marks a key revoked. The record stays for auditing but
// the key fails validation from then on.
func (m *Manager) RevokeAPIKey(ctx context.Context, projectID, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var key *APIKey
	for _, k := range m.keys[projectID] {
		if k.ID == keyID {
			key = k
			break
		}
	}
	if key == nil {
		return kberr.Newf(kberr.KindNotFound, "api key %q not found", keyID)
	}
	if key.Revoked {
		return nil
	}

	now := m.now().UTC()
	key.Revoked = true
	key.RevokedAt = &now

	if m.meta != nil {
		if err := m.meta.SaveKey(ctx, key); err != nil {
			return kberr.Wrap(kberr.KindInternal, "persist api key", err)
		}
	}
	if m.metrics != nil {
		m.metrics.APIKeysActive.WithLabelValues(projectID).Dec()
	}
	m.logger.Info("api key revoked",
		slog.String("project_id", projectID),
		slog.String("key_id", keyID))
	return nil
}

// ValidateAPIKey authenticates a raw key and checks that it grants the
// required scope. On success it returns the owning project and key ids
// and records last-use without blocking the caller.
func (m *Manager) ValidateAPIKey(ctx context.Context, raw string, required Scope) (projectID, keyID string, err error) {
	if !WellFormedKey(raw) {
		m.countValidation("", "malformed")
		return "", "", kberr.New(kberr.KindUnauthorized, "invalid api key")
	}
	hash := HashKey(raw)

	now := m.now().UTC()

	m.mu.Lock()
	key, ok := m.keyByHash[hash]
	if ok && !hashEqual(key.Hash, hash) {
		ok = false
	}
	if !ok {
		m.mu.Unlock()
		m.countValidation("", "unknown")
		return "", "", kberr.New(kberr.KindUnauthorized, "invalid api key")
	}

	owner := key.ProjectID
	switch {
	case key.Revoked:
		m.mu.Unlock()
		m.countValidation(owner, "revoked")
		return "", "", kberr.New(kberr.KindUnauthorized, "api key revoked")
	case key.Expired(now):
		m.mu.Unlock()
		m.countValidation(owner, "expired")
		return "", "", kberr.New(kberr.KindUnauthorized, "api key expired")
	case !Satisfies(key.Scopes, required):
		m.mu.Unlock()
		m.countValidation(owner, "insufficient_scope")
		return "", "", kberr.Newf(kberr.KindUnauthorized, "api key lacks %q scope", required)
	}

	key.LastUsedAt = &now
	id := key.ID
	m.mu.Unlock()

	// Best-effort persistence of last-use; never blocks validation.
	if m.meta != nil {
		go func() {
			touchCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := m.meta.TouchKey(touchCtx, id, now); err != nil {
				m.logger.Warn("touch api key",
					slog.String("key_id", id),
					slog.String("error", err.Error()))
			}
		}()
	}

	m.countValidation(owner, "ok")
	return owner, id, nil
}

func (m *Manager) countValidation(projectID, result string) {
	if m.metrics == nil {
		return
	}
	if projectID == "" {
		projectID = "unknown"
	}
	m.metrics.APIKeyValidations.WithLabelValues(projectID, result).Inc()
}
