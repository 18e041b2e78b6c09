package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MetaStore persists project metadata and API key records in an
// embedded SQLite database. Raw keys are never written, only hashes.
type MetaStore struct {
	db *sql.DB
}

// OpenMetaStore opens (and migrates) the metadata database at path.
func OpenMetaStore(path string) (*MetaStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create metadata directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock errors.
	db.SetMaxOpenConns(1)

	s := &MetaStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MetaStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	embedding_model TEXT NOT NULL,
	collection_name TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	hash TEXT NOT NULL UNIQUE,
	scopes TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT,
	last_used_at TEXT,
	revoked INTEGER NOT NULL DEFAULT 0,
	revoked_at TEXT
);

CREATE INDEX IF NOT EXISTS api_keys_project_idx ON api_keys (project_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate metadata schema: %w", err)
	}
	return nil
}

// SaveProject upserts a project row.
func (s *MetaStore) SaveProject(ctx context.Context, p *Project) error {
	meta, err := json.Marshal(orEmpty(p.Metadata))
	if err != nil {
		return fmt.Errorf("marshal project metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO projects (id, name, description, embedding_model, collection_name, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	description = excluded.description,
	embedding_model = excluded.embedding_model,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Description, p.EmbeddingModel, p.CollectionName,
		string(meta), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

// DeleteProject removes a project row and, via cascade, its keys.
func (s *MetaStore) DeleteProject(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("delete project keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

// ListProjects returns all persisted projects.
func (s *MetaStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, description, embedding_model, collection_name, metadata, created_at, updated_at
FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var (
			p                    Project
			meta                 string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.EmbeddingModel,
			&p.CollectionName, &meta, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", p.ID, err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// SaveKey upserts an API key record.
func (s *MetaStore) SaveKey(ctx context.Context, k *APIKey) error {
	scopes, err := json.Marshal(k.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO api_keys (id, project_id, name, hash, scopes, created_at, expires_at, last_used_at, revoked, revoked_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	scopes = excluded.scopes,
	expires_at = excluded.expires_at,
	last_used_at = excluded.last_used_at,
	revoked = excluded.revoked,
	revoked_at = excluded.revoked_at`,
		k.ID, k.ProjectID, k.Name, k.Hash, string(scopes),
		formatTime(k.CreatedAt), formatTimePtr(k.ExpiresAt),
		formatTimePtr(k.LastUsedAt), boolToInt(k.Revoked), formatTimePtr(k.RevokedAt))
	if err != nil {
		return fmt.Errorf("save api key %s: %w", k.ID, err)
	}
	return nil
}

// TouchKey updates a key's last_used_at.
func (s *MetaStore) TouchKey(ctx context.Context, keyID string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, formatTime(usedAt), keyID)
	if err != nil {
		return fmt.Errorf("touch api key %s: %w", keyID, err)
	}
	return nil
}

// ListKeys returns all persisted keys for a project, revoked included.
func (s *MetaStore) ListKeys(ctx context.Context, projectID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, project_id, name, hash, scopes, created_at, expires_at, last_used_at, revoked, revoked_at
FROM api_keys WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		var (
			k                                APIKey
			scopes, createdAt                string
			expiresAt, lastUsedAt, revokedAt sql.NullString
			revoked                          int
		)
		if err := rows.Scan(&k.ID, &k.ProjectID, &k.Name, &k.Hash, &scopes,
			&createdAt, &expiresAt, &lastUsedAt, &revoked, &revokedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		if err := json.Unmarshal([]byte(scopes), &k.Scopes); err != nil {
			return nil, fmt.Errorf("decode scopes for %s: %w", k.ID, err)
		}
		if k.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if k.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
			return nil, err
		}
		if k.LastUsedAt, err = parseTimePtr(lastUsedAt); err != nil {
			return nil, err
		}
		if k.RevokedAt, err = parseTimePtr(revokedAt); err != nil {
			return nil, err
		}
		k.Revoked = revoked != 0
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// Close releases the database handle.
func (s *MetaStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
