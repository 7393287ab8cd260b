package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
)

// PromptRecord is one versioned prompt, identity (slug, version).
type PromptRecord struct {
	Slug        string
	Version     int
	Content     string
	Role        string
	Description string
	Metadata    map[string]any
}

var ErrPromptNotFound = errors.New("pgstore: prompt not found")

// SavePrompt inserts the next version for slug (max(existing)+1).
func (s *Store) SavePrompt(ctx context.Context, slug, content, role, description string, metadata map[string]any) (int, error) {
	row := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM prompts WHERE slug = $1`, slug)
	var maxVersion int
	if err := row.Scan(&maxVersion); err != nil {
		return 0, err
	}
	next := maxVersion + 1

	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return 0, err
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO prompts (slug, version, content, role, description, metadata)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		slug, next, content, role, description, metaJSON)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// GetPrompt retrieves the exact version, or the highest when version is nil.
func (s *Store) GetPrompt(ctx context.Context, slug string, version *int) (PromptRecord, error) {
	var row pgx.Row
	if version != nil {
		row = s.db.QueryRow(ctx, `
			SELECT slug, version, content, role, description, metadata
			FROM prompts WHERE slug = $1 AND version = $2`, slug, *version)
	} else {
		row = s.db.QueryRow(ctx, `
			SELECT slug, version, content, role, description, metadata
			FROM prompts WHERE slug = $1 ORDER BY version DESC LIMIT 1`, slug)
	}

	var rec PromptRecord
	var metaJSON []byte
	if err := row.Scan(&rec.Slug, &rec.Version, &rec.Content, &rec.Role, &rec.Description, &metaJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PromptRecord{}, ErrPromptNotFound
		}
		return PromptRecord{}, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
			return PromptRecord{}, err
		}
	}
	return rec, nil
}
