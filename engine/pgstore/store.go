// Package pgstore is the relational store backing topics, source runs,
// bricks (pre-unification) and prompts. The knowledge graph proper (nodes,
// edges, lifecycle) lives in engine/graph's Neo4j store instead — see
// DESIGN.md for the split rationale.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexuscore/nexus/engine/domain"
)

// conn is the minimal pgx surface the store needs, so unit tests can supply
// a fake instead of a live pool.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// pgconnCommandTag mirrors pgconn.CommandTag's RowsAffected without importing
// pgconn directly, keeping the conn interface trivially fakeable in tests.
type pgconnCommandTag interface {
	RowsAffected() int64
}

// poolAdapter adapts *pgxpool.Pool to conn.
type poolAdapter struct{ pool *pgxpool.Pool }

func (p poolAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	return tag, err
}
func (p poolAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}
func (p poolAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

// Store is the Postgres-backed relational layer.
type Store struct {
	db conn
}

// New opens a pool against dsn and wraps it as a Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	return &Store{db: poolAdapter{pool}}, nil
}

// Close releases the underlying pool, if this Store owns one.
func (s *Store) Close() {
	if a, ok := s.db.(poolAdapter); ok {
		a.pool.Close()
	}
}

// --- Conversations ---

// SaveConversation persists the raw, immutable conversation dump, doing
// nothing if the id already exists — a Conversation is created once on
// ingest and never mutated afterward.
func (s *Store) SaveConversation(ctx context.Context, c domain.Conversation) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO conversations (id, title, raw_json)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Title, raw)
	return err
}

// GetConversation retrieves a persisted conversation dump by id.
func (s *Store) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	row := s.db.QueryRow(ctx, `SELECT raw_json FROM conversations WHERE id = $1`, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, domain.ErrConversationNotFound
		}
		return domain.Conversation{}, err
	}
	var c domain.Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.Conversation{}, err
	}
	return c, nil
}

// --- Topics ---

// CreateTopic inserts a topic, doing nothing if the id already exists.
func (s *Store) CreateTopic(ctx context.Context, t domain.Topic) error {
	defJSON, err := json.Marshal(t.Definition)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO topics (id, display_name, definition_json, ordering_rule, state)
		VALUES ($1, $2, $3, $4, 'ACTIVE')
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.DisplayName, defJSON, t.OrderingRule)
	return err
}

// GetTopic retrieves one topic by id.
func (s *Store) GetTopic(ctx context.Context, id string) (domain.Topic, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, display_name, definition_json, ordering_rule, state
		FROM topics WHERE id = $1`, id)
	return scanTopic(row)
}

// ListTopics returns every topic, used to bootstrap a default one when empty
// and to drive the per-run "compile against all active topics" loop.
func (s *Store) ListTopics(ctx context.Context) ([]domain.Topic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, display_name, definition_json, ordering_rule, state FROM topics`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []domain.Topic
	for rows.Next() {
		t, err := scanTopicRows(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (domain.Topic, error) {
	var t domain.Topic
	var defJSON []byte
	if err := row.Scan(&t.ID, &t.DisplayName, &defJSON, &t.OrderingRule, &t.State); err != nil {
		return domain.Topic{}, err
	}
	if err := json.Unmarshal(defJSON, &t.Definition); err != nil {
		return domain.Topic{}, err
	}
	return t, nil
}

func scanTopicRows(rows pgx.Rows) (domain.Topic, error) {
	return scanTopic(rows)
}

// --- Source Runs ---

// RegisterRun inserts a Source Run, doing nothing if it already exists —
// DFS re-splitting the same conversation always re-derives the same run id.
func (s *Store) RegisterRun(ctx context.Context, run domain.SourceRun) error {
	raw, err := json.Marshal(run.RawContent)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO source_runs (id, raw_content, status, last_processed_index)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		run.ID, raw, run.Status, run.LastProcessedIndex)
	return err
}

// GetRun retrieves a Source Run by id.
func (s *Store) GetRun(ctx context.Context, id string) (domain.SourceRun, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, raw_content, status, last_processed_index
		FROM source_runs WHERE id = $1`, id)

	var run domain.SourceRun
	var raw []byte
	if err := row.Scan(&run.ID, &raw, &run.Status, &run.LastProcessedIndex); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SourceRun{}, domain.ErrRunNotFound
		}
		return domain.SourceRun{}, err
	}
	if err := json.Unmarshal(raw, &run.RawContent); err != nil {
		return domain.SourceRun{}, err
	}
	return run, nil
}

// AdvanceBoundary atomically sets last_processed_index, but only forward —
// the monotonic boundary invariant is enforced here, not trusted to callers.
func (s *Store) AdvanceBoundary(ctx context.Context, runID string, newIndex int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE source_runs SET last_processed_index = $2
		WHERE id = $1 AND last_processed_index < $2`,
		runID, newIndex)
	return err
}

// --- Bricks ---

// SaveBrick upserts a materialized Brick, keyed by id (natural dedup on
// (topic_id, fingerprint) — see Brick.ID construction in engine/compiler).
func (s *Store) SaveBrick(ctx context.Context, b domain.Brick) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO bricks (id, topic_id, content, fingerprint, state, run_id, json_path, start_index, end_index, source_checksum)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content, state = EXCLUDED.state`,
		b.ID, b.TopicID, b.Content, b.Fingerprint, b.State,
		b.SourceAddress.RunID, b.SourceAddress.JSONPath,
		b.SourceAddress.StartIndex, b.SourceAddress.EndIndex, b.SourceAddress.Checksum)
	return err
}

// FingerprintsForTopic returns every fingerprint already materialized for a
// topic, used by the compiler to short-circuit duplicate pointer proposals.
func (s *Store) FingerprintsForTopic(ctx context.Context, topicID string) (map[string]bool, error) {
	rows, err := s.db.Query(ctx, `SELECT fingerprint FROM bricks WHERE topic_id = $1`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		out[fp] = true
	}
	return out, rows.Err()
}

// BricksForTopic returns every brick materialized under a topic, ordered by
// insertion, used by the unification migration and the cognition assembler's
// source expansion step.
func (s *Store) BricksForTopic(ctx context.Context, topicID string) ([]domain.Brick, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, topic_id, content, fingerprint, state, run_id, json_path, start_index, end_index, source_checksum
		FROM bricks WHERE topic_id = $1 ORDER BY created_at ASC`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Brick
	for rows.Next() {
		var b domain.Brick
		if err := rows.Scan(&b.ID, &b.TopicID, &b.Content, &b.Fingerprint, &b.State,
			&b.SourceAddress.RunID, &b.SourceAddress.JSONPath,
			&b.SourceAddress.StartIndex, &b.SourceAddress.EndIndex, &b.SourceAddress.Checksum); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBrick fetches one brick by id.
func (s *Store) GetBrick(ctx context.Context, id string) (domain.Brick, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, topic_id, content, fingerprint, state, run_id, json_path, start_index, end_index, source_checksum
		FROM bricks WHERE id = $1`, id)
	var b domain.Brick
	if err := row.Scan(&b.ID, &b.TopicID, &b.Content, &b.Fingerprint, &b.State,
		&b.SourceAddress.RunID, &b.SourceAddress.JSONPath,
		&b.SourceAddress.StartIndex, &b.SourceAddress.EndIndex, &b.SourceAddress.Checksum); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Brick{}, domain.ErrNodeNotFound
		}
		return domain.Brick{}, err
	}
	return b, nil
}
