// Package store persists paired records in PostgreSQL.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/se-harvest/pkg/export"
	"github.com/Sternrassler/se-harvest/pkg/pairing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the qa_pairs table. Rows are keyed by site and question so
// a later run refreshes earlier rows instead of duplicating them.
const Schema = `
CREATE TABLE IF NOT EXISTS qa_pairs (
	site          TEXT        NOT NULL,
	question_id   BIGINT      NOT NULL,
	answer_id     BIGINT      NOT NULL,
	title         TEXT        NOT NULL,
	question_body TEXT        NOT NULL,
	answer_body   TEXT        NOT NULL,
	prompt        TEXT        NOT NULL,
	response      TEXT        NOT NULL,
	score         INTEGER     NOT NULL DEFAULT 0,
	tags          TEXT[]      NOT NULL DEFAULT '{}',
	run_id        UUID        NOT NULL,
	stored_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (site, question_id)
)`

const upsertPair = `
INSERT INTO qa_pairs (site, question_id, answer_id, title, question_body, answer_body,
	prompt, response, score, tags, run_id, stored_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (site, question_id) DO UPDATE SET
	answer_id = EXCLUDED.answer_id,
	title = EXCLUDED.title,
	question_body = EXCLUDED.question_body,
	answer_body = EXCLUDED.answer_body,
	prompt = EXCLUDED.prompt,
	response = EXCLUDED.response,
	score = EXCLUDED.score,
	tags = EXCLUDED.tags,
	run_id = EXCLUDED.run_id,
	stored_at = EXCLUDED.stored_at`

// StoredPair is a row of qa_pairs.
type StoredPair struct {
	Site       string
	QuestionID int64
	AnswerID   int64
	Prompt     string
	Response   string
	RunID      uuid.UUID
	StoredAt   time.Time
}

// PairStore writes paired records to PostgreSQL.
type PairStore struct {
	db *pgxpool.Pool
}

// NewPairStore connects to the database at connStr.
func NewPairStore(ctx context.Context, connStr string) (*PairStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PairStore{db: db}, nil
}

// NewPairStoreFromPool wraps an existing pool.
func NewPairStoreFromPool(db *pgxpool.Pool) *PairStore {
	return &PairStore{db: db}
}

// Ping checks the connection.
func (s *PairStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *PairStore) Close() {
	s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *PairStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save upserts all records of one run in a single transaction.
func (s *PairStore) Save(ctx context.Context, runID uuid.UUID, site string, records []pairing.Record, opts export.Options) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, rec := range records {
		line := export.ToJSONL(rec, opts)
		tags := rec.Question.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(upsertPair,
			site,
			rec.Question.QuestionID,
			rec.Answer.AnswerID,
			rec.Question.Title,
			rec.Question.Body,
			rec.Answer.Body,
			line.Prompt,
			line.Response,
			rec.Question.Score,
			tags,
			runID,
			now,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert pairs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns the stored pairs of site ordered by question id.
func (s *PairStore) List(ctx context.Context, site string) ([]StoredPair, error) {
	rows, err := s.db.Query(ctx,
		`SELECT site, question_id, answer_id, prompt, response, run_id, stored_at
		 FROM qa_pairs WHERE site = $1 ORDER BY question_id`, site)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	var out []StoredPair
	for rows.Next() {
		var p StoredPair
		if err := rows.Scan(&p.Site, &p.QuestionID, &p.AnswerID, &p.Prompt, &p.Response, &p.RunID, &p.StoredAt); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
