package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyapp/backend/pkg/models"
)

// PostgresWorkflowStore is a PostgreSQL implementation of WorkflowStore.
// The whole record is stored as one JSONB document; topic, status and
// timestamps are mirrored into columns for listing without unpacking.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

// EnsureSchema creates the workflows table if it does not exist.
func (s *PostgresWorkflowStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS workflows (
		id UUID PRIMARY KEY,
		topic TEXT NOT NULL,
		status TEXT NOT NULL,
		doc JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("ensure workflows schema: %w", err)
	}
	return nil
}

// Insert stores a new record, assigning an id if the record has none.
func (s *PostgresWorkflowStore) Insert(ctx context.Context, record *models.WorkflowRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", record.ID, err)
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO workflows (id, topic, status, doc, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)",
		record.ID, record.Topic, string(record.Status), doc, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow %s: %w", record.ID, err)
	}
	return nil
}

// Replace overwrites the stored document for record.ID.
func (s *PostgresWorkflowStore) Replace(ctx context.Context, record *models.WorkflowRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", record.ID, err)
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE workflows SET topic = $1, status = $2, doc = $3, updated_at = $4 WHERE id = $5",
		record.Topic, string(record.Status), doc, record.UpdatedAt, record.ID)
	if err != nil {
		return fmt.Errorf("replace workflow %s: %w", record.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a record by id.
func (s *PostgresWorkflowStore) Get(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, "SELECT doc FROM workflows WHERE id = $1", id).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	var record models.WorkflowRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %w", id, err)
	}
	return &record, nil
}

// List returns records ordered by creation time descending.
func (s *PostgresWorkflowStore) List(ctx context.Context, limit, offset int) ([]*models.WorkflowRecord, error) {
	rows, err := s.db.Query(ctx,
		"SELECT doc FROM workflows ORDER BY created_at DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var records []*models.WorkflowRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var record models.WorkflowRecord
		if err := json.Unmarshal(doc, &record); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Count reports the total number of stored records.
func (s *PostgresWorkflowStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM workflows").Scan(&n); err != nil {
		return 0, fmt.Errorf("count workflows: %w", err)
	}
	return n, nil
}

// Ping verifies the database is reachable.
func (s *PostgresWorkflowStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
