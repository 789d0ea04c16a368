package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"storyapp/backend/pkg/models"
)

// MemoryWorkflowStore is an in-memory WorkflowStore used for development
// and tests when no database is configured. Records are deep-copied on
// the way in and out so callers never share state with the store.
type MemoryWorkflowStore struct {
	mu      sync.RWMutex
	records map[string]*models.WorkflowRecord
}

// NewMemoryWorkflowStore creates an empty in-memory store.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{records: make(map[string]*models.WorkflowRecord)}
}

func copyRecord(record *models.WorkflowRecord) (*models.WorkflowRecord, error) {
	doc, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("copy workflow %s: %w", record.ID, err)
	}
	var cp models.WorkflowRecord
	if err := json.Unmarshal(doc, &cp); err != nil {
		return nil, fmt.Errorf("copy workflow %s: %w", record.ID, err)
	}
	return &cp, nil
}

// Insert stores a new record, assigning an id if the record has none.
func (s *MemoryWorkflowStore) Insert(_ context.Context, record *models.WorkflowRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	cp, err := copyRecord(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[cp.ID] = cp
	return nil
}

// Replace overwrites the stored document for record.ID.
func (s *MemoryWorkflowStore) Replace(_ context.Context, record *models.WorkflowRecord) error {
	cp, err := copyRecord(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[cp.ID]; !ok {
		return ErrNotFound
	}
	s.records[cp.ID] = cp
	return nil
}

// Get retrieves a record by id.
func (s *MemoryWorkflowStore) Get(_ context.Context, id string) (*models.WorkflowRecord, error) {
	s.mu.RLock()
	record, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(record)
}

// List returns records ordered by creation time descending.
func (s *MemoryWorkflowStore) List(_ context.Context, limit, offset int) ([]*models.WorkflowRecord, error) {
	s.mu.RLock()
	all := make([]*models.WorkflowRecord, 0, len(s.records))
	for _, record := range s.records {
		all = append(all, record)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]*models.WorkflowRecord, 0, len(all))
	for _, record := range all {
		cp, err := copyRecord(record)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Count reports the total number of stored records.
func (s *MemoryWorkflowStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryWorkflowStore) Ping(_ context.Context) error {
	return nil
}
