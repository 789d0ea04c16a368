package repository

import (
	"context"
	"errors"

	"storyapp/backend/pkg/models"
)

// ErrNotFound is returned when no workflow exists for the given id.
var ErrNotFound = errors.New("workflow not found")

// WorkflowStore persists workflow records as full documents. Replace has
// overwrite semantics; there is no partial-field merge at this layer.
type WorkflowStore interface {
	// Insert stores a new record, assigning an id if the record has none.
	Insert(ctx context.Context, record *models.WorkflowRecord) error
	// Replace overwrites the stored document for record.ID.
	Replace(ctx context.Context, record *models.WorkflowRecord) error
	// Get retrieves a record by id.
	Get(ctx context.Context, id string) (*models.WorkflowRecord, error)
	// List returns records ordered by creation time descending.
	List(ctx context.Context, limit, offset int) ([]*models.WorkflowRecord, error)
	// Count reports the total number of stored records.
	Count(ctx context.Context) (int, error)
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
