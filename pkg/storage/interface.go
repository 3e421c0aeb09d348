package storage

import (
	"context"

	"github.com/google/uuid"
)

// DynamicUpdate is a partial update of a dynamic code. Nil fields are left
// untouched.
type DynamicUpdate struct {
	Destination *string
	DisplayName *string
	IsActive    *bool
}

type CodeStorage interface {
	Create(ctx context.Context, code *Code) error
	// CreateWithBlob inserts a blob and its owning file-variant code in one
	// transaction.
	CreateWithBlob(ctx context.Context, code *Code, blob *Blob) error
	GetByToken(ctx context.Context, token string) (*Code, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Code, error)
	List(ctx context.Context, search string, limit int) ([]*Code, error)
	// UpdateDynamic applies a partial update as a single atomic statement and
	// returns the updated row, or nil when no dynamic code matches the id.
	UpdateDynamic(ctx context.Context, id uuid.UUID, upd DynamicUpdate) (*Code, error)
}

// ScanFilter is a conjunctive exact-match predicate over scan facets. Nil
// fields impose no constraint. The value "Unknown" matches rows whose facet
// is NULL.
type ScanFilter struct {
	Country    *string
	City       *string
	DeviceType *string
	Browser    *string
}

type ScanStorage interface {
	Insert(ctx context.Context, event *ScanEvent) error
	// ListByCode returns matching events newest first.
	ListByCode(ctx context.Context, codeID uuid.UUID, filter ScanFilter) ([]*ScanEvent, error)
}

type BlobStorage interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Blob, error)
}
