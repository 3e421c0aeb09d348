package storage

import (
	"time"

	"github.com/google/uuid"
)

type CodeVariant string

const (
	VariantStaticURL CodeVariant = "static_url"
	VariantFile      CodeVariant = "file"
	VariantDynamic   CodeVariant = "dynamic"
)

// Code is a minted scannable code. PublicToken is the only identifier that
// leaves the system; it is immutable once issued. Non-dynamic variants keep
// Destination and IsActive fixed at creation.
type Code struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	PublicToken string      `json:"public_token" db:"public_token"`
	Variant     CodeVariant `json:"variant" db:"variant"`
	Destination string      `json:"destination" db:"destination"`
	BlobID      *uuid.UUID  `json:"blob_id,omitempty" db:"blob_id"`
	DisplayName *string     `json:"display_name,omitempty" db:"display_name"`
	IsActive    bool        `json:"is_active" db:"is_active"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Blob holds uploaded file bytes. Owned 1:1 by the file-variant code that
// created it; read-only after upload.
type Blob struct {
	ID               uuid.UUID `json:"id" db:"id"`
	Data             []byte    `json:"-" db:"data"`
	OriginalFilename string    `json:"original_filename" db:"original_filename"`
	ContentType      string    `json:"content_type" db:"content_type"`
	Size             int64     `json:"size" db:"size"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// ScanEvent is one recorded resolution of a code. Append-only; enrichment
// fields are nil when lookup or parsing degraded. ClientFingerprint is a
// derived hash, never the raw IP.
type ScanEvent struct {
	ID                int64     `json:"id" db:"id"`
	CodeID            uuid.UUID `json:"code_id" db:"code_id"`
	ScannedAt         time.Time `json:"scanned_at" db:"scanned_at"`
	Country           *string   `json:"country,omitempty" db:"country"`
	City              *string   `json:"city,omitempty" db:"city"`
	DeviceType        string    `json:"device_type" db:"device_type"`
	Browser           *string   `json:"browser,omitempty" db:"browser"`
	OS                *string   `json:"os,omitempty" db:"os"`
	Referrer          *string   `json:"referrer,omitempty" db:"referrer"`
	ClientFingerprint string    `json:"-" db:"client_fingerprint"`
}
