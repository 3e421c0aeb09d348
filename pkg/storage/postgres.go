package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresCodeStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresCodeStorage(pool *pgxpool.Pool) *PostgresCodeStorage {
	return &PostgresCodeStorage{pool: pool}
}

const codeColumns = `id, public_token, variant, destination, blob_id, display_name, is_active, created_at, updated_at`

func (s *PostgresCodeStorage) Create(ctx context.Context, code *Code) error {
	query := `INSERT INTO codes (id, public_token, variant, destination, blob_id, display_name, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query, code.ID, code.PublicToken, code.Variant, code.Destination, code.BlobID, code.DisplayName, code.IsActive)
	return err
}

func (s *PostgresCodeStorage) CreateWithBlob(ctx context.Context, code *Code, blob *Blob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Rollback if not committed

	blobQuery := `INSERT INTO blobs (id, data, original_filename, content_type, size) VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, blobQuery, blob.ID, blob.Data, blob.OriginalFilename, blob.ContentType, blob.Size); err != nil {
		return err
	}

	codeQuery := `INSERT INTO codes (id, public_token, variant, destination, blob_id, display_name, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, codeQuery, code.ID, code.PublicToken, code.Variant, code.Destination, code.BlobID, code.DisplayName, code.IsActive); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresCodeStorage) GetByToken(ctx context.Context, token string) (*Code, error) {
	query := `SELECT ` + codeColumns + ` FROM codes WHERE public_token = $1`
	return s.scanCode(s.pool.QueryRow(ctx, query, token))
}

func (s *PostgresCodeStorage) GetByID(ctx context.Context, id uuid.UUID) (*Code, error) {
	query := `SELECT ` + codeColumns + ` FROM codes WHERE id = $1`
	return s.scanCode(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresCodeStorage) List(ctx context.Context, search string, limit int) ([]*Code, error) {
	var rows pgx.Rows
	var err error
	if search != "" {
		query := `SELECT ` + codeColumns + ` FROM codes
			WHERE display_name ILIKE '%' || $1 || '%' OR destination ILIKE '%' || $1 || '%'
			ORDER BY created_at DESC LIMIT $2`
		rows, err = s.pool.Query(ctx, query, search, limit)
	} else {
		query := `SELECT ` + codeColumns + ` FROM codes ORDER BY created_at DESC LIMIT $1`
		rows, err = s.pool.Query(ctx, query, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*Code
	for rows.Next() {
		var code Code
		if err := rows.Scan(&code.ID, &code.PublicToken, &code.Variant, &code.Destination, &code.BlobID, &code.DisplayName, &code.IsActive, &code.CreatedAt, &code.UpdatedAt); err != nil {
			return nil, err
		}
		codes = append(codes, &code)
	}
	return codes, rows.Err()
}

// UpdateDynamic is a single-statement partial update: concurrent readers see
// either the pre- or post-update row, never a mix. The variant guard keeps
// non-dynamic rows immutable at the storage layer too.
func (s *PostgresCodeStorage) UpdateDynamic(ctx context.Context, id uuid.UUID, upd DynamicUpdate) (*Code, error) {
	query := `UPDATE codes SET
			destination = COALESCE($2, destination),
			display_name = COALESCE($3, display_name),
			is_active = COALESCE($4, is_active),
			updated_at = now()
		WHERE id = $1 AND variant = 'dynamic'
		RETURNING ` + codeColumns
	return s.scanCode(s.pool.QueryRow(ctx, query, id, upd.Destination, upd.DisplayName, upd.IsActive))
}

func (s *PostgresCodeStorage) scanCode(row pgx.Row) (*Code, error) {
	var code Code
	err := row.Scan(&code.ID, &code.PublicToken, &code.Variant, &code.Destination, &code.BlobID, &code.DisplayName, &code.IsActive, &code.CreatedAt, &code.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &code, nil
}

type PostgresScanStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresScanStorage(pool *pgxpool.Pool) *PostgresScanStorage {
	return &PostgresScanStorage{pool: pool}
}

func (s *PostgresScanStorage) Insert(ctx context.Context, event *ScanEvent) error {
	query := `INSERT INTO scan_events (code_id, scanned_at, country, city, device_type, browser, os, referrer, client_fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query, event.CodeID, event.ScannedAt, event.Country, event.City, event.DeviceType, event.Browser, event.OS, event.Referrer, event.ClientFingerprint)
	return err
}

func (s *PostgresScanStorage) ListByCode(ctx context.Context, codeID uuid.UUID, filter ScanFilter) ([]*ScanEvent, error) {
	conds := []string{"code_id = $1"}
	args := []any{codeID}

	addNullable := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		n := len(args)
		// "Unknown" is the reported stand-in for NULL enrichment fields.
		conds = append(conds, fmt.Sprintf("(%s = $%d OR (%s IS NULL AND $%d = 'Unknown'))", column, n, column, n))
	}

	addNullable("country", filter.Country)
	addNullable("city", filter.City)
	addNullable("browser", filter.Browser)
	if filter.DeviceType != nil {
		args = append(args, *filter.DeviceType)
		conds = append(conds, fmt.Sprintf("device_type = $%d", len(args)))
	}

	query := `SELECT id, code_id, scanned_at, country, city, device_type, browser, os, referrer, client_fingerprint
		FROM scan_events WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY scanned_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ScanEvent
	for rows.Next() {
		var e ScanEvent
		if err := rows.Scan(&e.ID, &e.CodeID, &e.ScannedAt, &e.Country, &e.City, &e.DeviceType, &e.Browser, &e.OS, &e.Referrer, &e.ClientFingerprint); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

type PostgresBlobStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresBlobStorage(pool *pgxpool.Pool) *PostgresBlobStorage {
	return &PostgresBlobStorage{pool: pool}
}

func (s *PostgresBlobStorage) GetByID(ctx context.Context, id uuid.UUID) (*Blob, error) {
	query := `SELECT id, data, original_filename, content_type, size, created_at FROM blobs WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	var blob Blob
	err := row.Scan(&blob.ID, &blob.Data, &blob.OriginalFilename, &blob.ContentType, &blob.Size, &blob.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &blob, nil
}
