package service

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"qrlink/pkg/cache"
	"qrlink/pkg/logging"
	"qrlink/pkg/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	cacheTTL    = 24 * time.Hour
	negativeTTL = 5 * time.Minute
	listLimit   = 20
)

type CodeService struct {
	codes  storage.CodeStorage
	blobs  storage.BlobStorage
	cache  cache.CodeCacheInterface
	logger *logging.Logger
}

func NewCodeService(codes storage.CodeStorage, blobs storage.BlobStorage, codeCache cache.CodeCacheInterface, logger *logging.Logger) *CodeService {
	return &CodeService{
		codes:  codes,
		blobs:  blobs,
		cache:  codeCache,
		logger: logger,
	}
}

// Destination is the resolved target of a code: a redirect URL, or a blob to
// stream for file-variant codes.
type Destination struct {
	URL    string
	BlobID uuid.UUID
}

func (d *Destination) IsBlob() bool {
	return d.BlobID != uuid.Nil
}

func (s *CodeService) CreateStaticURL(ctx context.Context, rawURL string) (*storage.Code, error) {
	if err := s.validateDestination(ctx, rawURL); err != nil {
		return nil, err
	}

	code := s.newCode(storage.VariantStaticURL)
	code.Destination = rawURL
	if err := s.codes.Create(ctx, code); err != nil {
		return nil, err
	}

	s.logger.LogCodeOperation(ctx, "create_static_url", code.ID.String(), true)
	return code, nil
}

func (s *CodeService) CreateDynamic(ctx context.Context, rawURL string, displayName *string) (*storage.Code, error) {
	if err := s.validateDestination(ctx, rawURL); err != nil {
		return nil, err
	}

	code := s.newCode(storage.VariantDynamic)
	code.Destination = rawURL
	code.DisplayName = displayName
	if err := s.codes.Create(ctx, code); err != nil {
		return nil, err
	}

	s.logger.LogCodeOperation(ctx, "create_dynamic", code.ID.String(), true)
	return code, nil
}

func (s *CodeService) CreateFile(ctx context.Context, filename, contentType string, data []byte) (*storage.Code, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file: empty upload", ErrInvalidOperation)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}

	blob := &storage.Blob{
		ID:               uuid.New(),
		Data:             data,
		OriginalFilename: filename,
		ContentType:      contentType,
		Size:             int64(len(data)),
		CreatedAt:        time.Now(),
	}

	code := s.newCode(storage.VariantFile)
	code.BlobID = &blob.ID
	if err := s.codes.CreateWithBlob(ctx, code, blob); err != nil {
		return nil, err
	}

	s.logger.LogCodeOperation(ctx, "create_file", code.ID.String(), true)
	return code, nil
}

// Resolve maps a public token to its code record. Malformed and unknown
// tokens share one lookup path and one outcome. Only immutable variants are
// served from cache; dynamic codes always read live state.
func (s *CodeService) Resolve(ctx context.Context, token string) (*storage.Code, error) {
	cached, err := s.cache.Get(ctx, token)
	if err == nil && cached != nil {
		if !cached.Found {
			return nil, ErrNotFound
		}
		return &storage.Code{
			ID:          cached.ID,
			PublicToken: token,
			Variant:     storage.CodeVariant(cached.Variant),
			Destination: cached.Destination,
			BlobID:      cached.BlobID,
			IsActive:    true,
		}, nil
	}

	code, err := s.codes.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if code == nil {
		// Cache negative result briefly
		s.cache.Set(ctx, token, &cache.CachedCode{Found: false}, negativeTTL)
		return nil, ErrNotFound
	}

	if code.Variant != storage.VariantDynamic {
		s.cache.Set(ctx, token, &cache.CachedCode{
			Found:       true,
			ID:          code.ID,
			Variant:     string(code.Variant),
			Destination: code.Destination,
			BlobID:      code.BlobID,
		}, cacheTTL)
	}

	return code, nil
}

// CurrentDestination dispatches on the code variant. Static and file codes
// resolve unconditionally; dynamic codes honor their live is_active flag.
func (s *CodeService) CurrentDestination(code *storage.Code) (*Destination, error) {
	switch code.Variant {
	case storage.VariantStaticURL:
		return &Destination{URL: code.Destination}, nil
	case storage.VariantFile:
		if code.BlobID == nil {
			return nil, fmt.Errorf("file code %s has no blob", code.ID)
		}
		return &Destination{BlobID: *code.BlobID}, nil
	case storage.VariantDynamic:
		if !code.IsActive {
			return nil, ErrInactive
		}
		return &Destination{URL: code.Destination}, nil
	default:
		return nil, fmt.Errorf("unknown code variant %q", code.Variant)
	}
}

func (s *CodeService) Get(ctx context.Context, id uuid.UUID) (*storage.Code, error) {
	code, err := s.codes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, ErrNotFound
	}
	return code, nil
}

func (s *CodeService) List(ctx context.Context, search string) ([]*storage.Code, error) {
	return s.codes.List(ctx, search, listLimit)
}

func (s *CodeService) GetBlob(ctx context.Context, id uuid.UUID) (*storage.Blob, error) {
	blob, err := s.blobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, ErrNotFound
	}
	return blob, nil
}

type UpdateCodeRequest struct {
	Destination *string `json:"destination,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// Update applies a partial update to a dynamic code. Non-dynamic codes are
// immutable after creation.
func (s *CodeService) Update(ctx context.Context, id uuid.UUID, req *UpdateCodeRequest) (*storage.Code, error) {
	code, err := s.codes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, ErrNotFound
	}
	if code.Variant != storage.VariantDynamic {
		return nil, fmt.Errorf("%w: only dynamic codes can be updated", ErrInvalidOperation)
	}

	if req.Destination != nil {
		if err := s.validateDestination(ctx, *req.Destination); err != nil {
			return nil, err
		}
	}

	updated, err := s.codes.UpdateDynamic(ctx, id, storage.DynamicUpdate{
		Destination: req.Destination,
		DisplayName: req.DisplayName,
		IsActive:    req.IsActive,
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrNotFound
	}

	s.logger.LogCodeOperation(ctx, "update", id.String(), true)
	return updated, nil
}

// validateDestination rejects anything that is not a well-formed absolute
// http(s) URL pointing at a public host.
func (s *CodeService) validateDestination(ctx context.Context, rawURL string) error {
	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("%w: destination: not a valid absolute URL", ErrInvalidOperation)
	}

	s.logger.LogURLValidation(ctx, true, parsedURL.Scheme)

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%w: destination: only http and https schemes allowed", ErrInvalidOperation)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%w: destination: missing host", ErrInvalidOperation)
	}

	host := strings.Split(parsedURL.Host, ":")[0] // Remove port
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return fmt.Errorf("%w: destination: private, loopback, or link-local addresses not allowed", ErrInvalidOperation)
		}
		if ip.IsMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: destination: multicast or unspecified address", ErrInvalidOperation)
		}
	} else {
		hostLower := strings.ToLower(host)
		if strings.Contains(hostLower, "localhost") || strings.Contains(hostLower, "127.0.0.1") || strings.Contains(hostLower, "0.0.0.0") {
			return fmt.Errorf("%w: destination: localhost or zero address not allowed", ErrInvalidOperation)
		}
	}

	return nil
}

func (s *CodeService) newCode(variant storage.CodeVariant) *storage.Code {
	now := time.Now()
	return &storage.Code{
		ID:          uuid.New(),
		PublicToken: IssueToken(),
		Variant:     variant,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
