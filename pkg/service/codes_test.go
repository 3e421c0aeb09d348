package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"qrlink/pkg/cache"
	"qrlink/pkg/logging"
	"qrlink/pkg/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory storage implementing CodeStorage and BlobStorage for tests.
type memoryStore struct {
	mu    sync.Mutex
	codes map[uuid.UUID]*storage.Code
	blobs map[uuid.UUID]*storage.Blob
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		codes: make(map[uuid.UUID]*storage.Code),
		blobs: make(map[uuid.UUID]*storage.Blob),
	}
}

func (m *memoryStore) Create(ctx context.Context, code *storage.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *code
	m.codes[code.ID] = &copied
	return nil
}

func (m *memoryStore) CreateWithBlob(ctx context.Context, code *storage.Code, blob *storage.Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copiedCode := *code
	copiedBlob := *blob
	m.codes[code.ID] = &copiedCode
	m.blobs[blob.ID] = &copiedBlob
	return nil
}

func (m *memoryStore) GetByToken(ctx context.Context, token string) (*storage.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, code := range m.codes {
		if code.PublicToken == token {
			copied := *code
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) GetByID(ctx context.Context, id uuid.UUID) (*storage.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code, ok := m.codes[id]; ok {
		copied := *code
		return &copied, nil
	}
	return nil, nil
}

func (m *memoryStore) List(ctx context.Context, search string, limit int) ([]*storage.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*storage.Code
	for _, code := range m.codes {
		if search != "" {
			name := ""
			if code.DisplayName != nil {
				name = *code.DisplayName
			}
			if !strings.Contains(name, search) && !strings.Contains(code.Destination, search) {
				continue
			}
		}
		copied := *code
		result = append(result, &copied)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *memoryStore) UpdateDynamic(ctx context.Context, id uuid.UUID, upd storage.DynamicUpdate) (*storage.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[id]
	if !ok || code.Variant != storage.VariantDynamic {
		return nil, nil
	}
	if upd.Destination != nil {
		code.Destination = *upd.Destination
	}
	if upd.DisplayName != nil {
		code.DisplayName = upd.DisplayName
	}
	if upd.IsActive != nil {
		code.IsActive = *upd.IsActive
	}
	code.UpdatedAt = time.Now()
	copied := *code
	return &copied, nil
}

func (m *memoryStore) GetBlobByID(ctx context.Context, id uuid.UUID) (*storage.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if blob, ok := m.blobs[id]; ok {
		copied := *blob
		return &copied, nil
	}
	return nil, nil
}

// blobView adapts memoryStore to the BlobStorage interface.
type blobView struct{ store *memoryStore }

func (b blobView) GetByID(ctx context.Context, id uuid.UUID) (*storage.Blob, error) {
	return b.store.GetBlobByID(ctx, id)
}

type noopCache struct{}

func (noopCache) Get(ctx context.Context, token string) (*cache.CachedCode, error) {
	return nil, nil
}

func (noopCache) Set(ctx context.Context, token string, code *cache.CachedCode, ttl time.Duration) error {
	return nil
}

func (noopCache) Delete(ctx context.Context, token string) error {
	return nil
}

func newTestService() (*CodeService, *memoryStore) {
	store := newMemoryStore()
	logger := logging.NewLogger(logging.LevelError)
	return NewCodeService(store, blobView{store}, noopCache{}, logger), store
}

func TestResolveRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	code, err := svc.CreateStaticURL(ctx, "https://example.com/page")
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, code.PublicToken)
	require.NoError(t, err)
	assert.Equal(t, code.ID, resolved.ID)
	assert.Equal(t, "https://example.com/page", resolved.Destination)
}

func TestResolveUniformNotFound(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// A syntactically valid but unissued token and a malformed one must be
	// indistinguishable.
	_, errUnissued := svc.Resolve(ctx, uuid.NewString())
	_, errMalformed := svc.Resolve(ctx, "not-a-real-token")

	assert.ErrorIs(t, errUnissued, ErrNotFound)
	assert.ErrorIs(t, errMalformed, ErrNotFound)
	assert.Equal(t, errUnissued, errMalformed)
}

func TestCurrentDestination(t *testing.T) {
	svc, _ := newTestService()
	blobID := uuid.New()
	displayName := "campaign"

	tests := []struct {
		name    string
		code    *storage.Code
		wantURL string
		wantErr error
	}{
		{
			name:    "static url",
			code:    &storage.Code{Variant: storage.VariantStaticURL, Destination: "https://a.example", IsActive: true},
			wantURL: "https://a.example",
		},
		{
			name: "file",
			code: &storage.Code{Variant: storage.VariantFile, BlobID: &blobID, IsActive: true},
		},
		{
			name:    "dynamic active",
			code:    &storage.Code{Variant: storage.VariantDynamic, Destination: "https://b.example", DisplayName: &displayName, IsActive: true},
			wantURL: "https://b.example",
		},
		{
			name:    "dynamic inactive",
			code:    &storage.Code{Variant: storage.VariantDynamic, Destination: "https://b.example", IsActive: false},
			wantErr: ErrInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest, err := svc.CurrentDestination(tt.code)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.code.Variant == storage.VariantFile {
				assert.True(t, dest.IsBlob())
				assert.Equal(t, blobID, dest.BlobID)
			} else {
				assert.False(t, dest.IsBlob())
				assert.Equal(t, tt.wantURL, dest.URL)
			}
		})
	}
}

func TestInactiveIgnoresDestination(t *testing.T) {
	svc, _ := newTestService()

	// A non-empty destination must not leak through a deactivated code.
	code := &storage.Code{Variant: storage.VariantDynamic, Destination: "https://still-set.example", IsActive: false}
	_, err := svc.CurrentDestination(code)
	assert.ErrorIs(t, err, ErrInactive)
}

func TestUpdateNonDynamicFails(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	staticCode, err := svc.CreateStaticURL(ctx, "https://example.com")
	require.NoError(t, err)

	fileCode, err := svc.CreateFile(ctx, "doc.pdf", "application/pdf", []byte("%PDF-1.4 test"))
	require.NoError(t, err)

	newDest := "https://elsewhere.example"
	for _, code := range []*storage.Code{staticCode, fileCode} {
		_, err := svc.Update(ctx, code.ID, &UpdateCodeRequest{Destination: &newDest})
		assert.ErrorIs(t, err, ErrInvalidOperation)
	}
}

func TestUpdateDestinationVisibility(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	code, err := svc.CreateDynamic(ctx, "https://a.example", nil)
	require.NoError(t, err)

	newDest := "https://b.example"
	updated, err := svc.Update(ctx, code.ID, &UpdateCodeRequest{Destination: &newDest})
	require.NoError(t, err)
	assert.Equal(t, newDest, updated.Destination)

	// Every subsequent resolution observes the new destination.
	for i := 0; i < 3; i++ {
		resolved, err := svc.Resolve(ctx, code.PublicToken)
		require.NoError(t, err)
		dest, err := svc.CurrentDestination(resolved)
		require.NoError(t, err)
		assert.Equal(t, newDest, dest.URL)
	}
}

func TestUpdateIsActiveIndependent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	code, err := svc.CreateDynamic(ctx, "https://a.example", nil)
	require.NoError(t, err)

	inactive := false
	_, err = svc.Update(ctx, code.ID, &UpdateCodeRequest{IsActive: &inactive})
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, code.PublicToken)
	require.NoError(t, err)
	_, err = svc.CurrentDestination(resolved)
	assert.ErrorIs(t, err, ErrInactive)

	active := true
	_, err = svc.Update(ctx, code.ID, &UpdateCodeRequest{IsActive: &active})
	require.NoError(t, err)

	resolved, err = svc.Resolve(ctx, code.PublicToken)
	require.NoError(t, err)
	dest, err := svc.CurrentDestination(resolved)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", dest.URL, "reactivation restores the original destination")
}

func TestUpdatePartialOnlyTouchesProvidedFields(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	name := "menu"
	code, err := svc.CreateDynamic(ctx, "https://a.example", &name)
	require.NoError(t, err)

	newName := "winter menu"
	updated, err := svc.Update(ctx, code.ID, &UpdateCodeRequest{DisplayName: &newName})
	require.NoError(t, err)

	assert.Equal(t, "https://a.example", updated.Destination)
	assert.Equal(t, newName, *updated.DisplayName)
	assert.True(t, updated.IsActive)
}

func TestUpdateUnknownID(t *testing.T) {
	svc, _ := newTestService()

	dest := "https://a.example"
	_, err := svc.Update(context.Background(), uuid.New(), &UpdateCodeRequest{Destination: &dest})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateDestination(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://example.com/path?q=1", false},
		{"http", "http://example.com", false},
		{"empty", "", true},
		{"relative", "/just/a/path", true},
		{"no scheme", "example.com", true},
		{"ftp", "ftp://example.com/file", true},
		{"javascript", "javascript:alert(1)", true},
		{"private ip", "https://10.0.0.1/admin", true},
		{"loopback ip", "https://127.0.0.1:8080", true},
		{"localhost", "https://localhost/x", true},
		{"zero address", "https://0.0.0.0/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.validateDestination(ctx, tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOperation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateFileSniffsContentType(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	pngHeader := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	code, err := svc.CreateFile(ctx, "logo.png", "", pngHeader)
	require.NoError(t, err)
	require.NotNil(t, code.BlobID)

	blob, err := store.GetBlobByID(ctx, *code.BlobID)
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, "image/png", blob.ContentType)
	assert.Equal(t, int64(len(pngHeader)), blob.Size)
}

func TestCreateFileRejectsEmptyUpload(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateFile(context.Background(), "empty.bin", "", nil)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}
