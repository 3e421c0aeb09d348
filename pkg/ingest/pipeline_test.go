package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qrlink/pkg/enrich"
	"qrlink/pkg/logging"
	"qrlink/pkg/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockScanStorage struct {
	mu      sync.Mutex
	events  []*storage.ScanEvent
	failErr error
	block   chan struct{}
}

func (m *mockScanStorage) Insert(ctx context.Context, event *storage.ScanEvent) error {
	if m.block != nil {
		<-m.block
	}
	if m.failErr != nil {
		return m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockScanStorage) ListByCode(ctx context.Context, codeID uuid.UUID, filter storage.ScanFilter) ([]*storage.ScanEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*storage.ScanEvent(nil), m.events...), nil
}

func (m *mockScanStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError)
}

func TestRecordPersistsEvent(t *testing.T) {
	store := &mockScanStorage{}
	pipeline := NewPipeline(store, testLogger(), 8)

	codeID := uuid.New()
	country := "US"
	facts := enrich.Facts{Country: &country, DeviceType: enrich.DeviceMobile}
	before := time.Now()
	pipeline.Record(codeID, facts, "93.184.216.34", "test-agent", nil)
	pipeline.Close()

	require.Equal(t, 1, store.count())
	event := store.events[0]
	assert.Equal(t, codeID, event.CodeID)
	assert.Equal(t, "US", *event.Country)
	assert.Equal(t, enrich.DeviceMobile, event.DeviceType)
	assert.Equal(t, enrich.Fingerprint("93.184.216.34", "test-agent"), event.ClientFingerprint)
	assert.False(t, event.ScannedAt.Before(before))
}

func TestRecordWithDegradedFacts(t *testing.T) {
	store := &mockScanStorage{}
	pipeline := NewPipeline(store, testLogger(), 8)

	// All-nil enrichment still produces a stored event.
	pipeline.Record(uuid.New(), enrich.Facts{DeviceType: enrich.DeviceOther}, "", "", nil)
	pipeline.Close()

	require.Equal(t, 1, store.count())
	event := store.events[0]
	assert.Nil(t, event.Country)
	assert.Nil(t, event.City)
	assert.Nil(t, event.Browser)
	assert.Nil(t, event.OS)
	assert.Equal(t, enrich.DeviceOther, event.DeviceType)
}

func TestStorageFailureAbsorbed(t *testing.T) {
	store := &mockScanStorage{failErr: errors.New("db down")}
	pipeline := NewPipeline(store, testLogger(), 8)

	// Record never reports the failure; the event is dropped with a log line.
	pipeline.Record(uuid.New(), enrich.Facts{DeviceType: enrich.DeviceOther}, "", "", nil)
	pipeline.Close()

	assert.Equal(t, 0, store.count())
}

func TestRecordAfterCloseDropped(t *testing.T) {
	store := &mockScanStorage{}
	pipeline := NewPipeline(store, testLogger(), 8)
	pipeline.Close()

	// A late record from a detached scan goroutine must drop, never panic.
	assert.NotPanics(t, func() {
		pipeline.Record(uuid.New(), enrich.Facts{DeviceType: enrich.DeviceOther}, "", "", nil)
	})
	assert.Equal(t, 0, store.count())
}

func TestCloseIdempotent(t *testing.T) {
	pipeline := NewPipeline(&mockScanStorage{}, testLogger(), 8)

	assert.NotPanics(t, func() {
		pipeline.Close()
		pipeline.Close()
	})
}

func TestFullQueueDoesNotBlock(t *testing.T) {
	store := &mockScanStorage{block: make(chan struct{})}
	pipeline := NewPipeline(store, testLogger(), 1)

	// The worker is stuck on the first insert; subsequent records must return
	// immediately instead of waiting for queue space.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			pipeline.Record(uuid.New(), enrich.Facts{DeviceType: enrich.DeviceOther}, "", "", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	close(store.block)
	pipeline.Close()
}
