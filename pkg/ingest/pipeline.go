package ingest

import (
	"context"
	"sync"
	"time"

	"qrlink/pkg/enrich"
	"qrlink/pkg/logging"
	"qrlink/pkg/storage"

	"github.com/google/uuid"
)

const defaultQueueLen = 1024

// writeTimeout bounds a single scan-event insert so a stalled database
// cannot wedge the worker.
const writeTimeout = 5 * time.Second

// Pipeline persists scan events off the redirect path. Record hands the event
// to a bounded queue and returns immediately; a full queue or a storage
// failure drops the event with a log line, never an error to the caller.
type Pipeline struct {
	scans  storage.ScanStorage
	logger *logging.Logger
	queue  chan *storage.ScanEvent

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPipeline(scans storage.ScanStorage, logger *logging.Logger, queueLen int) *Pipeline {
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	p := &Pipeline{
		scans:  scans,
		logger: logger,
		queue:  make(chan *storage.ScanEvent, queueLen),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Record enqueues one scan event. ScannedAt is stamped here, not at insert
// time, so queue latency cannot reorder events relative to the scan that
// caused them. The client fingerprint is derived before anything is stored;
// the raw IP goes no further than this call.
func (p *Pipeline) Record(codeID uuid.UUID, facts enrich.Facts, ip, userAgent string, referrer *string) {
	event := &storage.ScanEvent{
		CodeID:            codeID,
		ScannedAt:         time.Now(),
		Country:           facts.Country,
		City:              facts.City,
		DeviceType:        facts.DeviceType,
		Browser:           facts.Browser,
		OS:                facts.OS,
		Referrer:          referrer,
		ClientFingerprint: enrich.Fingerprint(ip, userAgent),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.LogIngestionFailure(context.Background(), codeID.String(), "pipeline closed", nil)
		return
	}
	select {
	case p.queue <- event:
	default:
		p.logger.LogIngestionFailure(context.Background(), codeID.String(), "queue full", nil)
	}
	p.mu.Unlock()
}

// Close stops accepting events and drains the queue. Records arriving after
// Close are dropped with a log line, like any other ingestion failure.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := p.scans.Insert(ctx, event); err != nil {
			p.logger.LogIngestionFailure(ctx, event.CodeID.String(), "storage write failed", err)
		}
		cancel()
	}
}
