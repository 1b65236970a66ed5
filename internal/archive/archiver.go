// Package archive batches stored telemetry snapshots into gzip JSONL objects
// and ships them to object storage.
package archive

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/iamgideonidoko/pulse/internal/models"
	"github.com/iamgideonidoko/pulse/pkg/logger"
)

// Uploader stores one encoded batch.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

type Options struct {
	Prefix        string
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	InstanceID    string
	// ShutdownTimeout bounds the upload of batches still queued at Shutdown.
	ShutdownTimeout time.Duration
	// OnUpload is called after every upload attempt with the batch size.
	OnUpload func(events int, err error)
}

type Stats struct {
	Archived int64 `json:"archived"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
	Batches  int64 `json:"batches"`
}

// Archiver collects events on a buffered channel and uploads a batch whenever
// BatchSize is reached or FlushInterval elapses.
type Archiver struct {
	opts     Options
	uploader Uploader

	events  chan models.TelemetryEvent
	batches chan []models.TelemetryEvent

	mu     sync.RWMutex
	closed bool

	seq      atomic.Uint64
	archived atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
	uploaded atomic.Int64

	wg       sync.WaitGroup
	stopOnce sync.Once
	now      func() time.Time
}

func New(uploader Uploader, opts Options) *Archiver {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Minute
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.BatchSize * 10
	}
	if opts.Prefix == "" {
		opts.Prefix = "telemetry"
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()[:8]
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}

	return &Archiver{
		opts:     opts,
		uploader: uploader,
		events:   make(chan models.TelemetryEvent, opts.QueueSize),
		batches:  make(chan []models.TelemetryEvent, 4),
		now:      time.Now,
	}
}

func (a *Archiver) Start() {
	a.wg.Add(2)
	go a.collectLoop()
	go a.uploadLoop()
}

// Enqueue hands an event to the archiver without blocking. It reports false
// when the queue is full or the archiver is shut down.
func (a *Archiver) Enqueue(event models.TelemetryEvent) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		return false
	}
	select {
	case a.events <- event:
		return true
	default:
		a.dropped.Add(1)
		return false
	}
}

// Shutdown stops intake, flushes the partial batch and waits for queued
// uploads to finish.
func (a *Archiver) Shutdown() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.events)
		a.mu.Unlock()
	})
	a.wg.Wait()
}

func (a *Archiver) Stats() Stats {
	return Stats{
		Archived: a.archived.Load(),
		Dropped:  a.dropped.Load(),
		Failed:   a.failed.Load(),
		Batches:  a.uploaded.Load(),
	}
}

func (a *Archiver) collectLoop() {
	defer a.wg.Done()
	defer close(a.batches)

	batch := make([]models.TelemetryEvent, 0, a.opts.BatchSize)
	timer := time.NewTimer(a.opts.FlushInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) > 0 {
			a.batches <- batch
			batch = make([]models.TelemetryEvent, 0, a.opts.BatchSize)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(a.opts.FlushInterval)
	}

	for {
		select {
		case ev, ok := <-a.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= a.opts.BatchSize {
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
}

func (a *Archiver) uploadLoop() {
	defer a.wg.Done()

	for batch := range a.batches {
		a.upload(batch)
	}
}

func (a *Archiver) upload(batch []models.TelemetryEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.ShutdownTimeout)
	defer cancel()

	key := a.key(a.now().UTC())
	data, err := EncodeBatch(batch)
	if err == nil {
		err = a.uploader.Upload(ctx, key, data)
	}

	if a.opts.OnUpload != nil {
		a.opts.OnUpload(len(batch), err)
	}
	if err != nil {
		a.failed.Add(int64(len(batch)))
		logger.Error("Failed to archive batch", map[string]any{
			"key":    key,
			"events": len(batch),
			"error":  err.Error(),
		})
		return
	}

	a.archived.Add(int64(len(batch)))
	a.uploaded.Add(1)
	logger.Debug("Archived batch", map[string]any{
		"key":    key,
		"events": len(batch),
		"bytes":  len(data),
	})
}

// key partitions objects by day and hour:
// <prefix>/dt=YYYY-MM-DD/hr=HH/<unix>_<instance>_<seq>.jsonl.gz
func (a *Archiver) key(t time.Time) string {
	name := fmt.Sprintf("%d_%s_%06d.jsonl.gz", t.Unix(), a.opts.InstanceID, a.seq.Add(1))
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", a.opts.Prefix, t.Format("2006-01-02"), t.Format("15"), name)
}
