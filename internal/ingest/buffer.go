package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lpr-service/internal/domain/plate"
	"lpr-service/internal/service"
	"lpr-service/internal/validator"
)

// Reconciler is the slice of DetectionService the buffer drains into.
type Reconciler interface {
	Reconcile(ctx context.Context, obs plate.Observation) (int64, bool, error)
}

// Notifier receives the outcome of each reconciled observation, e.g. for a
// live dashboard feed. May be nil.
type Notifier interface {
	Publish(event FeedEvent)
}

type FeedEvent struct {
	SightingID int64     `json:"sighting_id"`
	PlateText  string    `json:"plate_text"`
	Confidence float64   `json:"confidence"`
	Location   string    `json:"location"`
	IsNew      bool      `json:"is_new"`
	ObservedAt time.Time `json:"observed_at"`
}

type entry struct {
	ID  string            `json:"id"`
	Obs plate.Observation `json:"observation"`
}

// Buffer decouples frame-rate OCR capture from store latency. Accepted
// observations are queued and flushed to the reconciler on a timer; a flush
// groups the batch by plate text and submits only the highest-confidence
// observation per plate. Failed items go back on the queue.
type Buffer struct {
	svc           Reconciler
	notifier      Notifier
	log           zerolog.Logger
	flushInterval time.Duration
	saveInterval  time.Duration
	logDir        string

	mu         sync.Mutex
	queue      []entry
	lastQueued time.Time
}

func NewBuffer(svc Reconciler, notifier Notifier, policy plate.Policy, flushInterval time.Duration, logDir string, log zerolog.Logger) *Buffer {
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	saveInterval := policy.SaveInterval
	if saveInterval <= 0 {
		saveInterval = plate.DefaultPolicy().SaveInterval
	}
	return &Buffer{
		svc:           svc,
		notifier:      notifier,
		log:           log,
		flushInterval: flushInterval,
		saveInterval:  saveInterval,
		logDir:        logDir,
	}
}

// Offer validates a raw OCR candidate and queues it for the next flush.
// It returns the validation result and whether the observation was queued:
// invalid text and observations inside the save interval are dropped.
func (b *Buffer) Offer(raw string, confidence float64, location string, box plate.BoundingBox, at time.Time) (plate.ValidationResult, bool) {
	res := validator.ValidateAndNormalize(raw)
	if !res.Valid {
		b.log.Debug().Str("raw_text", raw).Msg("dropping observation with invalid plate text")
		return res, false
	}

	if at.IsZero() {
		at = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if at.Sub(b.lastQueued) < b.saveInterval {
		return res, false
	}

	e := entry{
		ID: uuid.NewString(),
		Obs: plate.Observation{
			PlateText:  res.Normalized,
			Confidence: confidence,
			Location:   location,
			Box:        box,
			ObservedAt: at,
		},
	}

	b.queue = append(b.queue, e)
	b.lastQueued = at
	b.appendToLogFile(e)

	b.log.Debug().
		Str("observation_id", e.ID).
		Str("plate", res.Normalized).
		Int("queue_size", len(b.queue)).
		Msg("queued observation")
	return res, true
}

// Run flushes the queue on a timer until ctx is cancelled, with a final
// flush on shutdown.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	b.log.Info().Dur("flush_interval", b.flushInterval).Msg("ingest buffer started")

	for {
		select {
		case <-ctx.Done():
			b.Flush(context.Background())
			b.log.Info().Msg("ingest buffer stopped")
			return
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// Flush drains the queue into batched reconciler calls. All reconcile calls
// happen on the calling goroutine, so a buffer is a single-writer path into
// the reconciler.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	// Group by plate text so one sighting write covers every frame of the
	// same plate in this batch.
	groups := make(map[string][]entry)
	for _, e := range batch {
		groups[e.Obs.PlateText] = append(groups[e.Obs.PlateText], e)
	}

	b.log.Debug().
		Int("batch_size", len(batch)).
		Int("unique_plates", len(groups)).
		Msg("processing detection batch")

	var created, updated int
	for text, entries := range groups {
		best := entries[0]
		for _, e := range entries[1:] {
			if e.Obs.Confidence > best.Obs.Confidence {
				best = e
			}
		}

		id, isNew, err := b.svc.Reconcile(ctx, best.Obs)
		if err != nil {
			b.log.Error().Err(err).Str("plate", text).Msg("reconcile failed, re-queuing observations")
			b.requeue(entries)
			continue
		}

		if isNew {
			created++
		} else {
			updated++
		}

		if b.notifier != nil {
			b.notifier.Publish(FeedEvent{
				SightingID: id,
				PlateText:  best.Obs.PlateText,
				Confidence: best.Obs.Confidence,
				Location:   best.Obs.Location,
				IsNew:      isNew,
				ObservedAt: best.Obs.ObservedAt,
			})
		}
	}

	b.log.Info().
		Int("created", created).
		Int("updated", updated).
		Int("unique_plates", len(groups)).
		Msg("detection batch completed")
}

// QueueLen reports the number of observations waiting for the next flush.
func (b *Buffer) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Buffer) requeue(entries []entry) {
	b.mu.Lock()
	b.queue = append(b.queue, entries...)
	b.mu.Unlock()
}

// appendToLogFile writes the observation to the daily detection log as one
// JSON line. Logging failures are reported but never block ingestion.
// Caller holds b.mu.
func (b *Buffer) appendToLogFile(e entry) {
	if b.logDir == "" {
		return
	}

	if err := os.MkdirAll(b.logDir, 0o755); err != nil {
		b.log.Warn().Err(err).Msg("failed to create detection log dir")
		return
	}

	name := fmt.Sprintf("detections_%s.json", e.Obs.ObservedAt.Format("2006-01-02"))
	path := filepath.Join(b.logDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		b.log.Warn().Err(err).Str("path", path).Msg("failed to open detection log")
		return
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to encode detection log entry")
		return
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		b.log.Warn().Err(err).Str("path", path).Msg("failed to write detection log")
	}
}

var _ Reconciler = (*service.DetectionService)(nil)
