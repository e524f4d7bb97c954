package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lpr-service/internal/domain/plate"
)

type fakeReconciler struct {
	calls    []plate.Observation
	failWith error
	nextID   int64
}

func (f *fakeReconciler) Reconcile(_ context.Context, obs plate.Observation) (int64, bool, error) {
	if f.failWith != nil {
		return -1, false, f.failWith
	}
	f.calls = append(f.calls, obs)
	f.nextID++
	return f.nextID, true, nil
}

type recordingNotifier struct {
	events []FeedEvent
}

func (n *recordingNotifier) Publish(event FeedEvent) {
	n.events = append(n.events, event)
}

func newTestBuffer(rec Reconciler, notifier Notifier) *Buffer {
	return NewBuffer(rec, notifier, plate.DefaultPolicy(), 10*time.Second, "", zerolog.Nop())
}

func TestOfferRejectsInvalidText(t *testing.T) {
	buf := newTestBuffer(&fakeReconciler{}, nil)

	res, queued := buf.Offer("518-UOZ", 0.9, "Gate1", plate.BoundingBox{}, time.Now())
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if queued {
		t.Fatal("invalid observation was queued")
	}
	if buf.QueueLen() != 0 {
		t.Fatalf("queue length = %d, want 0", buf.QueueLen())
	}
}

func TestOfferNormalizesAndQueues(t *testing.T) {
	buf := newTestBuffer(&fakeReconciler{}, nil)

	res, queued := buf.Offer("5I8 U0Z", 0.9, "Gate1", plate.BoundingBox{}, time.Now())
	if !queued {
		t.Fatal("expected observation to be queued")
	}
	if res.Normalized != "518 UOZ" {
		t.Fatalf("normalized = %q, want 518 UOZ", res.Normalized)
	}
	if buf.QueueLen() != 1 {
		t.Fatalf("queue length = %d, want 1", buf.QueueLen())
	}
}

func TestOfferThrottlesInsideSaveInterval(t *testing.T) {
	buf := newTestBuffer(&fakeReconciler{}, nil)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, queued := buf.Offer("ABC 123", 0.9, "Gate1", plate.BoundingBox{}, t0); !queued {
		t.Fatal("first observation not queued")
	}
	if _, queued := buf.Offer("XYZ 789", 0.9, "Gate1", plate.BoundingBox{}, t0.Add(time.Second)); queued {
		t.Fatal("observation inside save interval was queued")
	}
	if _, queued := buf.Offer("XYZ 789", 0.9, "Gate1", plate.BoundingBox{}, t0.Add(3*time.Second)); !queued {
		t.Fatal("observation at interval boundary not queued")
	}
}

func TestFlushSubmitsBestPerPlate(t *testing.T) {
	rec := &fakeReconciler{}
	notifier := &recordingNotifier{}
	buf := newTestBuffer(rec, notifier)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	buf.Offer("ABC 123", 0.7, "Gate1", plate.BoundingBox{X: 1}, t0)
	buf.Offer("ABC 123", 0.9, "Gate1", plate.BoundingBox{X: 2}, t0.Add(4*time.Second))
	buf.Offer("XYZ 789", 0.5, "Gate2", plate.BoundingBox{X: 3}, t0.Add(8*time.Second))

	buf.Flush(context.Background())

	if len(rec.calls) != 2 {
		t.Fatalf("reconcile calls = %d, want 2", len(rec.calls))
	}
	byPlate := make(map[string]plate.Observation)
	for _, obs := range rec.calls {
		byPlate[obs.PlateText] = obs
	}
	if byPlate["ABC 123"].Confidence != 0.9 {
		t.Fatalf("submitted confidence = %v, want the batch best 0.9", byPlate["ABC 123"].Confidence)
	}
	if byPlate["ABC 123"].Box.X != 2 {
		t.Fatalf("submitted box = %+v, want the best observation's box", byPlate["ABC 123"].Box)
	}
	if _, ok := byPlate["XYZ 789"]; !ok {
		t.Fatal("second plate not submitted")
	}
	if len(notifier.events) != 2 {
		t.Fatalf("feed events = %d, want 2", len(notifier.events))
	}
	if buf.QueueLen() != 0 {
		t.Fatalf("queue not drained: %d", buf.QueueLen())
	}
}

func TestFlushRequeuesOnFailure(t *testing.T) {
	rec := &fakeReconciler{failWith: errors.New("store down")}
	buf := newTestBuffer(rec, nil)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	buf.Offer("ABC 123", 0.7, "Gate1", plate.BoundingBox{}, t0)
	buf.Offer("ABC 123", 0.9, "Gate1", plate.BoundingBox{}, t0.Add(4*time.Second))

	buf.Flush(context.Background())
	if buf.QueueLen() != 2 {
		t.Fatalf("queue length after failed flush = %d, want 2", buf.QueueLen())
	}

	// Once the store recovers, the retried flush goes through.
	rec.failWith = nil
	buf.Flush(context.Background())
	if buf.QueueLen() != 0 {
		t.Fatalf("queue length after retry = %d, want 0", buf.QueueLen())
	}
	if len(rec.calls) != 1 {
		t.Fatalf("reconcile calls = %d, want 1", len(rec.calls))
	}
}

func TestFlushEmptyQueueIsNoop(t *testing.T) {
	rec := &fakeReconciler{}
	buf := newTestBuffer(rec, nil)

	buf.Flush(context.Background())
	if len(rec.calls) != 0 {
		t.Fatalf("reconcile calls = %d, want 0", len(rec.calls))
	}
}

func TestDailyLogFile(t *testing.T) {
	dir := t.TempDir()
	buf := NewBuffer(&fakeReconciler{}, nil, plate.DefaultPolicy(), 10*time.Second, dir, zerolog.Nop())
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, queued := buf.Offer("ABC 123", 0.9, "Gate1", plate.BoundingBox{X: 1, Y: 2, W: 3, H: 4}, at); !queued {
		t.Fatal("observation not queued")
	}

	data, err := os.ReadFile(filepath.Join(dir, "detections_2026-03-01.json"))
	if err != nil {
		t.Fatalf("detection log not written: %v", err)
	}

	var e entry
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &e); err != nil {
		t.Fatalf("detection log entry not valid JSON: %v", err)
	}
	if e.ID == "" {
		t.Fatal("log entry missing observation id")
	}
	if e.Obs.PlateText != "ABC 123" {
		t.Fatalf("logged plate = %q, want ABC 123", e.Obs.PlateText)
	}
}
