package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lpr-service/internal/domain/plate"
)

type fakeStore struct {
	sightings map[int64]*plate.Sighting
	nextID    int64
	failWith  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sightings: make(map[int64]*plate.Sighting), nextID: 1}
}

func (f *fakeStore) FindRecentByText(_ context.Context, text string, since time.Time) (*plate.Sighting, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var best *plate.Sighting
	for _, s := range f.sightings {
		if s.PlateText != text || s.LastSeen.Before(since) {
			continue
		}
		if best == nil || s.LastSeen.After(best.LastSeen) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (f *fakeStore) CreateSighting(_ context.Context, s *plate.Sighting) error {
	if f.failWith != nil {
		return f.failWith
	}
	s.ID = f.nextID
	f.nextID++
	copied := *s
	f.sightings[s.ID] = &copied
	return nil
}

func (f *fakeStore) UpdateSighting(_ context.Context, id int64, u plate.SightingUpdate) error {
	if f.failWith != nil {
		return f.failWith
	}
	s, ok := f.sightings[id]
	if !ok {
		return errors.New("row not found")
	}
	s.DetectionCount = u.DetectionCount
	s.Confidence = u.Confidence
	box := u.Coordinates
	s.Coordinates = &box
	if u.BestConfidence != nil {
		s.BestConfidence = *u.BestConfidence
	}
	if u.BestCoordinates != nil {
		best := *u.BestCoordinates
		s.BestCoordinates = &best
	}
	s.LatestLocation = u.LatestLocation
	s.LastSeen = u.LastSeen
	return nil
}

func (f *fakeStore) CountSightings(_ context.Context) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	return int64(len(f.sightings)), nil
}

func newTestService(store SightingStore) *DetectionService {
	return NewDetectionService(store, plate.DefaultPolicy(), zerolog.Nop())
}

func obsAt(text string, confidence float64, location string, box plate.BoundingBox, at time.Time) plate.Observation {
	return plate.Observation{
		PlateText:  text,
		Confidence: confidence,
		Location:   location,
		Box:        box,
		ObservedAt: at,
	}
}

func TestReconcileCreatesNewSighting(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, isNew, err := svc.Reconcile(context.Background(), obsAt("ABC 123", 0.9, "Gate1", plate.BoundingBox{X: 1, Y: 2, W: 3, H: 4}, t0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isNew {
		t.Fatal("expected a new record")
	}

	s := store.sightings[id]
	if s == nil {
		t.Fatalf("sighting %d not persisted", id)
	}
	if s.DetectionCount != 1 {
		t.Fatalf("detection count = %d, want 1", s.DetectionCount)
	}
	if s.Confidence != 0.9 || s.BestConfidence != 0.9 {
		t.Fatalf("confidence = %v, best = %v, want 0.9 both", s.Confidence, s.BestConfidence)
	}
	if s.FirstLocation != "Gate1" || s.LatestLocation != "Gate1" {
		t.Fatalf("locations = %q / %q, want Gate1 both", s.FirstLocation, s.LatestLocation)
	}
	if s.Status != plate.StatusDetected {
		t.Fatalf("status = %q, want detected", s.Status)
	}
	if s.BestCoordinates == nil || *s.BestCoordinates != (plate.BoundingBox{X: 1, Y: 2, W: 3, H: 4}) {
		t.Fatalf("best coordinates = %+v", s.BestCoordinates)
	}
}

func TestReconcileUpdatesWithinWindow(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	firstID, _, err := svc.Reconcile(context.Background(), obsAt("ABC 123", 0.9, "Gate1", plate.BoundingBox{X: 1, Y: 2, W: 3, H: 4}, t0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Lower confidence inside the window: latest fields move, best stays.
	id, isNew, err := svc.Reconcile(context.Background(), obsAt("ABC 123", 0.7, "Gate2", plate.BoundingBox{X: 5, Y: 6, W: 7, H: 8}, t0.Add(time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isNew {
		t.Fatal("expected an update, got a new record")
	}
	if id != firstID {
		t.Fatalf("id = %d, want %d", id, firstID)
	}

	s := store.sightings[firstID]
	if s.DetectionCount != 2 {
		t.Fatalf("detection count = %d, want 2", s.DetectionCount)
	}
	if s.Confidence != 0.7 {
		t.Fatalf("confidence = %v, want 0.7", s.Confidence)
	}
	if s.BestConfidence != 0.9 {
		t.Fatalf("best confidence = %v, want 0.9", s.BestConfidence)
	}
	if *s.BestCoordinates != (plate.BoundingBox{X: 1, Y: 2, W: 3, H: 4}) {
		t.Fatalf("best coordinates overwritten: %+v", s.BestCoordinates)
	}
	if *s.Coordinates != (plate.BoundingBox{X: 5, Y: 6, W: 7, H: 8}) {
		t.Fatalf("current coordinates = %+v", s.Coordinates)
	}
	if s.FirstLocation != "Gate1" {
		t.Fatalf("first location touched: %q", s.FirstLocation)
	}
	if s.LatestLocation != "Gate2" {
		t.Fatalf("latest location = %q, want Gate2", s.LatestLocation)
	}

	// Higher confidence: best values move to the new observation.
	_, _, err = svc.Reconcile(context.Background(), obsAt("ABC 123", 0.95, "Gate3", plate.BoundingBox{X: 9, Y: 9, W: 9, H: 9}, t0.Add(2*time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.BestConfidence != 0.95 {
		t.Fatalf("best confidence = %v, want 0.95", s.BestConfidence)
	}
	if *s.BestCoordinates != (plate.BoundingBox{X: 9, Y: 9, W: 9, H: 9}) {
		t.Fatalf("best coordinates = %+v", s.BestCoordinates)
	}
	if s.DetectionCount != 3 {
		t.Fatalf("detection count = %d, want 3", s.DetectionCount)
	}
}

func TestReconcileTieKeepsExistingBest(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, _, _ := svc.Reconcile(context.Background(), obsAt("ABC 123", 0.9, "Gate1", plate.BoundingBox{X: 1, Y: 1, W: 1, H: 1}, t0))
	_, _, err := svc.Reconcile(context.Background(), obsAt("ABC 123", 0.9, "Gate1", plate.BoundingBox{X: 2, Y: 2, W: 2, H: 2}, t0.Add(time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := store.sightings[id]
	if *s.BestCoordinates != (plate.BoundingBox{X: 1, Y: 1, W: 1, H: 1}) {
		t.Fatalf("tie moved best coordinates: %+v", s.BestCoordinates)
	}
}

func TestReconcileNewSightingAfterWindow(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	firstID, _, _ := svc.Reconcile(context.Background(), obsAt("ABC 123", 0.9, "Gate1", plate.BoundingBox{}, t0))

	id, isNew, err := svc.Reconcile(context.Background(), obsAt("ABC 123", 0.8, "Gate1", plate.BoundingBox{}, t0.Add(11*time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isNew {
		t.Fatal("expected a new record after the match window elapsed")
	}
	if id == firstID {
		t.Fatalf("new sighting reused id %d", id)
	}
	if store.sightings[firstID].DetectionCount != 1 {
		t.Fatal("historical sighting mutated")
	}
}

func TestReconcileRoundsConfidence(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, _, _ := svc.Reconcile(context.Background(), obsAt("ABC 123", 0.8765, "Gate1", plate.BoundingBox{}, t0))
	s := store.sightings[id]
	if s.Confidence != 0.88 || s.BestConfidence != 0.88 {
		t.Fatalf("confidence = %v, best = %v, want 0.88 both", s.Confidence, s.BestConfidence)
	}
}

func TestReconcileSynthesizesPlaceholder(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, isNew, err := svc.Reconcile(context.Background(), obsAt("", 0.5, "Gate1", plate.BoundingBox{}, t0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isNew {
		t.Fatal("expected a new record")
	}
	if got := store.sightings[id].PlateText; got != "PLATE_0001" {
		t.Fatalf("placeholder = %q, want PLATE_0001", got)
	}

	// Placeholder ordinal follows the row count.
	id2, _, err := svc.Reconcile(context.Background(), obsAt("", 0.5, "Gate1", plate.BoundingBox{}, t0.Add(11*time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.sightings[id2].PlateText; got != "PLATE_0002" {
		t.Fatalf("placeholder = %q, want PLATE_0002", got)
	}
}

func TestReconcileIfAllowedThrottles(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, _, err := svc.ReconcileIfAllowed(context.Background(), obsAt("ABC 123", 0.9, "Gate1", plate.BoundingBox{}, t0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Inside the save interval, even a different plate is skipped: the
	// throttle is global, not per plate.
	_, _, err := svc.ReconcileIfAllowed(context.Background(), obsAt("XYZ 789", 0.9, "Gate1", plate.BoundingBox{}, t0.Add(time.Second)))
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("err = %v, want ErrThrottled", err)
	}
	if len(store.sightings) != 1 {
		t.Fatalf("throttled call reached the store: %d sightings", len(store.sightings))
	}

	// At the interval boundary the observation is accepted again.
	if _, _, err := svc.ReconcileIfAllowed(context.Background(), obsAt("XYZ 789", 0.9, "Gate1", plate.BoundingBox{}, t0.Add(3*time.Second))); err != nil {
		t.Fatalf("unexpected error at interval boundary: %v", err)
	}
}

func TestReconcileStoreFailureSentinel(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("connection refused")
	svc := newTestService(store)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, isNew, err := svc.Reconcile(context.Background(), obsAt("ABC 123", 0.9, "Gate1", plate.BoundingBox{}, t0))
	if err == nil {
		t.Fatal("expected an error")
	}
	if id != -1 || isNew {
		t.Fatalf("result = (%d, %v), want (-1, false)", id, isNew)
	}

	// A failed call must not advance the throttle watermark.
	store.failWith = nil
	if _, _, err := svc.ReconcileIfAllowed(context.Background(), obsAt("ABC 123", 0.9, "Gate1", plate.BoundingBox{}, t0)); err != nil {
		t.Fatalf("watermark advanced by failed call: %v", err)
	}
}
