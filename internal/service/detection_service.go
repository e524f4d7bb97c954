package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"lpr-service/internal/domain/plate"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrThrottled    = errors.New("observation throttled")
)

// SightingStore is the narrow persistence capability the reconciler needs.
// *repository.SightingRepository satisfies it.
type SightingStore interface {
	FindRecentByText(ctx context.Context, text string, since time.Time) (*plate.Sighting, error)
	CreateSighting(ctx context.Context, s *plate.Sighting) error
	UpdateSighting(ctx context.Context, id int64, u plate.SightingUpdate) error
	CountSightings(ctx context.Context) (int64, error)
}

// DetectionService turns a stream of per-frame observations into deduplicated
// sightings. A new observation of a plate seen within the match window updates
// the open sighting; otherwise a new one is created.
//
// The save-interval watermark is per-service state, so dedup timing is only
// well defined with a single ingestion stream per instance.
type DetectionService struct {
	store     SightingStore
	policy    plate.Policy
	log       zerolog.Logger
	lastSaved time.Time
}

func NewDetectionService(store SightingStore, policy plate.Policy, log zerolog.Logger) *DetectionService {
	if policy.SaveInterval <= 0 {
		policy.SaveInterval = plate.DefaultPolicy().SaveInterval
	}
	if policy.MatchWindow <= 0 {
		policy.MatchWindow = plate.DefaultPolicy().MatchWindow
	}
	return &DetectionService{
		store:  store,
		policy: policy,
		log:    log,
	}
}

// CanSave reports whether the save interval has elapsed since the last
// accepted observation.
func (s *DetectionService) CanSave(now time.Time) bool {
	return now.Sub(s.lastSaved) >= s.policy.SaveInterval
}

// ReconcileIfAllowed applies the global throttle before reconciling. An
// observation arriving inside the save interval is skipped with ErrThrottled;
// callers should treat that as a no-op, not a failure.
func (s *DetectionService) ReconcileIfAllowed(ctx context.Context, obs plate.Observation) (int64, bool, error) {
	now := observedAt(obs)
	if !s.CanSave(now) {
		return 0, false, ErrThrottled
	}
	return s.Reconcile(ctx, obs)
}

// Reconcile adds a new sighting or updates the open one for obs.PlateText.
// It returns the sighting id and whether a new record was created. On store
// failure it returns a sentinel id of -1 with no partial mutation; the
// observation is dropped unless the caller retries.
func (s *DetectionService) Reconcile(ctx context.Context, obs plate.Observation) (int64, bool, error) {
	now := observedAt(obs)
	text := obs.PlateText

	// Callers without OCR text still get a record, under a synthesized
	// placeholder derived from the current row count.
	if text == "" {
		count, err := s.store.CountSightings(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to count sightings for placeholder")
			return -1, false, fmt.Errorf("failed to count sightings: %w", err)
		}
		text = fmt.Sprintf("PLATE_%04d", count+1)
	}

	confidence := round2(obs.Confidence)

	match, err := s.store.FindRecentByText(ctx, text, now.Add(-s.policy.MatchWindow))
	if err != nil {
		s.log.Error().Err(err).Str("plate", text).Msg("failed to look up recent sighting")
		return -1, false, fmt.Errorf("failed to look up recent sighting: %w", err)
	}

	if match != nil {
		update := plate.SightingUpdate{
			DetectionCount: match.DetectionCount + 1,
			Confidence:     confidence,
			Coordinates:    obs.Box,
			LatestLocation: obs.Location,
			LastSeen:       now,
		}
		if confidence > match.BestConfidence {
			update.BestConfidence = &confidence
			box := obs.Box
			update.BestCoordinates = &box
		}

		if err := s.store.UpdateSighting(ctx, match.ID, update); err != nil {
			s.log.Error().
				Err(err).
				Int64("sighting_id", match.ID).
				Str("plate", text).
				Msg("failed to update sighting")
			return -1, false, fmt.Errorf("failed to update sighting: %w", err)
		}

		s.lastSaved = now
		s.log.Info().
			Int64("sighting_id", match.ID).
			Str("plate", text).
			Int("detection_count", update.DetectionCount).
			Float64("confidence", confidence).
			Msg("updated existing sighting")
		return match.ID, false, nil
	}

	box := obs.Box
	sighting := &plate.Sighting{
		PlateText:       text,
		Confidence:      confidence,
		BestConfidence:  confidence,
		Coordinates:     &box,
		BestCoordinates: &box,
		DetectionCount:  1,
		FirstLocation:   obs.Location,
		LatestLocation:  obs.Location,
		Status:          plate.StatusDetected,
		LastSeen:        now,
	}

	if err := s.store.CreateSighting(ctx, sighting); err != nil {
		s.log.Error().Err(err).Str("plate", text).Msg("failed to create sighting")
		return -1, false, fmt.Errorf("failed to create sighting: %w", err)
	}

	s.lastSaved = now
	s.log.Info().
		Int64("sighting_id", sighting.ID).
		Str("plate", text).
		Str("location", obs.Location).
		Float64("confidence", confidence).
		Msg("created new sighting")
	return sighting.ID, true, nil
}

func observedAt(obs plate.Observation) time.Time {
	if obs.ObservedAt.IsZero() {
		return time.Now()
	}
	return obs.ObservedAt
}

// round2 keeps confidences stable for display and best-of comparisons.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
