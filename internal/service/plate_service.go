package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"lpr-service/internal/domain/plate"
	"lpr-service/internal/repository"
	"lpr-service/internal/validator"
)

// PlateService serves the read and operator sides of the sighting table:
// listing, search, stats, and the explicit verify/flag/delete transitions.
type PlateService struct {
	repo *repository.SightingRepository
	log  zerolog.Logger
}

func NewPlateService(repo *repository.SightingRepository, log zerolog.Logger) *PlateService {
	return &PlateService{
		repo: repo,
		log:  log,
	}
}

type PageResult struct {
	Items      []plate.Sighting `json:"items"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalItems int64            `json:"total_items"`
	TotalPages int              `json:"total_pages"`
	HasNext    bool             `json:"has_next"`
	HasPrev    bool             `json:"has_prev"`
}

func (s *PlateService) List(ctx context.Context, params repository.ListParams) (*PageResult, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Limit <= 0 {
		params.Limit = 20
	}
	if params.Limit > 100 {
		params.Limit = 100
	}

	items, total, err := s.repo.ListPaginated(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list sightings: %w", err)
	}

	totalPages := int((total + int64(params.Limit) - 1) / int64(params.Limit))

	return &PageResult{
		Items:      items,
		Page:       params.Page,
		Limit:      params.Limit,
		TotalItems: total,
		TotalPages: totalPages,
		HasNext:    params.Page < totalPages,
		HasPrev:    params.Page > 1,
	}, nil
}

func (s *PlateService) Get(ctx context.Context, id int64) (*plate.Sighting, error) {
	sighting, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get sighting: %w", err)
	}
	if sighting == nil {
		return nil, fmt.Errorf("%w: sighting %d", ErrNotFound, id)
	}
	return sighting, nil
}

func (s *PlateService) Today(ctx context.Context) ([]plate.Sighting, error) {
	sightings, err := s.repo.TodaysSightings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get today's sightings: %w", err)
	}
	return sightings, nil
}

func (s *PlateService) Stats(ctx context.Context) (*plate.Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sighting stats: %w", err)
	}
	return stats, nil
}

// Verify marks a sighting as operator-verified. A non-empty correctedText
// must itself be a valid plate and replaces the stored text.
func (s *PlateService) Verify(ctx context.Context, id int64, correctedText string) error {
	normalized := ""
	if correctedText != "" {
		res := validator.ValidateAndNormalize(correctedText)
		if !res.Valid {
			return fmt.Errorf("%w: %q is not a valid plate", ErrInvalidInput, correctedText)
		}
		normalized = res.Normalized
	}

	if err := s.repo.Verify(ctx, id, normalized); err != nil {
		return s.wrapRepoErr(err, "verify", id)
	}

	s.log.Info().Int64("sighting_id", id).Str("corrected_text", normalized).Msg("sighting verified")
	return nil
}

func (s *PlateService) Flag(ctx context.Context, id int64, reason string) error {
	if err := s.repo.Flag(ctx, id, reason); err != nil {
		return s.wrapRepoErr(err, "flag", id)
	}

	s.log.Info().Int64("sighting_id", id).Str("reason", reason).Msg("sighting flagged")
	return nil
}

func (s *PlateService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.wrapRepoErr(err, "delete", id)
	}

	s.log.Info().Int64("sighting_id", id).Msg("sighting deleted")
	return nil
}

// CleanupOldSightings removes sightings not seen for the given number of days.
func (s *PlateService) CleanupOldSightings(ctx context.Context, days int) (int64, error) {
	deleted, err := s.repo.DeleteOldSightings(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old sightings")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old sightings")
	}
	return deleted, nil
}

func (s *PlateService) wrapRepoErr(err error, op string, id int64) error {
	if errors.Is(err, repository.ErrRowNotFound) {
		return fmt.Errorf("%w: sighting %d", ErrNotFound, id)
	}
	return fmt.Errorf("failed to %s sighting %d: %w", op, id, err)
}
