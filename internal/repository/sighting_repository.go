package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lpr-service/internal/domain/plate"
)

// ErrRowNotFound is returned by writes that matched no row.
var ErrRowNotFound = errors.New("row not found")

type SightingRepository struct {
	db *gorm.DB
}

func NewSightingRepository(db *gorm.DB) *SightingRepository {
	return &SightingRepository{db: db}
}

type LicensePlate struct {
	ID              int64          `gorm:"primaryKey"`
	PlateText       string         `gorm:"not null;index"`
	Confidence      float64        `gorm:"not null"`
	BestConfidence  float64        `gorm:"not null"`
	Coordinates     datatypes.JSON `gorm:"type:jsonb"`
	BestCoordinates datatypes.JSON `gorm:"type:jsonb"`
	DetectionCount  int            `gorm:"not null"`
	FirstLocation   string         `gorm:"not null"`
	LatestLocation  string         `gorm:"not null"`
	Status          string         `gorm:"not null"`
	FlagReason      *string
	FlaggedAt       *time.Time
	VerifiedAt      *time.Time
	Notes           *string
	LastSeen        time.Time `gorm:"not null;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (LicensePlate) TableName() string {
	return "license_plates"
}

// FindRecentByText returns the most recent sighting of text seen at or after
// since, or nil when there is none.
func (r *SightingRepository) FindRecentByText(ctx context.Context, text string, since time.Time) (*plate.Sighting, error) {
	var row LicensePlate
	err := r.db.WithContext(ctx).
		Where("plate_text = ? AND last_seen >= ?", text, since).
		Order("last_seen DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sighting := toDomain(&row)
	return &sighting, nil
}

func (r *SightingRepository) CreateSighting(ctx context.Context, s *plate.Sighting) error {
	row := LicensePlate{
		PlateText:       s.PlateText,
		Confidence:      s.Confidence,
		BestConfidence:  s.BestConfidence,
		Coordinates:     boxJSON(s.Coordinates),
		BestCoordinates: boxJSON(s.BestCoordinates),
		DetectionCount:  s.DetectionCount,
		FirstLocation:   s.FirstLocation,
		LatestLocation:  s.LatestLocation,
		Status:          string(s.Status),
		LastSeen:        s.LastSeen,
		CreatedAt:       time.Now(),
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}

	s.ID = row.ID
	return nil
}

func (r *SightingRepository) UpdateSighting(ctx context.Context, id int64, u plate.SightingUpdate) error {
	updates := map[string]interface{}{
		"detection_count": u.DetectionCount,
		"confidence":      u.Confidence,
		"coordinates":     boxJSON(&u.Coordinates),
		"latest_location": u.LatestLocation,
		"last_seen":       u.LastSeen,
	}
	if u.BestConfidence != nil {
		updates["best_confidence"] = *u.BestConfidence
	}
	if u.BestCoordinates != nil {
		updates["best_coordinates"] = boxJSON(u.BestCoordinates)
	}

	result := r.db.WithContext(ctx).
		Model(&LicensePlate{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRowNotFound
	}
	return nil
}

func (r *SightingRepository) CountSightings(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&LicensePlate{}).Count(&count).Error
	return count, err
}

func (r *SightingRepository) GetByID(ctx context.Context, id int64) (*plate.Sighting, error) {
	var row LicensePlate
	err := r.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sighting := toDomain(&row)
	return &sighting, nil
}

func (r *SightingRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&LicensePlate{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRowNotFound
	}
	return nil
}

// allowed sort columns for paginated listing
var sortColumns = map[string]string{
	"plate_text":      "plate_text",
	"confidence":      "best_confidence",
	"detection_count": "detection_count",
	"last_seen":       "last_seen",
}

type ListParams struct {
	Page      int
	Limit     int
	Search    string
	SortBy    string
	SortOrder string
}

func (r *SightingRepository) ListPaginated(ctx context.Context, params ListParams) ([]plate.Sighting, int64, error) {
	query := r.db.WithContext(ctx).Model(&LicensePlate{})

	if params.Search != "" {
		term := "%" + params.Search + "%"
		query = query.Where(
			"plate_text LIKE ? OR latest_location LIKE ? OR status LIKE ?",
			term, term, term,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := sortColumns[params.SortBy]
	if !ok {
		column = "last_seen"
	}
	direction := "ASC"
	if params.SortOrder != "asc" {
		direction = "DESC"
	}

	offset := (params.Page - 1) * params.Limit

	var rows []LicensePlate
	err := query.
		Order(column + " " + direction).
		Limit(params.Limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	sightings := make([]plate.Sighting, 0, len(rows))
	for i := range rows {
		sightings = append(sightings, toDomain(&rows[i]))
	}
	return sightings, total, nil
}

func (r *SightingRepository) TodaysSightings(ctx context.Context) ([]plate.Sighting, error) {
	var rows []LicensePlate
	err := r.db.WithContext(ctx).
		Where("last_seen >= CURRENT_DATE").
		Order("last_seen DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	sightings := make([]plate.Sighting, 0, len(rows))
	for i := range rows {
		sightings = append(sightings, toDomain(&rows[i]))
	}
	return sightings, nil
}

func (r *SightingRepository) Stats(ctx context.Context) (*plate.Stats, error) {
	var result struct {
		Total           int64
		TotalDetections int64
		Detected        int64
		Verified        int64
		Flagged         int64
		AvgDetections   float64
	}

	err := r.db.WithContext(ctx).
		Model(&LicensePlate{}).
		Select(`COUNT(*) as total,
			COALESCE(SUM(detection_count), 0) as total_detections,
			COALESCE(SUM(CASE WHEN status = 'detected' THEN 1 ELSE 0 END), 0) as detected,
			COALESCE(SUM(CASE WHEN status = 'verified' THEN 1 ELSE 0 END), 0) as verified,
			COALESCE(SUM(CASE WHEN status = 'flagged' THEN 1 ELSE 0 END), 0) as flagged,
			COALESCE(AVG(detection_count), 0) as avg_detections`).
		Scan(&result).Error
	if err != nil {
		return nil, err
	}

	return &plate.Stats{
		Total:           result.Total,
		TotalDetections: result.TotalDetections,
		Detected:        result.Detected,
		Verified:        result.Verified,
		Flagged:         result.Flagged,
		AvgDetections:   result.AvgDetections,
	}, nil
}

// Flag marks a sighting for operator review.
func (r *SightingRepository) Flag(ctx context.Context, id int64, reason string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":      string(plate.StatusFlagged),
		"flag_reason": reason,
		"flagged_at":  now,
	}
	return r.applyOperatorUpdate(ctx, id, updates)
}

// Verify marks a sighting as verified; a non-empty correctedText overwrites
// the stored plate text.
func (r *SightingRepository) Verify(ctx context.Context, id int64, correctedText string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":      string(plate.StatusVerified),
		"verified_at": now,
	}
	if correctedText != "" {
		updates["plate_text"] = correctedText
	}
	return r.applyOperatorUpdate(ctx, id, updates)
}

func (r *SightingRepository) applyOperatorUpdate(ctx context.Context, id int64, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&LicensePlate{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRowNotFound
	}
	return nil
}

func (r *SightingRepository) DeleteOldSightings(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	result := r.db.WithContext(ctx).
		Where("last_seen < ?", cutoff).
		Delete(&LicensePlate{})
	return result.RowsAffected, result.Error
}

func toDomain(row *LicensePlate) plate.Sighting {
	return plate.Sighting{
		ID:              row.ID,
		PlateText:       row.PlateText,
		Confidence:      row.Confidence,
		BestConfidence:  row.BestConfidence,
		Coordinates:     boxFromJSON(row.Coordinates),
		BestCoordinates: boxFromJSON(row.BestCoordinates),
		DetectionCount:  row.DetectionCount,
		FirstLocation:   row.FirstLocation,
		LatestLocation:  row.LatestLocation,
		Status:          plate.Status(row.Status),
		FlagReason:      row.FlagReason,
		FlaggedAt:       row.FlaggedAt,
		VerifiedAt:      row.VerifiedAt,
		LastSeen:        row.LastSeen,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func boxJSON(box *plate.BoundingBox) datatypes.JSON {
	if box == nil {
		return nil
	}
	data, err := json.Marshal(box)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

func boxFromJSON(data datatypes.JSON) *plate.BoundingBox {
	if len(data) == 0 {
		return nil
	}
	var box plate.BoundingBox
	if err := json.Unmarshal(data, &box); err != nil {
		return nil
	}
	return &box
}
