package plate

import (
	"time"
)

type Type string

const (
	TypeNumericAlpha Type = "numeric_alpha"
	TypeAlphaNumeric Type = "alpha_numeric"
	TypeInvalid      Type = "invalid"
)

type Status string

const (
	StatusDetected Status = "detected"
	StatusVerified Status = "verified"
	StatusFlagged  Status = "flagged"
)

type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Observation is a single OCR reading of a plate in one frame. PlateText is
// expected to be already normalized; validation happens on the ingestion side.
type Observation struct {
	PlateText  string      `json:"plate_text"`
	Confidence float64     `json:"confidence"`
	Location   string      `json:"location"`
	Box        BoundingBox `json:"box"`
	ObservedAt time.Time   `json:"observed_at"`
}

type ValidationResult struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized,omitempty"`
	Type       Type   `json:"type"`
}

// Sighting is the deduplicated, time-windowed aggregate of observations of
// one plate text.
type Sighting struct {
	ID              int64        `json:"id"`
	PlateText       string       `json:"plate_text"`
	Confidence      float64      `json:"confidence"`
	BestConfidence  float64      `json:"best_confidence"`
	Coordinates     *BoundingBox `json:"coordinates,omitempty"`
	BestCoordinates *BoundingBox `json:"best_coordinates,omitempty"`
	DetectionCount  int          `json:"detection_count"`
	FirstLocation   string       `json:"first_location"`
	LatestLocation  string       `json:"latest_location"`
	Status          Status       `json:"status"`
	FlagReason      *string      `json:"flag_reason,omitempty"`
	FlaggedAt       *time.Time   `json:"flagged_at,omitempty"`
	VerifiedAt      *time.Time   `json:"verified_at,omitempty"`
	LastSeen        time.Time    `json:"last_seen"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// SightingUpdate describes the fields the reconciler may touch on a matched
// sighting. Best values are pointers: nil means keep the stored best.
type SightingUpdate struct {
	DetectionCount  int
	Confidence      float64
	Coordinates     BoundingBox
	BestConfidence  *float64
	BestCoordinates *BoundingBox
	LatestLocation  string
	LastSeen        time.Time
}

// Policy holds the dedup timing knobs.
type Policy struct {
	SaveInterval time.Duration
	MatchWindow  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		SaveInterval: 3 * time.Second,
		MatchWindow:  10 * time.Minute,
	}
}

type Stats struct {
	Total           int64   `json:"total"`
	TotalDetections int64   `json:"total_detections"`
	Detected        int64   `json:"detected"`
	Verified        int64   `json:"verified"`
	Flagged         int64   `json:"flagged"`
	AvgDetections   float64 `json:"avg_detections"`
}
