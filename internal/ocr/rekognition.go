package ocr

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/rs/zerolog"

	"lpr-service/internal/validator"
)

// ErrNoPlateFound means the image produced no text that validates as a plate.
var ErrNoPlateFound = errors.New("no plate found in image")

// RekognitionReader extracts plate text from an image using AWS Rekognition
// DetectText. Among the detected lines and words, it returns the
// highest-confidence candidate the plate validator accepts.
type RekognitionReader struct {
	client *rekognition.Client
	log    zerolog.Logger
}

func NewRekognitionReader(client *rekognition.Client, log zerolog.Logger) *RekognitionReader {
	return &RekognitionReader{
		client: client,
		log:    log,
	}
}

// ReadPlate returns the normalized plate text and a confidence in [0,1].
func (r *RekognitionReader) ReadPlate(ctx context.Context, imageBytes []byte) (string, float64, error) {
	input := &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: imageBytes},
	}

	result, err := r.client.DetectText(ctx, input)
	if err != nil {
		return "", 0, fmt.Errorf("rekognition detect text: %w", err)
	}

	var bestText string
	var bestConfidence float64

	for _, detection := range result.TextDetections {
		if detection.Type != types.TextTypesLine && detection.Type != types.TextTypesWord {
			continue
		}
		if detection.DetectedText == nil || detection.Confidence == nil {
			continue
		}

		res := validator.ValidateAndNormalize(*detection.DetectedText)
		if !res.Valid {
			continue
		}

		confidence := float64(*detection.Confidence) / 100
		if confidence > bestConfidence {
			bestConfidence = confidence
			bestText = res.Normalized
		}
	}

	if bestText == "" {
		r.log.Debug().Int("text_blocks", len(result.TextDetections)).Msg("no valid plate among detected text")
		return "", 0, ErrNoPlateFound
	}

	r.log.Debug().
		Str("plate", bestText).
		Float64("confidence", bestConfidence).
		Msg("plate extracted from image")
	return bestText, bestConfidence, nil
}
