package validator

import (
	"regexp"
	"strings"

	"lpr-service/internal/domain/plate"
)

// Plate format is two 3-character groups separated by one space: a digit
// group and a letter group in either order. Anything else, including any
// punctuation, is rejected.
var (
	numericAlphaPattern = regexp.MustCompile(`^[0-9]{3} [A-Z]{3}$`)
	alphaNumericPattern = regexp.MustCompile(`^[A-Z]{3} [0-9]{3}$`)
)

// toDigit rewrites letters commonly misread by OCR in the digit group.
var toDigit = map[rune]rune{
	'O': '0',
	'I': '1',
	'S': '5',
	'J': '1',
	'G': '6',
	'B': '8',
	'Z': '2',
	'T': '7',
}

// toLetter rewrites digits commonly misread by OCR in the letter group.
var toLetter = map[rune]rune{
	'0': 'O',
	'1': 'I',
	'5': 'S',
	'4': 'A',
	'6': 'G',
	'8': 'B',
	'2': 'Z',
	'7': 'T',
}

// ValidateAndNormalize decides whether raw plausibly encodes a valid plate
// and returns its canonical form. Rewrite candidates are tried in a fixed
// order and the first one matching the strict format wins, so an input that
// is already valid passes through unchanged.
func ValidateAndNormalize(raw string) plate.ValidationResult {
	clean := strings.ToUpper(strings.TrimSpace(raw))

	if len(clean) < 6 || len(clean) > 7 {
		return plate.ValidationResult{Type: plate.TypeInvalid}
	}

	candidates := []string{
		clean,
		fixSpacing(clean),
		fixConfusions(clean),
		fixConfusions(fixSpacing(clean)),
	}

	for _, candidate := range candidates {
		if t := formatType(candidate); t != plate.TypeInvalid {
			return plate.ValidationResult{
				Valid:      true,
				Normalized: candidate,
				Type:       t,
			}
		}
	}

	return plate.ValidationResult{Type: plate.TypeInvalid}
}

// IsValid reports whether raw can be normalized into a valid plate.
func IsValid(raw string) bool {
	return ValidateAndNormalize(raw).Valid
}

// Normalize returns the canonical plate text, or "" if raw is invalid.
func Normalize(raw string) string {
	return ValidateAndNormalize(raw).Normalized
}

// fixSpacing inserts the group separator into a 6-character unspaced string.
func fixSpacing(text string) string {
	if strings.ContainsRune(text, ' ') || len(text) != 6 {
		return text
	}
	return text[:3] + " " + text[3:]
}

// fixConfusions rewrites the first group toward digits and the second toward
// letters using the confusion maps. It only applies to a two-group candidate
// with 3 characters per group; the rewrite itself is unconditional per
// character, the final candidate still has to pass the strict format check.
func fixConfusions(text string) string {
	parts := strings.Split(text, " ")
	if len(parts) != 2 || len(parts[0]) != 3 || len(parts[1]) != 3 {
		return text
	}

	first := strings.Map(func(r rune) rune {
		if d, ok := toDigit[r]; ok {
			return d
		}
		return r
	}, parts[0])

	second := strings.Map(func(r rune) rune {
		if l, ok := toLetter[r]; ok {
			return l
		}
		return r
	}, parts[1])

	return first + " " + second
}

func formatType(text string) plate.Type {
	switch {
	case numericAlphaPattern.MatchString(text):
		return plate.TypeNumericAlpha
	case alphaNumericPattern.MatchString(text):
		return plate.TypeAlphaNumeric
	default:
		return plate.TypeInvalid
	}
}
