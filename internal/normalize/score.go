package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/seantiz/examlens/internal/model"
)

// DefaultFullScore is used when a table declares no full score for a subject.
const DefaultFullScore = 100.0

// ErrEmptyScore is returned for blank score cells.
var ErrEmptyScore = errors.New("empty score")

// ParseScore parses a raw score cell, reporting whether it carried a % sign.
func ParseScore(raw string) (float64, bool, error) {
	s := strings.TrimSpace(width.Fold.String(raw))
	if s == "" {
		return 0, false, ErrEmptyScore
	}
	percent := strings.Contains(s, "%")
	s = strings.TrimSpace(strings.ReplaceAll(s, "%", ""))
	s = strings.ReplaceAll(s, ",", "")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse score %q: %w", raw, err)
	}
	return v, percent, nil
}

// AbsoluteScore converts a raw score cell into points relative to fullScore.
func AbsoluteScore(raw string, fullScore float64) (float64, error) {
	v, percent, err := ParseScore(raw)
	if err != nil {
		return 0, err
	}
	return model.ScoreToAbsolute(v, percent, fullScore), nil
}

// parseFullScore reads a full-score cell, falling back to DefaultFullScore
// for blank, unparsable or non-positive values.
func parseFullScore(raw string) float64 {
	v, _, err := ParseScore(raw)
	if err != nil || v <= 0 {
		return DefaultFullScore
	}
	return v
}
