// Package darts holds the pure scoring rules of a single dart and a turn.
package darts

import (
	"errors"
	"strconv"
)

const (
	// Bull is the score of the centre target.
	Bull = 25
	// MaxSegment is the highest numbered board segment.
	MaxSegment = 20
)

var (
	ErrInvalidScore      = errors.New("invalid dart score")
	ErrInvalidMultiplier = errors.New("invalid multiplier (must be 1, 2, or 3)")
	ErrBullTripled       = errors.New("bull cannot be tripled")
)

// Kind tells apart an empty slot, a miss and a scoring hit.
type Kind uint8

const (
	NotThrown Kind = iota
	Miss
	Hit
)

// Dart is one slot of a turn.
type Dart struct {
	Kind       Kind
	Score      int
	Multiplier int
}

// MissDart returns a thrown dart that scored nothing.
func MissDart() Dart {
	return Dart{Kind: Miss}
}

// HitDart returns a scoring dart. It does not validate.
func HitDart(score, multiplier int) Dart {
	return Dart{Kind: Hit, Score: score, Multiplier: multiplier}
}

// Thrown reports whether the slot holds a dart, including a miss.
func (d Dart) Thrown() bool {
	return d.Kind != NotThrown
}

// Validate checks a (score, multiplier) pair of a hit.
func Validate(score, multiplier int) error {
	if !validScore(score) {
		return ErrInvalidScore
	}
	if !validMultiplier(multiplier) {
		return ErrInvalidMultiplier
	}
	if score == Bull && multiplier == 3 {
		return ErrBullTripled
	}
	return nil
}

// NewThrow validates input from a console. A nil score is a miss; the
// multiplier selected on the console must still be in range.
func NewThrow(score *int, multiplier int) (Dart, error) {
	if score == nil {
		if !validMultiplier(multiplier) {
			return Dart{}, ErrInvalidMultiplier
		}
		return MissDart(), nil
	}
	if err := Validate(*score, multiplier); err != nil {
		return Dart{}, err
	}
	return HitDart(*score, multiplier), nil
}

func validScore(score int) bool {
	return (score >= 0 && score <= MaxSegment) || score == Bull
}

func validMultiplier(multiplier int) bool {
	return multiplier >= 1 && multiplier <= 3
}

// Value is the points the dart scored.
func Value(d Dart) int {
	if d.Kind != Hit {
		return 0
	}
	return d.Score * d.Multiplier
}

// Format renders a dart the way a scoreboard shows it: T20, D10, 5, BULL, MISS.
func Format(d Dart) string {
	switch d.Kind {
	case NotThrown:
		return ""
	case Miss:
		return "MISS"
	}
	if d.Score == Bull {
		if d.Multiplier == 2 {
			return "BULL"
		}
		return "25"
	}
	switch d.Multiplier {
	case 3:
		return "T" + strconv.Itoa(d.Score)
	case 2:
		return "D" + strconv.Itoa(d.Score)
	default:
		return strconv.Itoa(d.Score)
	}
}
