package game

import (
	"fmt"
	"strings"

	"github.com/marekcieslar/dart/internal/darts"
)

// dartColumns is the row form of a turn's three slots: a kind per slot
// plus score and multiplier that are NULL unless the slot is a hit.
type dartColumns struct {
	kind       [darts.Slots]int
	score      [darts.Slots]*int
	multiplier [darts.Slots]*int
}

func (c *dartColumns) targets() []any {
	out := make([]any, 0, 3*darts.Slots)
	for i := 0; i < darts.Slots; i++ {
		out = append(out, &c.kind[i], &c.score[i], &c.multiplier[i])
	}
	return out
}

func (c *dartColumns) decode() ([darts.Slots]darts.Dart, error) {
	var ds [darts.Slots]darts.Dart
	for i := 0; i < darts.Slots; i++ {
		switch darts.Kind(c.kind[i]) {
		case darts.NotThrown:
		case darts.Miss:
			ds[i] = darts.MissDart()
		case darts.Hit:
			if c.score[i] == nil || c.multiplier[i] == nil {
				return ds, fmt.Errorf("dart %d is a hit without score", i+1)
			}
			ds[i] = darts.HitDart(*c.score[i], *c.multiplier[i])
		default:
			return ds, fmt.Errorf("dart %d has unknown kind %d", i+1, c.kind[i])
		}
	}
	return ds, nil
}

func encodeDarts(ds [darts.Slots]darts.Dart) []any {
	out := make([]any, 0, 3*darts.Slots)
	for _, d := range ds {
		if d.Kind == darts.Hit {
			score, multiplier := d.Score, d.Multiplier
			out = append(out, int(d.Kind), &score, &multiplier)
			continue
		}
		out = append(out, int(d.Kind), (*int)(nil), (*int)(nil))
	}
	return out
}

var turnColumnNames = []string{
	"id", "leg_id", "player_id", "turn_number",
	"dart1_kind", "dart1_score", "dart1_multiplier",
	"dart2_kind", "dart2_score", "dart2_multiplier",
	"dart3_kind", "dart3_score", "dart3_multiplier",
	"remaining_before", "remaining_after", "total_score", "is_bust", "created_at",
}

// turnColumns lists the turn columns qualified by a table alias, in the
// order scanTurn expects.
func turnColumns(alias string) string {
	qualified := make([]string, len(turnColumnNames))
	for i, name := range turnColumnNames {
		qualified[i] = alias + "." + name
	}
	return strings.Join(qualified, ", ")
}
