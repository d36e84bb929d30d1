package darts

import "math"

// Slots is the number of darts in a full turn.
const Slots = 3

// TurnTotal sums the value of every thrown slot.
func TurnTotal(ds [Slots]Dart) int {
	total := 0
	for _, d := range ds {
		total += Value(d)
	}
	return total
}

// ThrownCount counts the thrown slots. A miss counts.
func ThrownCount(ds [Slots]Dart) int {
	n := 0
	for _, d := range ds {
		if d.Thrown() {
			n++
		}
	}
	return n
}

// NextSlot returns the first empty slot, or -1 when the turn is full.
func NextSlot(ds [Slots]Dart) int {
	for i, d := range ds {
		if !d.Thrown() {
			return i
		}
	}
	return -1
}

// LastSlot returns the highest filled slot, or -1 when nothing was thrown.
func LastSlot(ds [Slots]Dart) int {
	for i := Slots - 1; i >= 0; i-- {
		if ds[i].Thrown() {
			return i
		}
	}
	return -1
}

// Average is points per dart rounded to two decimals, 0 without darts.
func Average(totalPoints, totalDarts int) float64 {
	if totalDarts == 0 {
		return 0
	}
	return math.Round(float64(totalPoints)/float64(totalDarts)*100) / 100
}

// LegsToWin is the number of legs that decides a best-of match.
func LegsToWin(bestOf int) int {
	return (bestOf + 1) / 2
}

func HasWonMatch(legsWon, bestOf int) bool {
	return legsWon >= LegsToWin(bestOf)
}
