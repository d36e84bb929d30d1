package game

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/marekcieslar/dart/internal/darts"
)

const summarySheet = "Summary"

// Scoresheet renders the whole match as an xlsx workbook: a summary sheet
// and one sheet per leg listing its turns.
func (s *Service) Scoresheet(ctx context.Context, matchID string) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "game.Scoresheet")
	defer span.End()

	var h *history
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		h, err = s.read(ctx, tx, matchID)
		return err
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	out, err := h.scoresheet()
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("render scoresheet: %w", err)
	}
	return out, nil
}

func (h *history) scoresheet() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	m := h.match
	meta := [][]any{
		{"Match", m.ID},
		{"Type", int(m.Type)},
		{"Best of", m.BestOf},
		{"Status", string(m.Status)},
		{"Created", m.CreatedAt.Format("2006-01-02 15:04")},
	}
	for i, row := range meta {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return nil, err
		}
	}

	header := len(meta) + 2
	if err := setRow(f, summarySheet, header, []any{"Player", "Legs won", "Average"}); err != nil {
		return nil, err
	}
	for i, p := range h.players {
		row := []any{p.Name, p.LegsWon, playerAverage(h.turns, p.ID)}
		if err := setRow(f, summarySheet, header+1+i, row); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 20)
	_ = f.SetColWidth(summarySheet, "B", "B", 38)
	_ = f.SetColWidth(summarySheet, "C", "C", 12)

	for _, leg := range h.legs {
		if err := h.legSheet(f, leg); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *history) legSheet(f *excelize.File, leg Leg) error {
	sheet := fmt.Sprintf("Leg %d", leg.Number)
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []any{"Turn", "Player", "Dart 1", "Dart 2", "Dart 3", "Total", "Remaining", "Bust"}
	if err := setRow(f, sheet, 1, headers); err != nil {
		return err
	}

	row := 2
	for _, t := range turnsInLeg(h.turns, leg.ID) {
		name := ""
		if p, ok := playerByID(h.players, t.PlayerID); ok {
			name = p.Name
		}
		total := any("")
		if t.Total != nil {
			total = *t.Total
		}
		bust := ""
		if t.Bust {
			bust = "BUST"
		}
		values := []any{t.Number, name}
		for _, d := range t.Darts {
			values = append(values, darts.Format(d))
		}
		values = append(values, total, t.RemainingAfter, bust)
		if err := setRow(f, sheet, row, values); err != nil {
			return err
		}
		row++
	}

	if leg.WinnerID != nil {
		if p, ok := playerByID(h.players, *leg.WinnerID); ok {
			if err := setRow(f, sheet, row+1, []any{"Winner", p.Name}); err != nil {
				return err
			}
		}
	}

	_ = f.SetColWidth(sheet, "B", "B", 20)
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}
