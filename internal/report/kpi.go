// Package report renders KPI rollups as spreadsheets.
package report

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"taskpulse/internal/domain"
)

const (
	SheetSummary    = "Summary"
	SheetDepartment = "By Department"
	SheetOwner      = "By Owner"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// KPIWorkbook writes the summary and its per-department and per-owner counts
// to an xlsx document.
func KPIWorkbook(sum domain.KPISummary) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6E6FA"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	period := "all dates"
	if sum.DateFrom != "" || sum.DateTo != "" {
		period = fmt.Sprintf("%s .. %s", sum.DateFrom, sum.DateTo)
	}
	summary := [][]any{
		{"Period", period},
		{"Total tasks", sum.Total},
		{"In progress", sum.ByStatus[domain.StatusInProgress]},
		{"Closed", sum.ByStatus[domain.StatusClosed]},
		{"Escalated", sum.Escalated},
		{"Completion rate (%)", sum.CompletionRate},
		{"Escalation rate (%)", sum.EscalationRate},
	}
	sheets := []struct {
		name    string
		headers []string
		rows    [][]any
	}{
		{SheetSummary, []string{"Metric", "Value"}, summary},
		{SheetDepartment, []string{"Department", "Tasks"}, countRows(sum.ByDepartment)},
		{SheetOwner, []string{"Owner", "Tasks"}, countRows(sum.ByOwner)},
	}
	for i, sh := range sheets {
		idx, err := f.NewSheet(sh.name)
		if err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", sh.name, err)
		}
		if i == 0 {
			f.SetActiveSheet(idx)
		}
		if err := writeTable(f, sh.name, sh.headers, sh.rows); err != nil {
			return nil, err
		}
		if err := f.SetRowStyle(sh.name, 1, 1, headerStyle); err != nil {
			return nil, fmt.Errorf("style %s: %w", sh.name, err)
		}
		if err := f.SetColWidth(sh.name, "A", "B", 22); err != nil {
			return nil, fmt.Errorf("width %s: %w", sh.name, err)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return &buf, nil
}

func writeTable(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// countRows sorts by count descending, then key.
func countRows(counts map[string]int) [][]any {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	rows := make([][]any, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []any{k, counts[k]})
	}
	return rows
}
