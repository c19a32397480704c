package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/aidmate/dispatch/internal/platform/auth"
)

const (
	exportSheet    = "Cases"
	exportPageSize = 500
	XLSXMimeType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var exportHeader = []string{
	"Case ID", "Created", "Status", "Severity", "Patient", "Age", "Gender",
	"Location", "Latitude", "Longitude", "Description", "Paramedic", "Director",
}

var exportWidths = []float64{38, 20, 14, 12, 22, 6, 10, 30, 12, 12, 40, 22, 22}

func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}

func exportRow(c *Case) []any {
	paramedic, director := "", ""
	if c.Paramedic != nil {
		paramedic = c.Paramedic.Name
	}
	if c.Director != nil {
		director = c.Director.Name
	}
	return []any{
		c.ID.String(),
		c.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		string(c.Status),
		string(c.Severity),
		deref(c.PatientName),
		deref(c.PatientAge),
		deref(c.PatientGender),
		c.Location,
		deref(c.Latitude),
		deref(c.Longitude),
		c.Description,
		paramedic,
		director,
	}
}

// ExportCases renders every case as an XLSX workbook, newest first.
func (s *Service) ExportCases(ctx context.Context, actor auth.Actor) ([]byte, error) {
	if err := auth.Authorize(actor, auth.ActionExportCases, auth.Resource{}); err != nil {
		return nil, err
	}

	var all []*Case
	for offset := 0; ; offset += exportPageSize {
		page, total, err := s.cases.List(ctx, exportPageSize, offset)
		if err != nil {
			return nil, repoErr("list cases for export", err)
		}
		all = append(all, page...)
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	data, err := writeWorkbook(all)
	if err != nil {
		return nil, repoErr("write export workbook", err)
	}
	s.logger.Info().Int("cases", len(all)).Str("user_id", actor.ID.String()).Msg("cases exported")
	return data, nil
}

func writeWorkbook(cases []*Case) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FDE2E1"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(exportHeader), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	for i, w := range exportWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(exportSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for i, c := range cases {
		row := exportRow(c)
		if err := f.SetSheetRow(exportSheet, "A"+strconv.Itoa(i+2), &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
