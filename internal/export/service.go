package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

const (
	summarySheet = "Summary"
	formsSheet   = "Form Fields"
)

// Service produces XLSX workbooks from stored extraction results.
type Service struct {
	results repository.ResultRepository
	logger  *slog.Logger
}

func NewService(results repository.ResultRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{results: results, logger: logger}
}

// ExportLatestXLSX renders the most recent result for documentRef.
func (s *Service) ExportLatestXLSX(ctx context.Context, documentRef string) ([]byte, error) {
	res, err := s.results.GetLatestResult(ctx, documentRef)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	b, err := ResultXLSX(res)
	if err != nil {
		s.logger.Error("export.xlsx.failed", "document_ref", documentRef, "error", err)
		return nil, err
	}
	s.logger.Info("export.xlsx.ok",
		"document_ref", documentRef,
		"result_id", res.ID,
		"tables", len(res.DetectedTables),
		"form_fields", len(res.DetectedFormFields),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return b, nil
}

// ResultXLSX returns a workbook with a summary sheet, one sheet per detected
// table ("Table 1", "Table 2", ...) and a form-fields sheet when fields exist.
// Spanning cells are merged.
func ResultXLSX(res *entity.ExtractionResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Document", res.DocumentRef},
		{"Result ID", res.ID.String()},
		{"Engine", fmt.Sprintf("%s %s", res.Engine, res.EngineVersion)},
		{"Confidence", res.OverallConfidence},
		{"Needs Review", res.NeedsManualReview},
		{"Review Reason", res.ReviewReason},
		{"Pages", len(res.PageResults)},
		{"Created", res.CreatedAt.UTC().Format(time.RFC3339)},
	}
	for i, kv := range summary {
		row := i + 1
		_ = f.SetCellValue(summarySheet, cellName(1, row), kv[0])
		_ = f.SetCellValue(summarySheet, cellName(2, row), kv[1])
	}
	_ = f.SetCellStyle(summarySheet, "A1", cellName(1, len(summary)), bold)
	_ = f.SetColWidth(summarySheet, "A", "A", 16)
	_ = f.SetColWidth(summarySheet, "B", "B", 60)

	for i, t := range res.DetectedTables {
		if err := writeTable(f, fmt.Sprintf("Table %d", i+1), t, bold); err != nil {
			return nil, err
		}
	}
	if len(res.DetectedFormFields) > 0 {
		if err := writeForms(f, res.DetectedFormFields, bold); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTable(f *excelize.File, sheet string, t entity.Table, bold int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	for r, row := range t.Cells {
		for c, cell := range row {
			_ = f.SetCellValue(sheet, cellName(c+1, r+1), cell.Text)
			if cell.IsHeader {
				_ = f.SetCellStyle(sheet, cellName(c+1, r+1), cellName(c+1, r+1), bold)
			}
			if cell.RowSpan > 1 || cell.ColumnSpan > 1 {
				end := cellName(min(c+cell.ColumnSpan, t.Columns), min(r+cell.RowSpan, t.Rows))
				if err := f.MergeCell(sheet, cellName(c+1, r+1), end); err != nil {
					return err
				}
			}
		}
	}
	if t.Columns > 0 {
		last, _ := excelize.ColumnNumberToName(t.Columns)
		_ = f.SetColWidth(sheet, "A", last, 18)
	}
	return nil
}

func writeForms(f *excelize.File, fields []entity.FormField, bold int) error {
	if _, err := f.NewSheet(formsSheet); err != nil {
		return err
	}
	headers := []string{"Page", "Label", "Value", "Label Confidence", "Value Confidence"}
	for i, h := range headers {
		_ = f.SetCellValue(formsSheet, cellName(i+1, 1), h)
	}
	_ = f.SetCellStyle(formsSheet, "A1", cellName(len(headers), 1), bold)

	for i, fld := range fields {
		row := i + 2
		write := func(col int, v any) {
			_ = f.SetCellValue(formsSheet, cellName(col, row), v)
		}
		write(1, fld.PageNumber)
		write(2, fld.Label)
		if fld.Value != nil {
			write(3, *fld.Value)
		}
		write(4, fld.LabelConfidence)
		if fld.ValueConfidence != nil {
			write(5, *fld.ValueConfidence)
		}
	}
	_ = f.SetColWidth(formsSheet, "B", "C", 32)
	_ = f.SetColWidth(formsSheet, "D", "E", 18)
	return nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
