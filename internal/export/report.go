package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docbatch/internal/batch"
)

const reportSheet = "Jobs"

// Service produces XLSX run reports.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// RunReportXLSX returns a workbook (as bytes) with one row per job of sum.
func (s *Service) RunReportXLSX(sum batch.Summary) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if index, _ := f.GetSheetIndex(reportSheet); index == -1 {
		if _, err := f.NewSheet(reportSheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(reportSheet)
	f.SetActiveSheet(activeIndex)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"Row",
		"Token",
		"Status",
		"Artifact",
		"Duration (ms)",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(reportSheet, cell, h)
	}

	row := 2
	for _, r := range sum.Results {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(reportSheet, cell, v)
		}
		write(1, r.Row)
		write(2, r.Token)
		write(3, string(r.Status))
		write(4, r.ArtifactPath)
		write(5, r.Duration().Milliseconds())
		if r.Err != nil {
			write(6, truncate(r.Err.Error(), 300))
		} else {
			write(6, "")
		}
		row++
	}

	// Totals under the job rows
	row++
	totals := [][2]any{
		{"Run", sum.RunID},
		{"Processed", sum.Processed},
		{"Succeeded", sum.Succeeded},
		{"Failed", sum.Failed},
		{"Elapsed (s)", fmt.Sprintf("%.1f", sum.Elapsed.Seconds())},
	}
	for _, kv := range totals {
		a, _ := excelize.CoordinatesToCellName(1, row)
		b, _ := excelize.CoordinatesToCellName(2, row)
		_ = f.SetCellValue(reportSheet, a, kv[0])
		_ = f.SetCellValue(reportSheet, b, kv[1])
		row++
	}

	_ = f.SetColWidth(reportSheet, "A", "A", 8)  // row
	_ = f.SetColWidth(reportSheet, "B", "B", 36) // token
	_ = f.SetColWidth(reportSheet, "C", "C", 16) // status
	_ = f.SetColWidth(reportSheet, "D", "D", 60) // artifact
	_ = f.SetColWidth(reportSheet, "E", "E", 14) // duration
	_ = f.SetColWidth(reportSheet, "F", "F", 80) // error

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"run_id", sum.RunID,
		"rows", len(sum.Results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// WriteRunReport writes the report for sum to path.
func (s *Service) WriteRunReport(path string, sum batch.Summary) error {
	data, err := s.RunReportXLSX(sum)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
