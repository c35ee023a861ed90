package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alertapp "landslide-cloud/internal/alerts/application"
)

const (
	formatXLSX = "xlsx"
	formatPDF  = "pdf"
)

// BuildReplayPDF renders a replay summary followed by its event table.
func BuildReplayPDF(result *alertapp.ReplayResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("replay export: nil result")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Alert Rule Replay")
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 10)
	summary := []string{
		fmt.Sprintf("Rule: %s v%d", result.RuleID, result.Version),
		fmt.Sprintf("Range: %s - %s", formatTime(result.Start), formatTime(result.End)),
		fmt.Sprintf("Time field: %s", result.TimeField),
		fmt.Sprintf("Sensors: %s", strings.Join(result.SensorKeys, ", ")),
		fmt.Sprintf("Rows: %d  Points: %d  Events: %d", result.Totals.Rows, result.Totals.Points, result.Totals.Events),
	}
	for _, line := range summary {
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 9)
	headers := []string{"Device", "Type", "Time", "Explain"}
	widths := []float64{60, 32, 48, 50}
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, dev := range result.Devices {
		for _, evt := range dev.Events {
			row := []string{dev.DeviceID, string(evt.Type), formatTime(evt.Time()), evt.Explain}
			for i, v := range row {
				pdf.CellFormat(widths[i], 6, v, "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReplayXLSX renders a workbook with a device summary sheet and an
// events sheet carrying the evidence as JSON.
func BuildReplayXLSX(result *alertapp.ReplayResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("replay export: nil result")
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const summarySheet = "Devices"
	const eventsSheet = "Events"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(eventsSheet); err != nil {
		return nil, err
	}

	summaryHeaders := []string{"Device", "Points", "Events"}
	for i, h := range summaryHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(summarySheet, cell, h)
	}
	eventHeaders := []string{"Device", "Type", "Time", "Explain", "Evidence"}
	for i, h := range eventHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(eventsSheet, cell, h)
	}

	eventRow := 2
	for i, dev := range result.Devices {
		row := i + 2
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), dev.DeviceID)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), dev.Points)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), len(dev.Events))

		for _, evt := range dev.Events {
			evidence, err := json.Marshal(evt.Evidence)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(eventsSheet, fmt.Sprintf("A%d", eventRow), dev.DeviceID)
			_ = f.SetCellValue(eventsSheet, fmt.Sprintf("B%d", eventRow), string(evt.Type))
			_ = f.SetCellValue(eventsSheet, fmt.Sprintf("C%d", eventRow), formatTime(evt.Time()))
			_ = f.SetCellValue(eventsSheet, fmt.Sprintf("D%d", eventRow), evt.Explain)
			_ = f.SetCellValue(eventsSheet, fmt.Sprintf("E%d", eventRow), string(evidence))
			eventRow++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
