package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sensor-agent/dataset"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"
)

// ReportFilename is the fixed name of the generated summary PDF.
const ReportFilename = "sensor_report.pdf"

// Interpretations maps canonical sensor columns to the advisory line printed
// under their statistics.
var Interpretations = map[string]string{
	"temperature_one": "Represents the ambient room temperature. Stable values indicate consistent environmental conditions.",
	"temperature_two": "Represents the machine's internal temperature. High values, especially above 38C, may indicate potential overheating risks.",
	"vibration_x":     "Measures vibration in the X direction. Abnormal values suggest potential mechanical issues.",
	"vibration_y":     "Measures vibration in the Y direction. Deviations may indicate misalignment.",
	"vibration_z":     "Measures vibration in the Z direction. High values could indicate operational inefficiencies.",
}

// deviceColumns are checked in order; the first present in the dataset
// triggers per-device grouping.
var deviceColumns = []string{"device_id", "DeviceID", "id", "ID"}

// Generator renders the deterministic statistical summary PDF.
type Generator struct {
	reportDir string
	logger    *zap.Logger
}

func NewGenerator(reportDir string, logger *zap.Logger) *Generator {
	return &Generator{reportDir: reportDir, logger: logger}
}

// Generate writes the summary PDF for the selected columns of the dataset and
// returns the path of the written file. Columns absent from the dataset are
// skipped silently; a device identifier column, when present, switches the
// report to per-device sections.
func (g *Generator) Generate(table *dataset.Table, selected []string) (string, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, cleanText("Sensor Summary Report"), "", 1, "", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.MultiCell(0, 10, cleanText("Report based on selected columns: "+strings.Join(selected, ", ")), "", "", false)

	deviceCol := ""
	for _, col := range deviceColumns {
		if table.HasColumn(col) {
			deviceCol = col
			break
		}
	}

	if deviceCol != "" {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 10, cleanText(fmt.Sprintf("--- Device-wise Analysis by '%s' ---", deviceCol)), "", 1, "", false, 0, "")

		for _, device := range table.DistinctValues(deviceCol) {
			pdf.SetFont("Helvetica", "B", 12)
			pdf.CellFormat(0, 10, cleanText("Device: "+device), "", 1, "", false, 0, "")

			deviceTable := table.FilterByValue(deviceCol, device)
			for _, col := range selected {
				if !deviceTable.HasColumn(col) {
					continue
				}
				g.writeColumnSection(pdf, deviceTable, col, "Report for '%s'")
			}
		}
	} else {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 10, cleanText("--- Column-wise Report (No Device ID found) ---"), "", 1, "", false, 0, "")

		for _, col := range selected {
			if !table.HasColumn(col) {
				continue
			}
			g.writeColumnSection(pdf, table, col, "Report for '%s'")
		}
	}

	if err := os.MkdirAll(g.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	path := filepath.Join(g.reportDir, ReportFilename)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("write report pdf: %w", err)
	}
	g.logger.Info("Report generated",
		zap.String("path", path),
		zap.Strings("columns", selected))
	return path, nil
}

func (g *Generator) writeColumnSection(pdf *fpdf.Fpdf, table *dataset.Table, col, heading string) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 10, cleanText(fmt.Sprintf(heading, col)), "", 1, "", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	values := table.NumericColumn(col)
	if len(values) == 0 {
		pdf.MultiCell(0, 8, "No data available for this column.", "", "", false)
		return
	}

	pdf.MultiCell(0, 8, cleanText(formatStats(col, Compute(values))), "", "", false)

	interpretation, ok := Interpretations[col]
	if !ok {
		interpretation = "No interpretation available."
	}
	pdf.SetTextColor(100, 100, 100)
	pdf.MultiCell(0, 8, cleanText("Insight: "+interpretation), "", "", false)
	pdf.SetTextColor(0, 0, 0)
}

func formatStats(name string, s ColumnStats) string {
	mode := "N/A"
	if s.HasMode {
		mode = formatNumber(s.Mode)
	}
	return fmt.Sprintf(`%s:
Maximum: %sC, Minimum: %sC, Average: %sC
Mean: %sC, Mode: %sC
Trend: %s (strength: %s%%)
`,
		name,
		formatNumber(s.Max), formatNumber(s.Min), formatNumber(s.Average),
		formatNumber(s.Mean), mode,
		s.TrendDirection, formatNumber(s.TrendStrength))
}

// formatNumber prints a value rounded to two decimals without trailing zeros.
func formatNumber(v float64) string {
	out := fmt.Sprintf("%.2f", v)
	out = strings.TrimRight(out, "0")
	return strings.TrimSuffix(out, ".")
}

// cleanText strips non-ASCII characters so every string survives the PDF
// core-font encoding.
func cleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
