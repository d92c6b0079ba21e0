// package formatter provides functions to export practice logs to various formats (CSV, Markdown, plain text, JSON, YAML)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/shared"
)

// Formats lists the supported export formats.
var Formats = []string{"json", "yaml", "csv", "markdown", "txt"}

// PracticeLog is a user's practice records over a date range, as exported.
type PracticeLog struct {
	UserID  string                   `json:"user_id" yaml:"user_id"`
	From    string                   `json:"from,omitempty" yaml:"from,omitempty"`
	To      string                   `json:"to,omitempty" yaml:"to,omitempty"`
	Records []*models.PracticeRecord `json:"records" yaml:"records"`
}

// TotalMinutes sums every record in the log.
func (l *PracticeLog) TotalMinutes() int {
	total := 0
	for _, r := range l.Records {
		total += r.DurationMinutes
	}
	return total
}

// Range describes the log's date range for headings.
func (l *PracticeLog) Range() string {
	switch {
	case l.From == "" && l.To == "":
		return "all time"
	case l.From == "":
		return "through " + l.To
	case l.To == "":
		return "since " + l.From
	default:
		return l.From + " to " + l.To
	}
}

// FormatMinutes renders a minute count as "1h 05m", or "45m" under an hour.
func FormatMinutes(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %02dm", minutes/60, minutes%60)
}

// Export renders log in format.
func Export(log *PracticeLog, format string) ([]byte, error) {
	switch format {
	case "csv":
		return ExportToCSV(log)
	case "markdown", "md":
		return ExportToMarkdown(log)
	case "txt", "text":
		return ExportToText(log)
	case "yaml", "yml":
		return ExportToYAML(log)
	case "json", "":
		return shared.MarshalJSON(log, true)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q (want one of %s)", shared.ErrInvalidArgument, format, strings.Join(Formats, ", "))
	}
}

// Extension returns the file extension for format.
func Extension(format string) string {
	switch format {
	case "markdown", "md":
		return "md"
	case "txt", "text":
		return "txt"
	case "yaml", "yml":
		return "yaml"
	case "csv":
		return "csv"
	default:
		return "json"
	}
}

// ExportToCSV converts a PracticeLog to CSV format with columns: Date, Minutes, Instrument, Method, Content, Media URL, ID
func ExportToCSV(log *PracticeLog) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Date", "Minutes", "Instrument", "Method", "Content", "Media URL", "ID"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, r := range log.Records {
		media := ""
		if r.MediaURL != nil {
			media = *r.MediaURL
		}
		record := []string{
			r.PracticeDate,
			strconv.Itoa(r.DurationMinutes),
			r.Instrument(),
			string(r.InputMethod),
			r.Content,
			media,
			r.ID,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a PracticeLog to Markdown, one section per date.
func ExportToMarkdown(log *PracticeLog) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Practice log: %s\n\n", log.UserID)
	fmt.Fprintf(&buf, "**Range**: %s\n", log.Range())
	fmt.Fprintf(&buf, "**Sessions**: %d\n", len(log.Records))
	fmt.Fprintf(&buf, "**Total**: %s\n", FormatMinutes(log.TotalMinutes()))

	date := ""
	for _, r := range log.Records {
		if r.PracticeDate != date {
			date = r.PracticeDate
			fmt.Fprintf(&buf, "\n## %s\n\n", date)
		}

		instrument := ""
		if r.Instrument() != "" {
			instrument = fmt.Sprintf(" (%s)", r.Instrument())
		}
		fmt.Fprintf(&buf, "- %s%s [%s]\n", FormatMinutes(r.DurationMinutes), instrument, r.InputMethod)

		for _, line := range strings.Split(r.Content, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				fmt.Fprintf(&buf, "  - %s\n", line)
			}
		}
		if r.MediaURL != nil && *r.MediaURL != "" {
			fmt.Fprintf(&buf, "  - [Recording](%s)\n", *r.MediaURL)
		}
	}

	return buf.Bytes(), nil
}

// ExportToText converts a PracticeLog to plain text format
func ExportToText(log *PracticeLog) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Practice log: %s\n", log.UserID)
	fmt.Fprintf(&buf, "Range: %s\n", log.Range())
	fmt.Fprintf(&buf, "Total: %s over %d sessions\n\n", FormatMinutes(log.TotalMinutes()), len(log.Records))

	for _, r := range log.Records {
		line := fmt.Sprintf("%s  %4d min", r.PracticeDate, r.DurationMinutes)
		if r.Instrument() != "" {
			line += "  " + r.Instrument()
		}
		if first, _, _ := strings.Cut(r.Content, "\n"); first != "" {
			line += "  " + first
		}
		buf.WriteString(line + "\n")
	}

	return buf.Bytes(), nil
}

// ExportToYAML converts a PracticeLog to YAML.
func ExportToYAML(log *PracticeLog) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(log); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// LogMetadata is the summary written next to a CSV export.
type LogMetadata struct {
	UserID       string `json:"user_id"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
	Sessions     int    `json:"sessions"`
	TotalMinutes int    `json:"total_minutes"`
	ActiveDays   int    `json:"active_days"`
}

// ToMetadataJSON generates a JSON summary of log (without records)
func ToMetadataJSON(log *PracticeLog) ([]byte, error) {
	days := make(map[string]bool)
	for _, r := range log.Records {
		days[r.PracticeDate] = true
	}
	return shared.MarshalJSON(LogMetadata{
		UserID:       log.UserID,
		From:         log.From,
		To:           log.To,
		Sessions:     len(log.Records),
		TotalMinutes: log.TotalMinutes(),
		ActiveDays:   len(days),
	}, true)
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	SessionsFile string
	MetadataFile string
}

// WriteCSVExport exports a practice log to CSV format with accompanying metadata JSON file.
//
// Creates {base}_sessions.csv and {base}_metadata.json. The base defaults to [DefaultBaseName].
func WriteCSVExport(log *PracticeLog, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = DefaultBaseName(log)
	}

	csvData, err := ExportToCSV(log)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	sessionsFile := baseFilepath + "_sessions.csv"
	if err := os.WriteFile(sessionsFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	metadataJSON, err := ToMetadataJSON(log)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}

	metadataFile := baseFilepath + "_metadata.json"
	if err := os.WriteFile(metadataFile, metadataJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	return &CSVExportResult{
		SessionsFile: sessionsFile,
		MetadataFile: metadataFile,
	}, nil
}

// WriteExport writes log to path in format and returns the files created.
//
// CSV exports produce a sessions file and a metadata file, with path used as the base name.
// An empty path uses [DefaultBaseName] plus the format's extension.
func WriteExport(log *PracticeLog, format, path string) ([]string, error) {
	if format == "csv" {
		res, err := WriteCSVExport(log, strings.TrimSuffix(path, ".csv"))
		if err != nil {
			return nil, err
		}
		return []string{res.SessionsFile, res.MetadataFile}, nil
	}

	data, err := Export(log, format)
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultBaseName(log) + "." + Extension(format)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s export: %w", format, err)
	}
	return []string{path}, nil
}

// DefaultBaseName names export files after the log's range, e.g. practice_2024-05-01_2024-05-31.
func DefaultBaseName(log *PracticeLog) string {
	from, to := log.From, log.To
	if from == "" {
		from = "start"
	}
	if to == "" {
		to = "now"
	}
	return fmt.Sprintf("practice_%s_%s", from, to)
}

// ExportMonthSummary renders per-day totals for a month as a Monday-first calendar grid.
//
// days maps YYYY-MM-DD to minutes; days outside month are ignored.
func ExportMonthSummary(month string, days map[string]int) ([]byte, error) {
	start, err := time.ParseInLocation("2006-01", month, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: month %q must be YYYY-MM", shared.ErrInvalidInput, month)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n\n", start.Format("January 2006"))
	buf.WriteString("  Mon   Tue   Wed   Thu   Fri   Sat   Sun\n")

	offset := (int(start.Weekday()) + 6) % 7
	buf.WriteString(strings.Repeat("      ", offset))

	total, active := 0, 0
	for d := start; d.Month() == start.Month(); d = d.AddDate(0, 0, 1) {
		minutes := days[shared.LocalDate(d)]
		total += minutes
		if minutes > 0 {
			active++
		}

		cell := fmt.Sprintf("%2d", d.Day())
		if minutes > 0 {
			cell += fmt.Sprintf(":%-3d", min(minutes, 999))
		} else {
			cell += "    "
		}
		buf.WriteString(cell)

		if d.Weekday() == time.Sunday {
			buf.WriteString("\n")
		}
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		buf.WriteString("\n")
	}

	fmt.Fprintf(&buf, "\nTotal: %s across %d days\n", FormatMinutes(total), active)

	if longest := longestDays(days, month); len(longest) > 0 {
		fmt.Fprintf(&buf, "Longest: %s (%s)\n", strings.Join(longest, ", "), FormatMinutes(days[longest[0]]))
	}
	return buf.Bytes(), nil
}

func longestDays(days map[string]int, month string) []string {
	best := 0
	var out []string
	for d, m := range days {
		if !strings.HasPrefix(d, month+"-") || m <= 0 {
			continue
		}
		switch {
		case m > best:
			best, out = m, []string{d}
		case m == best:
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out
}
