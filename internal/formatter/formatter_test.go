package formatter

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/shared"
	th "github.com/desertthunder/cadenza/internal/testing"
)

func strPtr(s string) *string { return &s }

func sampleLog() *PracticeLog {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return &PracticeLog{
		UserID: "u1",
		From:   "2024-05-01",
		To:     "2024-05-31",
		Records: []*models.PracticeRecord{
			{
				ID:              "rec1",
				UserID:          "u1",
				PracticeDate:    "2024-05-01",
				DurationMinutes: 45,
				Content:         "scales\nBach prelude, bars 1-16",
				InputMethod:     models.InputTimer,
				CreatedAt:       created,
			},
			{
				ID:              "rec2",
				UserID:          "u1",
				PracticeDate:    "2024-05-01",
				DurationMinutes: 20,
				InputMethod:     models.InputRecording,
				InstrumentID:    strPtr("cello"),
				MediaURL:        strPtr("https://example.com/take1.webm"),
				CreatedAt:       created.Add(time.Hour),
			},
			{
				ID:              "rec3",
				UserID:          "u1",
				PracticeDate:    "2024-05-03",
				DurationMinutes: 90,
				InputMethod:     models.InputManual,
				CreatedAt:       created.Add(48 * time.Hour),
			},
		},
	}
}

func TestExporters(t *testing.T) {
	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(sampleLog())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "Date,Minutes,Instrument,Method,Content,Media URL,ID") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, `2024-05-01,45,,timer,"scales`) {
			t.Errorf("CSV should quote multi-line content, got: %s", output)
		}
		if !strings.Contains(output, "2024-05-01,20,cello,recording,,https://example.com/take1.webm,rec2") {
			t.Errorf("CSV missing instrument row, got: %s", output)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(sampleLog())
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# Practice log: u1",
			"**Range**: 2024-05-01 to 2024-05-31",
			"**Sessions**: 3",
			"**Total**: 2h 35m",
			"## 2024-05-01",
			"- 45m [timer]",
			"  - Bach prelude, bars 1-16",
			"- 20m (cello) [recording]",
			"  - [Recording](https://example.com/take1.webm)",
			"## 2024-05-03",
			"- 1h 30m [manual]",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}

		if strings.Count(output, "## 2024-05-01") != 1 {
			t.Error("each date should get one heading")
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(sampleLog())
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "Total: 2h 35m over 3 sessions") {
			t.Errorf("text missing total, got:\n%s", output)
		}
		if !strings.Contains(output, "2024-05-01    45 min  scales\n") {
			t.Errorf("text should show the first content line only, got:\n%s", output)
		}
		if !strings.Contains(output, "2024-05-01    20 min  cello\n") {
			t.Errorf("text missing instrument, got:\n%s", output)
		}
	})

	t.Run("ExportToYAML", func(t *testing.T) {
		data, err := ExportToYAML(sampleLog())
		if err != nil {
			t.Fatalf("ExportToYAML failed: %v", err)
		}

		var decoded struct {
			UserID  string `yaml:"user_id"`
			Records []struct {
				ID           string `yaml:"id"`
				Minutes      int    `yaml:"duration_minutes"`
				InstrumentID string `yaml:"instrument_id"`
			} `yaml:"records"`
		}
		if err := yaml.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("YAML did not parse: %v\n%s", err, data)
		}
		if decoded.UserID != "u1" || len(decoded.Records) != 3 || decoded.Records[1].InstrumentID != "cello" {
			t.Errorf("unexpected YAML content: %+v", decoded)
		}
		if strings.Contains(string(data), "media_url: null") {
			t.Error("absent media urls should be omitted")
		}
	})

	t.Run("Export Dispatch", func(t *testing.T) {
		data, err := Export(sampleLog(), "json")
		if err != nil {
			t.Fatalf("json export failed: %v", err)
		}

		var decoded PracticeLog
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("JSON did not parse: %v", err)
		}
		if len(decoded.Records) != 3 {
			t.Errorf("expected 3 records, got %d", len(decoded.Records))
		}

		for _, f := range Formats {
			if _, err := Export(sampleLog(), f); err != nil {
				t.Errorf("format %s failed: %v", f, err)
			}
		}

		if _, err := Export(sampleLog(), "xlsx"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("Empty Log", func(t *testing.T) {
		log := &PracticeLog{UserID: "u1"}

		data, err := ExportToMarkdown(log)
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}
		if !strings.Contains(string(data), "**Range**: all time") || !strings.Contains(string(data), "**Total**: 0m") {
			t.Errorf("unexpected empty markdown:\n%s", data)
		}
	})
}

func TestFormatMinutes(t *testing.T) {
	tests := map[int]string{
		0:   "0m",
		45:  "45m",
		60:  "1h 00m",
		65:  "1h 05m",
		155: "2h 35m",
	}
	for in, want := range tests {
		if got := FormatMinutes(in); got != want {
			t.Errorf("FormatMinutes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestExportMonthSummary(t *testing.T) {
	days := map[string]int{
		"2024-05-01": 65,
		"2024-05-03": 90,
		"2024-05-31": 90,
		"2024-06-01": 500,
	}

	data, err := ExportMonthSummary("2024-05", days)
	if err != nil {
		t.Fatalf("ExportMonthSummary failed: %v", err)
	}

	output := string(data)
	if !strings.HasPrefix(output, "May 2024\n") {
		t.Errorf("missing month heading, got:\n%s", output)
	}
	// May 2024 starts on a Wednesday.
	if !strings.Contains(output, "\n"+strings.Repeat(" ", 12)+" 1:65 ") {
		t.Errorf("first day should sit under Wednesday, got:\n%s", output)
	}
	if !strings.Contains(output, "Total: 4h 05m across 3 days") {
		t.Errorf("days outside the month must not count, got:\n%s", output)
	}
	if !strings.Contains(output, "Longest: 2024-05-03, 2024-05-31 (1h 30m)") {
		t.Errorf("missing longest days, got:\n%s", output)
	}

	if _, err := ExportMonthSummary("May", days); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestWriters(t *testing.T) {
	t.Run("WriteCSVExport", func(t *testing.T) {
		t.Run("WithDefaultPath", func(t *testing.T) {
			tempDir := t.TempDir()
			originalDir := th.MustGetwd(t)
			th.MustChdir(t, tempDir)
			defer th.MustChdir(t, originalDir)

			result, err := WriteCSVExport(sampleLog(), "")
			if err != nil {
				t.Fatalf("WriteCSVExport failed: %v", err)
			}

			if result.SessionsFile != "practice_2024-05-01_2024-05-31_sessions.csv" {
				t.Errorf("unexpected sessions file '%s'", result.SessionsFile)
			}
			if result.MetadataFile != "practice_2024-05-01_2024-05-31_metadata.json" {
				t.Errorf("unexpected metadata file '%s'", result.MetadataFile)
			}

			th.AssertFileExists(t, result.SessionsFile)
			th.AssertFileExists(t, result.MetadataFile)

			metadata := th.MustReadFile(t, result.MetadataFile)
			var meta LogMetadata
			if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
				t.Fatalf("metadata did not parse: %v", err)
			}
			if meta.Sessions != 3 || meta.TotalMinutes != 155 || meta.ActiveDays != 2 {
				t.Errorf("unexpected metadata %+v", meta)
			}
		})

		t.Run("WithCustomPath", func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "may")

			result, err := WriteCSVExport(sampleLog(), base)
			if err != nil {
				t.Fatalf("WriteCSVExport failed: %v", err)
			}
			if result.SessionsFile != base+"_sessions.csv" {
				t.Errorf("unexpected sessions file '%s'", result.SessionsFile)
			}
			th.AssertFileExists(t, result.MetadataFile)
		})
	})

	t.Run("WriteExport", func(t *testing.T) {
		dir := t.TempDir()

		files, err := WriteExport(sampleLog(), "markdown", filepath.Join(dir, "nested", "log.md"))
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("expected one file, got %v", files)
		}
		if !strings.Contains(th.MustReadFile(t, files[0]), "# Practice log: u1") {
			t.Error("markdown file has unexpected content")
		}

		files, err = WriteExport(sampleLog(), "csv", filepath.Join(dir, "log.csv"))
		if err != nil {
			t.Fatalf("WriteExport csv failed: %v", err)
		}
		if len(files) != 2 || files[0] != filepath.Join(dir, "log_sessions.csv") {
			t.Errorf("unexpected csv files %v", files)
		}

		t.Run("DefaultName", func(t *testing.T) {
			tempDir := t.TempDir()
			originalDir := th.MustGetwd(t)
			th.MustChdir(t, tempDir)
			defer th.MustChdir(t, originalDir)

			files, err := WriteExport(&PracticeLog{UserID: "u1", From: "2024-05-01"}, "yaml", "")
			if err != nil {
				t.Fatalf("WriteExport failed: %v", err)
			}
			if files[0] != "practice_2024-05-01_now.yaml" {
				t.Errorf("unexpected default name %s", files[0])
			}
		})
	})
}
