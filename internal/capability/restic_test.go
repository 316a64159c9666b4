package capability

import (
	"strings"
	"testing"
)

func TestParseRestoreSummary(t *testing.T) {
	output := `{"message_type":"status","percent_done":0.5}
{"message_type":"status","percent_done":1}
{"message_type":"summary","total_files":1234,"files_restored":1234,"total_bytes":987654321,"bytes_restored":987654321}`

	summary, ok := parseRestoreSummary(output)
	if !ok {
		t.Fatal("summary line was not found")
	}
	if summary.FilesRestored != 1234 {
		t.Errorf("files_restored = %d, want 1234", summary.FilesRestored)
	}
	if summary.BytesRestored != 987654321 {
		t.Errorf("bytes_restored = %d, want 987654321", summary.BytesRestored)
	}
}

func TestParseRestoreSummary_NoSummaryLine(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"empty output", ""},
		{"status lines only", `{"message_type":"status","percent_done":1}`},
		{"non-json noise", "warning: something\nrestored."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parseRestoreSummary(tt.output); ok {
				t.Error("found a summary in output without one")
			}
		})
	}
}

func TestTail(t *testing.T) {
	output := "a\nb\nc\nd\ne"

	if got := tail(output, 2); got != "d\ne" {
		t.Errorf("tail(2) = %q, want last two lines", got)
	}
	if got := tail(output, 10); got != output {
		t.Errorf("tail(10) = %q, want full output", got)
	}
	if got := tail("single", 3); got != "single" {
		t.Errorf("tail = %q", got)
	}
	if got := tail(output, 5); strings.Count(got, "\n") != 4 {
		t.Errorf("tail(5) dropped lines: %q", got)
	}
}
