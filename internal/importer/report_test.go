package importer

import (
	"strings"
	"testing"

	"github.com/meridianbank/ledger-service/internal/domain"
)

func TestWriteFailureReport(t *testing.T) {
	result := domain.BatchResult{
		SuccessCount: 1,
		FailedCount:  2,
		Records: []domain.RecordOutcome{
			{RowID: 0, Email: "ok@example.com", Success: true},
			{RowID: 1, Email: "fail@example.com", Error: "Insufficient funds"},
			{RowID: 2, Email: "other@example.com", Error: "User not found, account closed"},
		},
	}

	var out strings.Builder
	if err := WriteFailureReport(&out, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 failed rows, got %d lines: %q", len(lines), out.String())
	}
	if lines[0] != "Row,Email,Error" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if lines[1] != "1,fail@example.com,Insufficient funds" {
		t.Fatalf("unexpected first failed row: %q", lines[1])
	}
	// Errors containing commas must round-trip as a single quoted field.
	if lines[2] != `2,other@example.com,"User not found, account closed"` {
		t.Fatalf("unexpected quoted row: %q", lines[2])
	}
}

func TestWriteFailureReportEmptyResult(t *testing.T) {
	var out strings.Builder
	if err := WriteFailureReport(&out, domain.BatchResult{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "Row,Email,Error" {
		t.Fatalf("expected header only, got %q", out.String())
	}
}

func TestTemplateCSV(t *testing.T) {
	template := TemplateCSV()
	if !strings.HasPrefix(template, "Email Address,Amount,Description\n") {
		t.Fatalf("template must start with the canonical header, got %q", template)
	}
	if !strings.Contains(template, "user@example.com") {
		t.Fatalf("template must include an example row, got %q", template)
	}
}
