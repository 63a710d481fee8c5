package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/anamnesis/internal/store"
)

func TestFilenameUsesTimestampAndComplaint(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rep := &Report{ChiefComplaint: "I have a headache, badly", GeneratedAt: at}

	got := rep.Filename()
	want := "medical_report_20260314_092653_I_have_a_headache_badly.pdf"
	if got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}

	rep = &Report{GeneratedAt: at}
	if got := rep.Filename(); got != "medical_report_20260314_092653_symptom_report.pdf" {
		t.Errorf("empty complaint Filename = %q", got)
	}

	long := &Report{ChiefComplaint: "a very long complaint that keeps going well past the limit", GeneratedAt: at}
	name := long.Filename()
	if len(name) > len("medical_report_20260314_092653_")+30+len(".pdf") {
		t.Errorf("slug not truncated: %q", name)
	}
}

func TestParseBodySplitsSections(t *testing.T) {
	t.Parallel()

	body := `Here is the structured report.

## 1. CHIEF COMPLAINT
Severe headache for three days.

2. History of Present Illness:
Started gradually, worse in the morning.
No visual changes reported.

PRELIMINARY DIAGNOSTIC ASSESSMENT
Tension-type headache is most consistent.

**CLINICAL SUMMARY**
Adult patient, three days of headache.

RECOMMENDATIONS FOR FURTHER EVALUATION
See a clinician if symptoms persist.`

	var rep Report
	rep.ParseBody(body)

	if rep.ChiefComplaint != "Severe headache for three days." {
		t.Errorf("ChiefComplaint = %q", rep.ChiefComplaint)
	}
	if rep.History != "Started gradually, worse in the morning.\nNo visual changes reported." {
		t.Errorf("History = %q", rep.History)
	}
	if rep.Assessment != "Tension-type headache is most consistent." {
		t.Errorf("Assessment = %q", rep.Assessment)
	}
	if rep.Summary != "Adult patient, three days of headache." {
		t.Errorf("Summary = %q", rep.Summary)
	}
	if rep.Recommendations != "See a clinician if symptoms persist." {
		t.Errorf("Recommendations = %q", rep.Recommendations)
	}
}

func TestParseBodyWithoutHeadingsFallsBackToSummary(t *testing.T) {
	t.Parallel()

	var rep Report
	rep.ParseBody("just a plain paragraph of findings")
	if rep.Summary != "just a plain paragraph of findings" {
		t.Errorf("Summary = %q", rep.Summary)
	}
	if rep.ChiefComplaint != "" {
		t.Errorf("ChiefComplaint = %q, want empty", rep.ChiefComplaint)
	}
}

func TestRenderWritesPDFArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	re := NewRenderer(dir)
	rep := &Report{
		SessionID:      "sess-1",
		PatientID:      "anon_abc",
		ChiefComplaint: "headache",
		History:        "three days, gradual onset",
		Assessment:     "tension-type most likely",
		Summary:        "otherwise well",
		GeneratedAt:    time.Now(),
	}

	path, err := re.Render(rep)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("artifact written outside renderer dir: %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Errorf("artifact is not a PDF, starts with %q", data[:min(8, len(data))])
	}
	if len(data) < 1000 {
		t.Errorf("artifact suspiciously small: %d bytes", len(data))
	}
}

func TestArchiveStoresCopyAndLedgerRow(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	repo, err := store.NewSQLite(filepath.Join(tmp, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer func() { _ = repo.Close() }()

	rep := &Report{
		SessionID:      "sess-9",
		PatientID:      "anon_xyz",
		ChiefComplaint: "chest tightness",
		GeneratedAt:    time.Now(),
	}
	artifact := filepath.Join(tmp, "work", rep.Filename())
	if err := os.MkdirAll(filepath.Dir(artifact), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(artifact, []byte("%PDF-1.4 test"), 0o644); err != nil {
		t.Fatal(err)
	}

	archiveRoot := filepath.Join(tmp, "archive")
	rec, err := NewArchive(archiveRoot, repo).Store(context.Background(), rep, artifact)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	wantLocation := "patients/anon_xyz/reports/" + rep.Filename()
	if rec.StoredLocation != wantLocation {
		t.Errorf("StoredLocation = %q, want %q", rec.StoredLocation, wantLocation)
	}

	copied := filepath.Join(archiveRoot, "patients", "anon_xyz", "reports", rep.Filename())
	data, err := os.ReadFile(copied)
	if err != nil {
		t.Fatalf("archived copy missing: %v", err)
	}
	if string(data) != "%PDF-1.4 test" {
		t.Errorf("archived copy corrupted: %q", data)
	}

	records, err := repo.ListReportsForPatient(context.Background(), "anon_xyz", 5)
	if err != nil {
		t.Fatalf("ListReportsForPatient failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(records))
	}
	if records[0].SessionID != "sess-9" || records[0].StoredLocation != wantLocation {
		t.Errorf("ledger row mismatch: %+v", records[0])
	}
}
