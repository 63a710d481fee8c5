package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
)

// Fallback texts for sections the writer left empty.
const (
	noChiefComplaint = "No chief complaint recorded."
	noHistory        = "No detailed history recorded."
	noAssessment     = "No diagnostic assessment available."
	noSummary        = "Limited clinical information available for summary."
)

var defaultRecommendations = []string{
	"Complete physical examination by qualified healthcare provider",
	"Detailed medical history review",
	"Consider relevant diagnostic tests based on clinical presentation",
	"Follow-up as clinically indicated",
	"Patient should seek immediate medical attention if symptoms worsen",
}

var importantNotes = []string{
	"This report is generated from an AI-assisted patient interview",
	"Information should be verified during clinical examination",
	"This report does not constitute medical diagnosis or treatment",
	"Healthcare provider discretion is essential for patient care decisions",
}

// Renderer writes reports as PDF files into a working directory.
type Renderer struct {
	dir string
}

// NewRenderer creates a renderer that writes artifacts into dir.
func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: dir}
}

// Render produces the PDF artifact for a report and returns its path.
func (re *Renderer) Render(rep *Report) (string, error) {
	if err := os.MkdirAll(re.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Medical Symptom Report", false)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	// Core fonts are cp1252; translate whatever the writer produced.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(0, 0, 139)
	pdf.CellFormat(0, 12, "MEDICAL SYMPTOM REPORT", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	infoRow := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFillColor(211, 211, 211)
		pdf.CellFormat(55, 7, tr(label), "1", 0, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 7, tr(value), "1", 1, "L", false, 0, "")
	}
	infoRow("Report Generated:", rep.GeneratedAt.Format("January 02, 2006 at 3:04 PM"))
	infoRow("Report Type:", "Symptom Assessment")
	infoRow("Source:", "AI-Assisted Patient Interview")
	pdf.Ln(8)

	heading := func(number int, title string) {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.SetTextColor(0, 0, 139)
		pdf.SetDrawColor(0, 0, 139)
		pdf.CellFormat(0, 9, fmt.Sprintf("%d. %s", number, title), "1", 1, "L", false, 0, "")
		pdf.Ln(2)
	}
	body := func(text, fallback string) {
		if text == "" {
			text = fallback
		}
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(0, 0, 0)
		pdf.MultiCell(0, 5, tr(text), "", "L", false)
		pdf.Ln(5)
	}
	bullets := func(items []string) {
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(0, 0, 0)
		for _, item := range items {
			pdf.MultiCell(0, 5, tr("- "+item), "", "L", false)
		}
		pdf.Ln(5)
	}

	heading(1, "CHIEF COMPLAINT")
	body(rep.ChiefComplaint, noChiefComplaint)

	heading(2, "HISTORY OF PRESENT ILLNESS")
	body(rep.History, noHistory)

	heading(3, "PRELIMINARY DIAGNOSTIC ASSESSMENT")
	body(rep.Assessment, noAssessment)

	heading(4, "CLINICAL SUMMARY")
	body(rep.Summary, noSummary)

	heading(5, "RECOMMENDATIONS FOR FURTHER EVALUATION")
	if rep.Recommendations != "" {
		body(rep.Recommendations, "")
	} else {
		bullets(defaultRecommendations)
	}

	heading(6, "IMPORTANT NOTES")
	bullets(importantNotes)

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(0, 6, "End of Report", "", 1, "C", false, 0, "")

	path := filepath.Join(re.dir, rep.Filename())
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("write report pdf: %w", err)
	}
	return path, nil
}
