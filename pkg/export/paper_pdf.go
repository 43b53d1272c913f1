package export

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/exowa/exowa-api/internal/models"
)

// PaperPDFExporter renders a paper into a printable question sheet.
type PaperPDFExporter struct{}

// NewPaperPDFExporter constructs a paper PDF exporter.
func NewPaperPDFExporter() *PaperPDFExporter {
	return &PaperPDFExporter{}
}

// Render creates a PDF with the paper header and its numbered questions.
// Correct answers are never printed.
func (e *PaperPDFExporter) Render(paper *models.Paper) ([]byte, error) {
	if len(paper.Questions) == 0 {
		return nil, fmt.Errorf("paper has no questions to render")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	title := fmt.Sprintf("%s - Class %s (%s)", paper.Subject, paper.ClassName, paper.Syllabus)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	subtitle := fmt.Sprintf("Chapters %s to %s | %s | %d questions",
		paper.ChapterFrom, paper.ChapterTo, paper.Language, len(paper.Questions))
	pdf.CellFormat(0, 7, subtitle, "", 1, "C", false, 0, "")
	pdf.Ln(5)

	for _, q := range paper.Questions {
		pdf.SetFont("Arial", "B", 10)
		pdf.MultiCell(0, 6, fmt.Sprintf("%d. %s", q.QuestionNumber, q.Question), "", "L", false)

		pdf.SetFont("Arial", "", 10)
		for _, key := range sortedKeys(q.Choices) {
			pdf.MultiCell(0, 5, fmt.Sprintf("   %s. %s", key, q.Choices[key]), "", "L", false)
		}
		pdf.Ln(3)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render paper pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
