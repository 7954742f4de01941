// Package render produces human-readable PDF summaries of IPS document
// Bundles.
package render

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/ehr/ipsgen/internal/platform/fhir"
)

var ErrNoComposition = errors.New("bundle has no composition")

const (
	pageWidth  = 190.0
	rowHeight  = 7.0
	headerFill = 220
)

// PDFRenderer lays out one Bundle per document. The output is a function of
// the Bundle alone: creation dates are taken from the Bundle timestamp.
type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Render writes the PDF for b to w.
func (r *PDFRenderer) Render(w io.Writer, b *fhir.Bundle) error {
	comp := b.Composition()
	if comp == nil {
		return ErrNoComposition
	}
	byURL := make(map[string]fhir.Resource, len(b.Entry))
	for _, e := range b.Entry {
		byURL[e.FullURL] = e.Resource
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCatalogSort(true)
	if ts, err := time.Parse(time.RFC3339, b.Timestamp); err == nil {
		pdf.SetCreationDate(ts)
		pdf.SetModificationDate(ts)
	}
	pdf.SetTitle(comp.Title, true)
	pdf.SetCreator("ips-generator", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(pageWidth, 10, tr(comp.Title), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(pageWidth, 6, tr("Date: "+comp.Date), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	if p := b.Patient(); p != nil {
		heading(pdf, tr, "Patient")
		keyValues(pdf, tr, [][2]string{
			{"Name", humanName(p.Name)},
			{"Gender", p.Gender},
			{"Birth date", p.BirthDate},
			{"Identifier", identifier(p.Identifier)},
		})
	}

	if len(comp.Author) > 0 {
		if prac, ok := byURL[comp.Author[0].Reference].(*fhir.Practitioner); ok {
			heading(pdf, tr, "Author")
			keyValues(pdf, tr, [][2]string{{"Practitioner", humanName(prac.Name)}})
		}
	}

	for _, sec := range comp.Section {
		heading(pdf, tr, sec.Title)
		if len(sec.Entry) == 0 {
			pdf.SetFont("Helvetica", "I", 10)
			pdf.CellFormat(pageWidth, rowHeight, "No information available.", "", 1, "L", false, 0, "")
			pdf.Ln(2)
			continue
		}
		rows := make([][3]string, 0, len(sec.Entry))
		for _, ref := range sec.Entry {
			if res, ok := byURL[ref.Reference]; ok {
				rows = append(rows, entryRow(res))
			}
		}
		table(pdf, tr, [3]string{"Item", "Status", "System"}, rows)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

func heading(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(pageWidth, 8, tr(text), "B", 1, "L", false, 0, "")
	pdf.Ln(1)
}

func keyValues(pdf *fpdf.Fpdf, tr func(string) string, kv [][2]string) {
	for _, pair := range kv {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(40, rowHeight, tr(pair[0]), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(pageWidth-40, rowHeight, tr(pair[1]), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)
}

func table(pdf *fpdf.Fpdf, tr func(string) string, header [3]string, rows [][3]string) {
	widths := [3]float64{110, 35, 45}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(headerFill, headerFill, headerFill)
	for i, h := range header {
		pdf.CellFormat(widths[i], rowHeight, tr(h), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		for i, cell := range row {
			pdf.CellFormat(widths[i], rowHeight, tr(cell), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(3)
}

// entryRow is display (code), status and the last path segment of the code
// system.
func entryRow(res fhir.Resource) [3]string {
	var code fhir.CodeableConcept
	var status string

	switch r := res.(type) {
	case *fhir.Condition:
		code = r.Code
		status = conceptCode(r.ClinicalStatus)
	case *fhir.AllergyIntolerance:
		code = r.Code
		status = conceptCode(r.ClinicalStatus)
	case *fhir.MedicationStatement:
		code = r.MedicationCodeableConcept
		status = r.Status
	default:
		return [3]string{res.Kind(), "unknown", ""}
	}
	if status == "" {
		status = "unknown"
	}
	if len(code.Coding) == 0 {
		return [3]string{code.Text, status, ""}
	}

	c := code.Coding[0]
	system := c.System
	if i := strings.LastIndexAny(system, "/:"); i >= 0 {
		system = system[i+1:]
	}
	return [3]string{fmt.Sprintf("%s (%s)", c.Display, c.Code), status, system}
}

func conceptCode(cc *fhir.CodeableConcept) string {
	if cc == nil || len(cc.Coding) == 0 {
		return ""
	}
	return cc.Coding[0].Code
}

func humanName(names []fhir.HumanName) string {
	if len(names) == 0 {
		return ""
	}
	n := names[0]
	parts := append(append([]string{}, n.Prefix...), n.Given...)
	parts = append(parts, n.Family)
	return strings.Join(parts, " ")
}

func identifier(ids []fhir.Identifier) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0].Value
}
