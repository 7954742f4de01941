package fhir

import (
	"fmt"
	"html"
	"strings"
)

const xhtmlOpen = `<div xmlns="http://www.w3.org/1999/xhtml">`

// NarrativeRow is one line of a section narrative table.
type NarrativeRow struct {
	Display string
	Code    string
	Status  string
	Date    string
}

// SectionNarrative renders the generated XHTML narrative of a Composition
// section. An empty row set yields a "no information" paragraph so every
// section keeps a narrative.
func SectionNarrative(title string, rows []NarrativeRow) *Narrative {
	var b strings.Builder
	b.WriteString(xhtmlOpen)
	b.WriteString(fmt.Sprintf("<h5>%s</h5>", escapeHTML(title)))

	if len(rows) == 0 {
		b.WriteString("<p>No information available.</p>")
	} else {
		b.WriteString("<table><thead><tr><th>Item</th><th>Code</th><th>Status</th><th>Date</th></tr></thead><tbody>")
		for _, r := range rows {
			b.WriteString(fmt.Sprintf("<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
				escapeHTML(r.Display), escapeHTML(r.Code), escapeHTML(r.Status), escapeHTML(r.Date)))
		}
		b.WriteString("</tbody></table>")
	}

	b.WriteString("</div>")
	return &Narrative{Status: "generated", Div: b.String()}
}

func escapeHTML(s string) string {
	return html.EscapeString(s)
}
