package fhir

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ehr/ipsgen/pkg/fhirmodels"
)

// ---------------------------------------------------------------------------
// Helper utilities
// ---------------------------------------------------------------------------

func sampleDocument() *Bundle {
	patient := NewPatient("pat-1")
	patient.Name = []HumanName{{Family: "Kim", Given: []string{"Wei"}}}
	patient.Gender = fhirmodels.GenderMale
	patient.BirthDate = "1970-01-01"

	prac := NewPractitioner("prac-1")
	prac.Name = []HumanName{{Family: "Novak", Given: []string{"Eva"}, Prefix: []string{"Dr."}}}

	cond := NewCondition("cond-1")
	cond.Code = Concept(fhirmodels.SystemSNOMED, "38341003", "Hypertension")
	cond.Subject = Ref(patient)

	comp := NewComposition("comp-1")
	comp.Subject = Ref(patient)
	comp.Author = []Reference{Ref(prac)}
	comp.Section = []Section{{
		Title: "Problem List",
		Code:  Concept(fhirmodels.SystemLOINC, fhirmodels.LOINCProblems, ""),
		Entry: []Reference{Ref(cond)},
	}}

	return NewDocument("bundle-1", "2025-01-01T00:00:00Z", comp, patient, prac, cond)
}

// ---------------------------------------------------------------------------
// Bundle
// ---------------------------------------------------------------------------

func TestNewDocument_CompositionFirst(t *testing.T) {
	b := sampleDocument()

	if b.Type != "document" {
		t.Fatalf("expected document bundle, got %s", b.Type)
	}
	if b.Entry[0].Resource.Kind() != "Composition" {
		t.Fatalf("expected Composition first, got %s", b.Entry[0].Resource.Kind())
	}
	want := []string{"Composition", "Patient", "Practitioner", "Condition"}
	for i, w := range want {
		if got := b.Entry[i].Resource.Kind(); got != w {
			t.Errorf("entry %d: expected %s, got %s", i, w, got)
		}
	}
	if b.Entry[1].FullURL != "urn:uuid:pat-1" {
		t.Errorf("unexpected fullUrl %s", b.Entry[1].FullURL)
	}
}

func TestBundle_Accessors(t *testing.T) {
	b := sampleDocument()

	if b.Composition() == nil || b.Patient() == nil || b.Practitioner() == nil {
		t.Fatal("expected Composition, Patient and Practitioner accessors to find entries")
	}
	if n := len(b.ResourcesOfType("Condition")); n != 1 {
		t.Fatalf("expected 1 Condition, got %d", n)
	}
	counts := b.CountByType()
	if counts["Patient"] != 1 || counts["Condition"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestBundle_MarshalShape(t *testing.T) {
	data, err := sampleDocument().Marshal(true)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if bytes.Contains(data, []byte("\n")) {
		t.Fatal("expected minified output without newlines")
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["resourceType"] != "Bundle" {
		t.Fatalf("expected resourceType Bundle, got %v", m["resourceType"])
	}
	entries, _ := m["entry"].([]interface{})
	first, _ := entries[0].(map[string]interface{})
	res, _ := first["resource"].(map[string]interface{})
	if res["resourceType"] != "Composition" {
		t.Fatalf("expected Composition in first entry, got %v", res["resourceType"])
	}

	pretty, err := sampleDocument().Marshal(false)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(pretty, []byte("\n  \"resourceType\"")) {
		t.Fatal("expected two-space indented output")
	}
}

// ---------------------------------------------------------------------------
// ValidateDocument
// ---------------------------------------------------------------------------

func TestValidateDocument_Valid(t *testing.T) {
	if err := ValidateDocument(sampleDocument()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateDocument_RelativeReferences(t *testing.T) {
	b := sampleDocument()
	comp := b.Composition()
	comp.Subject = Reference{Reference: "Patient/pat-1"}
	if err := ValidateDocument(b); err != nil {
		t.Fatalf("expected relative reference to resolve: %v", err)
	}
}

func TestValidateDocument_Dangling(t *testing.T) {
	b := sampleDocument()
	comp := b.Composition()
	comp.Section[0].Entry = append(comp.Section[0].Entry, Reference{Reference: "urn:uuid:missing"})

	err := ValidateDocument(b)
	if !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("expected ErrDanglingReference, got %v", err)
	}
	if !strings.Contains(err.Error(), "urn:uuid:missing") {
		t.Fatalf("expected error to name the reference, got %v", err)
	}
}

func TestValidateDocument_ClinicalSubjectDangling(t *testing.T) {
	b := sampleDocument()
	cond := b.ResourcesOfType("Condition")[0].(*Condition)
	cond.Subject = Reference{Reference: "Patient/other"}

	if err := ValidateDocument(b); !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("expected ErrDanglingReference, got %v", err)
	}
}

func TestValidateDocument_DuplicateEntry(t *testing.T) {
	b := sampleDocument()
	b.Entry = append(b.Entry, b.Entry[1])

	if err := ValidateDocument(b); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestValidateDocument_NotDocument(t *testing.T) {
	b := sampleDocument()
	b.Type = "transaction"
	if err := ValidateDocument(b); !errors.Is(err, ErrNotDocument) {
		t.Fatalf("expected ErrNotDocument, got %v", err)
	}
	if err := ValidateDocument(nil); !errors.Is(err, ErrNotDocument) {
		t.Fatalf("expected ErrNotDocument for nil, got %v", err)
	}
}

func TestValidateDocument_CompositionNotFirst(t *testing.T) {
	b := sampleDocument()
	b.Entry[0], b.Entry[1] = b.Entry[1], b.Entry[0]
	if err := ValidateDocument(b); !errors.Is(err, ErrMissingComposition) {
		t.Fatalf("expected ErrMissingComposition, got %v", err)
	}
}

func TestComposition_ReferencesDeduplicated(t *testing.T) {
	c := NewComposition("c")
	c.Subject = Reference{Reference: "urn:uuid:p"}
	c.Author = []Reference{{Reference: "urn:uuid:a"}, {Reference: "urn:uuid:p"}}
	c.Section = []Section{{Entry: []Reference{{Reference: "urn:uuid:x"}, {Reference: "urn:uuid:x"}}}}

	refs := c.References()
	if len(refs) != 3 {
		t.Fatalf("expected 3 unique references, got %v", refs)
	}
}

// ---------------------------------------------------------------------------
// Narrative
// ---------------------------------------------------------------------------

func TestSectionNarrative_EscapesAndTabulates(t *testing.T) {
	n := SectionNarrative("Allergies", []NarrativeRow{{Display: "Peanut <nut>", Code: "91935009", Status: "active"}})

	if n.Status != "generated" {
		t.Fatalf("expected generated status, got %s", n.Status)
	}
	if !strings.HasPrefix(n.Div, `<div xmlns="http://www.w3.org/1999/xhtml">`) {
		t.Fatalf("expected XHTML div, got %s", n.Div)
	}
	if !strings.Contains(n.Div, "Peanut &lt;nut&gt;") {
		t.Fatalf("expected escaped display, got %s", n.Div)
	}
	if !strings.Contains(n.Div, "<table>") {
		t.Fatal("expected a table for non-empty rows")
	}
}

func TestSectionNarrative_Empty(t *testing.T) {
	n := SectionNarrative("Problem List", nil)
	if !strings.Contains(n.Div, "No information available.") {
		t.Fatalf("expected empty-section text, got %s", n.Div)
	}
}

// ---------------------------------------------------------------------------
// NDJSON
// ---------------------------------------------------------------------------

func TestNDJSONWriter_OneLinePerBundle(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)
	for i := 0; i < 3; i++ {
		if err := w.WriteResource(sampleDocument()); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Fatalf("line %d is not valid JSON", i)
		}
	}
}
