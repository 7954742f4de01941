// Package assembler turns a patient identity and a record index into one IPS
// document Bundle.
package assembler

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/ipsgen/internal/ips/identity"
	"github.com/ehr/ipsgen/internal/platform/fhir"
	"github.com/ehr/ipsgen/internal/platform/pools"
	"github.com/ehr/ipsgen/internal/platform/sampler"
	"github.com/ehr/ipsgen/pkg/fhirmodels"
)

const (
	DocumentTitle = "International Patient Summary"
	dateLayout    = "2006-01-02"
)

// sectionOrder is the IPS order of the required Composition sections.
var sectionOrder = []pools.Category{pools.Medications, pools.Allergies, pools.Conditions}

var sectionTitles = map[pools.Category]string{
	pools.Medications: "Medication Summary",
	pools.Allergies:   "Allergies and Intolerances",
	pools.Conditions:  "Problem List",
}

var sectionDisplays = map[pools.Category]string{
	pools.Medications: "History of Medication use Narrative",
	pools.Allergies:   "Allergies and adverse reactions Document",
	pools.Conditions:  "Problem list - Reported",
}

// Assembler builds Bundles from an immutable pool store.
type Assembler struct {
	store *pools.Store
}

func New(store *pools.Store) *Assembler {
	return &Assembler{store: store}
}

// Assemble builds record recordIndex of the patient. The record sampler s
// supplies the per-record draws, in order: practitioner given name, family
// name, prefix and id, then timestamp jitter (days, hour, minute), then the
// Composition and Bundle ids. Clinical content comes from the patient's drift
// streams and does not touch s.
func (a *Assembler) Assemble(id identity.PatientIdentity, recordIndex int, s *sampler.Sampler) (*fhir.Bundle, error) {
	if recordIndex < 0 {
		return nil, fmt.Errorf("negative record index %d", recordIndex)
	}

	patient := a.buildPatient(id)
	practitioner := a.buildPractitioner(s)

	when := a.recordBase(recordIndex).
		AddDate(0, 0, s.IntRange(0, 6)).
		Add(time.Duration(s.IntRange(8, 17))*time.Hour + time.Duration(s.IntRange(0, 59))*time.Minute)
	timestamp := when.Format(time.RFC3339)

	resources := []fhir.Resource{patient, practitioner}
	sections := make(map[pools.Category]fhir.Section, len(pools.Categories))

	for _, c := range pools.Categories {
		state, err := a.clinicalState(id, c, recordIndex)
		if err != nil {
			return nil, fmt.Errorf("patient %d record %d: %w", id.Index, recordIndex, err)
		}

		var refs []fhir.Reference
		var rows []fhir.NarrativeRow
		for _, h := range state {
			r, row := a.buildClinical(c, h, patient)
			resources = append(resources, r)
			refs = append(refs, fhir.Ref(r))
			rows = append(rows, row)
		}
		sections[c] = a.buildSection(c, refs, rows)
	}

	comp := fhir.NewComposition(s.UUID())
	comp.Type = fhir.Concept(fhirmodels.SystemLOINC, a.store.DocTypeCode(), fhirmodels.LOINCPatientSummaryD)
	comp.Subject = fhir.Ref(patient)
	comp.Subject.Display = id.Given + " " + id.Family
	comp.Date = timestamp
	comp.Author = []fhir.Reference{fhir.Ref(practitioner)}
	comp.Title = DocumentTitle
	for _, c := range sectionOrder {
		comp.Section = append(comp.Section, sections[c])
	}

	bundle := fhir.NewDocument(s.UUID(), timestamp, comp, resources...)
	if err := fhir.ValidateDocument(bundle); err != nil {
		return nil, fmt.Errorf("patient %d record %d: %w", id.Index, recordIndex, err)
	}
	return bundle, nil
}

// recordBase is the undithered date of a record: as_of plus one interval per
// record index.
func (a *Assembler) recordBase(recordIndex int) time.Time {
	return a.store.AsOf().AddDate(0, 0, recordIndex*a.store.RecordInterval())
}

func (a *Assembler) buildPatient(id identity.PatientIdentity) *fhir.Patient {
	p := fhir.NewPatient(id.ResourceID)
	p.Identifier = []fhir.Identifier{{
		Use:    "usual",
		Type:   &fhir.CodeableConcept{Coding: []fhir.Coding{{System: fhirmodels.SystemIdentifierType, Code: "MR", Display: "Medical record number"}}},
		System: id.IdentifierSystem,
		Value:  id.MRN,
	}}
	p.Name = []fhir.HumanName{{Use: "official", Family: id.Family, Given: []string{id.Given}}}
	p.Gender = id.Gender
	p.BirthDate = id.BirthDate.Format(dateLayout)
	return p
}

func (a *Assembler) buildPractitioner(s *sampler.Sampler) *fhir.Practitioner {
	given := sampler.Pick(s, a.store.PractitionerGivenNames())
	family := sampler.Pick(s, a.store.PractitionerFamilyNames())
	prefix := sampler.Pick(s, a.store.PractitionerPrefixes())

	p := fhir.NewPractitioner(s.UUID())
	name := fhir.HumanName{Family: family, Given: []string{given}}
	if prefix != "" {
		name.Prefix = []string{prefix}
	}
	p.Name = []fhir.HumanName{name}
	return p
}

func (a *Assembler) buildClinical(c pools.Category, h heldEntry, patient *fhir.Patient) (fhir.Resource, fhir.NarrativeRow) {
	code := fhir.Concept(h.entry.System, h.entry.Code, h.entry.Display)
	date := h.date.Format(dateLayout)
	row := fhir.NarrativeRow{Display: h.entry.Display, Code: h.entry.Code, Date: date}

	switch c {
	case pools.Allergies:
		r := fhir.NewAllergyIntolerance(h.id)
		r.ClinicalStatus = conceptPtr(fhirmodels.SystemAllergyClinical, "active", "Active")
		r.VerificationStatus = conceptPtr(fhirmodels.SystemAllergyVerification, "confirmed", "Confirmed")
		r.Type = "allergy"
		if h.entry.Category != "" {
			r.Category = []string{h.entry.Category}
		}
		r.Code = code
		r.Patient = fhir.Ref(patient)
		r.RecordedDate = date
		row.Status = "active"
		return r, row

	case pools.Medications:
		r := fhir.NewMedicationStatement(h.id)
		r.Status = fhirmodels.MedicationActive
		r.MedicationCodeableConcept = code
		r.Subject = fhir.Ref(patient)
		r.EffectiveDateTime = date
		row.Status = r.Status
		return r, row

	default:
		r := fhir.NewCondition(h.id)
		r.ClinicalStatus = conceptPtr(fhirmodels.SystemConditionClinical, fhirmodels.ConditionActive, "Active")
		r.VerificationStatus = conceptPtr(fhirmodels.SystemConditionVerification, "confirmed", "Confirmed")
		r.Code = code
		r.Subject = fhir.Ref(patient)
		r.OnsetDateTime = date
		r.RecordedDate = date
		row.Status = fhirmodels.ConditionActive
		return r, row
	}
}

// buildSection always returns a section; an empty one carries emptyReason.
func (a *Assembler) buildSection(c pools.Category, refs []fhir.Reference, rows []fhir.NarrativeRow) fhir.Section {
	title := sectionTitles[c]
	sec := fhir.Section{
		Title: title,
		Code:  fhir.Concept(fhirmodels.SystemLOINC, a.store.SectionCode(c), sectionDisplays[c]),
		Text:  fhir.SectionNarrative(title, rows),
		Entry: refs,
	}
	if len(refs) == 0 {
		sec.EmptyReason = conceptPtr(fhirmodels.SystemListEmptyReason, fhirmodels.EmptyReasonNilKnown, "Nil Known")
	}
	return sec
}

func conceptPtr(system, code, display string) *fhir.CodeableConcept {
	c := fhir.Concept(system, code, display)
	return &c
}

// Describe is a one-line summary of a bundle for logs.
func Describe(b *fhir.Bundle) string {
	counts := b.CountByType()
	parts := make([]string, 0, len(pools.Categories))
	for _, c := range pools.Categories {
		parts = append(parts, fmt.Sprintf("%s=%d", c, counts[c.ResourceType()]))
	}
	return strings.Join(parts, " ")
}
