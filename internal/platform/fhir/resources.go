package fhir

import "github.com/ehr/ipsgen/pkg/fhirmodels"

// IPS profile canonical URLs.
const (
	ProfileBundle              = "http://hl7.org/fhir/uv/ips/StructureDefinition/Bundle-uv-ips"
	ProfileComposition         = "http://hl7.org/fhir/uv/ips/StructureDefinition/Composition-uv-ips"
	ProfilePatient             = "http://hl7.org/fhir/uv/ips/StructureDefinition/Patient-uv-ips"
	ProfilePractitioner        = "http://hl7.org/fhir/uv/ips/StructureDefinition/Practitioner-uv-ips"
	ProfileAllergyIntolerance  = "http://hl7.org/fhir/uv/ips/StructureDefinition/AllergyIntolerance-uv-ips"
	ProfileMedicationStatement = "http://hl7.org/fhir/uv/ips/StructureDefinition/MedicationStatement-uv-ips"
	ProfileCondition           = "http://hl7.org/fhir/uv/ips/StructureDefinition/Condition-uv-ips"
)

// ---------------------------------------------------------------------------
// Data types
// ---------------------------------------------------------------------------

// Coding represents a FHIR Coding.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept represents a FHIR CodeableConcept.
type CodeableConcept struct {
	Coding []Coding `json:"coding"`
	Text   string   `json:"text,omitempty"`
}

// Concept is shorthand for a single-coding CodeableConcept.
func Concept(system, code, display string) CodeableConcept {
	return CodeableConcept{Coding: []Coding{{System: system, Code: code, Display: display}}}
}

// Reference represents a FHIR Reference.
type Reference struct {
	Reference string `json:"reference"`
	Display   string `json:"display,omitempty"`
}

// Identifier represents a FHIR Identifier.
type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system"`
	Value  string           `json:"value"`
}

// HumanName represents a FHIR HumanName.
type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family"`
	Given  []string `json:"given"`
	Prefix []string `json:"prefix,omitempty"`
}

// Narrative represents a FHIR Narrative.
type Narrative struct {
	Status string `json:"status"`
	Div    string `json:"div"`
}

// Meta carries the claimed profiles of a resource.
type Meta struct {
	Profile []string `json:"profile,omitempty"`
}

func profiled(url string) *Meta {
	return &Meta{Profile: []string{url}}
}

// ---------------------------------------------------------------------------
// Resources
// ---------------------------------------------------------------------------

// Resource is a FHIR resource that can be placed in a Bundle.
type Resource interface {
	// Kind returns the resourceType.
	Kind() string
	// LogicalID returns the resource id.
	LogicalID() string
	// References returns every reference the resource makes.
	References() []string
}

type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Active       bool         `json:"active"`
	Name         []HumanName  `json:"name"`
	Gender       string       `json:"gender"`
	BirthDate    string       `json:"birthDate"`
}

func NewPatient(id string) *Patient {
	return &Patient{ResourceType: fhirmodels.ResourcePatient, ID: id, Meta: profiled(ProfilePatient), Active: true}
}

func (p *Patient) Kind() string         { return p.ResourceType }
func (p *Patient) LogicalID() string    { return p.ID }
func (p *Patient) References() []string { return nil }

type Practitioner struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Active       bool         `json:"active"`
	Name         []HumanName  `json:"name"`
}

func NewPractitioner(id string) *Practitioner {
	return &Practitioner{ResourceType: fhirmodels.ResourcePractitioner, ID: id, Meta: profiled(ProfilePractitioner), Active: true}
}

func (p *Practitioner) Kind() string         { return p.ResourceType }
func (p *Practitioner) LogicalID() string    { return p.ID }
func (p *Practitioner) References() []string { return nil }

type AllergyIntolerance struct {
	ResourceType       string           `json:"resourceType"`
	ID                 string           `json:"id"`
	Meta               *Meta            `json:"meta,omitempty"`
	ClinicalStatus     *CodeableConcept `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept `json:"verificationStatus,omitempty"`
	Type               string           `json:"type,omitempty"`
	Category           []string         `json:"category,omitempty"`
	Code               CodeableConcept  `json:"code"`
	Patient            Reference        `json:"patient"`
	RecordedDate       string           `json:"recordedDate,omitempty"`
}

func NewAllergyIntolerance(id string) *AllergyIntolerance {
	return &AllergyIntolerance{ResourceType: fhirmodels.ResourceAllergyIntolerance, ID: id, Meta: profiled(ProfileAllergyIntolerance)}
}

func (a *AllergyIntolerance) Kind() string         { return a.ResourceType }
func (a *AllergyIntolerance) LogicalID() string    { return a.ID }
func (a *AllergyIntolerance) References() []string { return []string{a.Patient.Reference} }

type MedicationStatement struct {
	ResourceType              string          `json:"resourceType"`
	ID                        string          `json:"id"`
	Meta                      *Meta           `json:"meta,omitempty"`
	Status                    string          `json:"status"`
	MedicationCodeableConcept CodeableConcept `json:"medicationCodeableConcept"`
	Subject                   Reference       `json:"subject"`
	EffectiveDateTime         string          `json:"effectiveDateTime,omitempty"`
}

func NewMedicationStatement(id string) *MedicationStatement {
	return &MedicationStatement{ResourceType: fhirmodels.ResourceMedicationStatement, ID: id, Meta: profiled(ProfileMedicationStatement)}
}

func (m *MedicationStatement) Kind() string         { return m.ResourceType }
func (m *MedicationStatement) LogicalID() string    { return m.ID }
func (m *MedicationStatement) References() []string { return []string{m.Subject.Reference} }

type Condition struct {
	ResourceType       string           `json:"resourceType"`
	ID                 string           `json:"id"`
	Meta               *Meta            `json:"meta,omitempty"`
	ClinicalStatus     *CodeableConcept `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept `json:"verificationStatus,omitempty"`
	Code               CodeableConcept  `json:"code"`
	Subject            Reference        `json:"subject"`
	OnsetDateTime      string           `json:"onsetDateTime,omitempty"`
	RecordedDate       string           `json:"recordedDate,omitempty"`
}

func NewCondition(id string) *Condition {
	return &Condition{ResourceType: fhirmodels.ResourceCondition, ID: id, Meta: profiled(ProfileCondition)}
}

func (c *Condition) Kind() string         { return c.ResourceType }
func (c *Condition) LogicalID() string    { return c.ID }
func (c *Condition) References() []string { return []string{c.Subject.Reference} }

// Section is one Composition section.
type Section struct {
	Title       string           `json:"title"`
	Code        CodeableConcept  `json:"code"`
	Text        *Narrative       `json:"text,omitempty"`
	Entry       []Reference      `json:"entry,omitempty"`
	EmptyReason *CodeableConcept `json:"emptyReason,omitempty"`
}

type Composition struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id"`
	Meta         *Meta           `json:"meta,omitempty"`
	Status       string          `json:"status"`
	Type         CodeableConcept `json:"type"`
	Subject      Reference       `json:"subject"`
	Date         string          `json:"date"`
	Author       []Reference     `json:"author"`
	Title        string          `json:"title"`
	Section      []Section       `json:"section"`
}

func NewComposition(id string) *Composition {
	return &Composition{
		ResourceType: fhirmodels.ResourceComposition,
		ID:           id,
		Meta:         profiled(ProfileComposition),
		Status:       fhirmodels.CompositionFinal,
	}
}

func (c *Composition) Kind() string      { return c.ResourceType }
func (c *Composition) LogicalID() string { return c.ID }

// References walks subject, author and every section entry, deduplicated in
// first-seen order.
func (c *Composition) References() []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(ref string) {
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	add(c.Subject.Reference)
	for _, a := range c.Author {
		add(a.Reference)
	}
	for _, s := range c.Section {
		for _, e := range s.Entry {
			add(e.Reference)
		}
	}
	return refs
}
