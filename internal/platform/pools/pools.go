// Package pools holds the read-only pools of sampleable values (names,
// conditions, medications, allergies) that synthetic IPS records are drawn
// from. A Store is loaded once from a JSON document and never mutated.
package pools

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/ipsgen/pkg/fhirmodels"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrMissingPool  = errors.New("required pool is missing or empty")
	ErrInvalidEntry = errors.New("invalid pool entry")
	ErrInvalidRange = errors.New("invalid sampling range")
)

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// Category names one clinical pool and its Composition section.
type Category string

const (
	Allergies   Category = "allergies"
	Medications Category = "medications"
	Conditions  Category = "conditions"
)

// Categories lists the clinical categories in resource build order.
var Categories = []Category{Allergies, Medications, Conditions}

// ResourceType returns the FHIR resource type generated for the category.
func (c Category) ResourceType() string {
	switch c {
	case Allergies:
		return fhirmodels.ResourceAllergyIntolerance
	case Medications:
		return fhirmodels.ResourceMedicationStatement
	case Conditions:
		return fhirmodels.ResourceCondition
	}
	return ""
}

func (c Category) defaultSystem() string {
	if c == Medications {
		return fhirmodels.SystemRxNorm
	}
	return fhirmodels.SystemSNOMED
}

// ---------------------------------------------------------------------------
// Document shape
// ---------------------------------------------------------------------------

// CodeEntry is one sampleable coded value.
type CodeEntry struct {
	System   string `mapstructure:"system" json:"system"`
	Code     string `mapstructure:"code" json:"code"`
	Display  string `mapstructure:"display" json:"display"`
	Category string `mapstructure:"category" json:"category,omitempty"`
}

// SamplingRange bounds how many entries of a category the first record of a
// patient carries, and which fraction of them later records retain.
type SamplingRange struct {
	Min    int      `mapstructure:"min" json:"min"`
	Max    int      `mapstructure:"max" json:"max"`
	Retain *float64 `mapstructure:"retain" json:"retain,omitempty"`
}

// YearRange is an inclusive range of calendar years.
type YearRange struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

type demographics struct {
	FamilyNames      []string  `mapstructure:"family_names"`
	GivenNames       []string  `mapstructure:"given_names"`
	GivenNamesMale   []string  `mapstructure:"given_names_male"`
	GivenNamesFemale []string  `mapstructure:"given_names_female"`
	Genders          []string  `mapstructure:"genders"`
	BirthYears       YearRange `mapstructure:"birth_years"`
	IdentifierSystem string    `mapstructure:"identifier_system"`
}

type practitioners struct {
	FamilyNames []string `mapstructure:"family_names"`
	GivenNames  []string `mapstructure:"given_names"`
	Prefixes    []string `mapstructure:"prefixes"`
}

type clinicalData struct {
	Conditions  []CodeEntry `mapstructure:"conditions"`
	Medications []CodeEntry `mapstructure:"medications"`
	Allergies   []CodeEntry `mapstructure:"allergies"`
}

type loinc struct {
	DocType     string `mapstructure:"doc_type"`
	Problems    string `mapstructure:"problems"`
	Medications string `mapstructure:"medications"`
	Allergies   string `mapstructure:"allergies"`
}

type terminologies struct {
	LOINC loinc `mapstructure:"loinc"`
}

type document struct {
	Demographics       demographics             `mapstructure:"demographics"`
	Practitioners      practitioners            `mapstructure:"practitioners"`
	ClinicalData       clinicalData             `mapstructure:"clinical_data"`
	Terminologies      terminologies            `mapstructure:"terminologies"`
	Sampling           map[string]SamplingRange `mapstructure:"sampling"`
	AsOf               string                   `mapstructure:"as_of"`
	RecordIntervalDays int                      `mapstructure:"record_interval_days"`
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store is the immutable, validated pool configuration. Slices returned by its
// accessors are shared and must not be modified.
type Store struct {
	doc      document
	asOf     time.Time
	pools    map[Category][]CodeEntry
	sections map[Category]string
}

const (
	defaultAsOf           = "2025-01-01"
	defaultRecordInterval = 90
	defaultBirthYearMin   = 1940
	defaultBirthYearMax   = 2005
	defaultPrefix         = "Dr."
)

// Load reads and validates the pool document at path.
func Load(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read pool config %s: %w", path, err)
	}
	return fromViper(v)
}

// Parse reads and validates a pool document held in memory.
func Parse(data []byte) (*Store, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Store, error) {
	v.SetDefault("as_of", defaultAsOf)
	v.SetDefault("record_interval_days", defaultRecordInterval)
	v.SetDefault("terminologies.loinc.doc_type", fhirmodels.LOINCPatientSummary)
	v.SetDefault("terminologies.loinc.problems", fhirmodels.LOINCProblems)
	v.SetDefault("terminologies.loinc.medications", fhirmodels.LOINCMedications)
	v.SetDefault("terminologies.loinc.allergies", fhirmodels.LOINCAllergies)
	v.SetDefault("demographics.identifier_system", fhirmodels.SystemDefaultPatientRegistry)

	var doc document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decode pool config: %w", err)
	}
	return newStore(doc)
}

func newStore(doc document) (*Store, error) {
	d := &doc.Demographics
	if len(d.FamilyNames) == 0 {
		return nil, fmt.Errorf("demographics.family_names: %w", ErrMissingPool)
	}
	if len(d.GivenNames) == 0 && (len(d.GivenNamesMale) == 0 || len(d.GivenNamesFemale) == 0) {
		return nil, fmt.Errorf("demographics.given_names: %w", ErrMissingPool)
	}
	if len(d.Genders) == 0 {
		d.Genders = fhirmodels.Genders
	}
	if d.BirthYears.Min == 0 && d.BirthYears.Max == 0 {
		d.BirthYears = YearRange{Min: defaultBirthYearMin, Max: defaultBirthYearMax}
	}
	if d.BirthYears.Max < d.BirthYears.Min {
		return nil, fmt.Errorf("demographics.birth_years %d..%d: %w", d.BirthYears.Min, d.BirthYears.Max, ErrInvalidRange)
	}

	p := &doc.Practitioners
	if len(p.FamilyNames) == 0 {
		p.FamilyNames = d.FamilyNames
	}
	if len(p.GivenNames) == 0 {
		p.GivenNames = append(append(append([]string{}, d.GivenNames...), d.GivenNamesMale...), d.GivenNamesFemale...)
	}
	if len(p.Prefixes) == 0 {
		p.Prefixes = []string{defaultPrefix}
	}

	asOf, err := time.Parse("2006-01-02", strings.TrimSpace(doc.AsOf))
	if err != nil {
		return nil, fmt.Errorf("as_of %q: %w", doc.AsOf, err)
	}
	if doc.RecordIntervalDays <= 0 {
		return nil, fmt.Errorf("record_interval_days must be positive, got %d", doc.RecordIntervalDays)
	}

	s := &Store{
		doc:  doc,
		asOf: asOf,
		pools: map[Category][]CodeEntry{
			Allergies:   doc.ClinicalData.Allergies,
			Medications: doc.ClinicalData.Medications,
			Conditions:  doc.ClinicalData.Conditions,
		},
		sections: map[Category]string{
			Allergies:   doc.Terminologies.LOINC.Allergies,
			Medications: doc.Terminologies.LOINC.Medications,
			Conditions:  doc.Terminologies.LOINC.Problems,
		},
	}
	if s.doc.Sampling == nil {
		s.doc.Sampling = map[string]SamplingRange{}
	}

	for _, c := range Categories {
		seen := make(map[string]bool, len(s.pools[c]))
		for i := range s.pools[c] {
			e := &s.pools[c][i]
			e.Code = strings.TrimSpace(e.Code)
			if e.Code == "" {
				return nil, fmt.Errorf("clinical_data.%s[%d] has no code: %w", c, i, ErrInvalidEntry)
			}
			if seen[e.Code] {
				return nil, fmt.Errorf("clinical_data.%s[%d] duplicates code %s: %w", c, i, e.Code, ErrInvalidEntry)
			}
			seen[e.Code] = true
			if e.System == "" {
				e.System = c.defaultSystem()
			}
			if e.Display == "" {
				e.Display = e.Code
			}
		}

		r := s.doc.Sampling[string(c)]
		if r.Min < 0 || r.Max < r.Min {
			return nil, fmt.Errorf("sampling.%s %d..%d: %w", c, r.Min, r.Max, ErrInvalidRange)
		}
		if r.Retain != nil && (*r.Retain < 0 || *r.Retain > 1) {
			return nil, fmt.Errorf("sampling.%s.retain %v outside [0,1]: %w", c, *r.Retain, ErrInvalidRange)
		}
		s.doc.Sampling[string(c)] = r
	}

	return s, nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// FamilyNames returns the patient family-name pool.
func (s *Store) FamilyNames() []string { return s.doc.Demographics.FamilyNames }

// GivenNames returns the given-name pool for a gender, falling back to the
// shared pool when no gender-specific pool is configured.
func (s *Store) GivenNames(gender string) []string {
	d := s.doc.Demographics
	switch {
	case gender == fhirmodels.GenderMale && len(d.GivenNamesMale) > 0:
		return d.GivenNamesMale
	case gender == fhirmodels.GenderFemale && len(d.GivenNamesFemale) > 0:
		return d.GivenNamesFemale
	case len(d.GivenNames) > 0:
		return d.GivenNames
	}
	return append(append([]string{}, d.GivenNamesMale...), d.GivenNamesFemale...)
}

func (s *Store) Genders() []string { return s.doc.Demographics.Genders }

func (s *Store) BirthYears() YearRange { return s.doc.Demographics.BirthYears }

// IdentifierSystem is the system URI of generated patient identifiers.
func (s *Store) IdentifierSystem() string { return s.doc.Demographics.IdentifierSystem }

func (s *Store) PractitionerFamilyNames() []string { return s.doc.Practitioners.FamilyNames }

func (s *Store) PractitionerGivenNames() []string { return s.doc.Practitioners.GivenNames }

func (s *Store) PractitionerPrefixes() []string { return s.doc.Practitioners.Prefixes }

// Pool returns the clinical pool for a category. It may be empty.
func (s *Store) Pool(c Category) []CodeEntry { return s.pools[c] }

// Range returns the sampling range for a category. Unconfigured categories
// sample zero entries.
func (s *Store) Range(c Category) SamplingRange { return s.doc.Sampling[string(c)] }

// SectionCode returns the LOINC section code for a category.
func (s *Store) SectionCode(c Category) string { return s.sections[c] }

// DocTypeCode returns the LOINC document type code.
func (s *Store) DocTypeCode() string { return s.doc.Terminologies.LOINC.DocType }

// AsOf is the reference date of the first record of every patient.
func (s *Store) AsOf() time.Time { return s.asOf }

// RecordInterval is the nominal number of days between consecutive records of
// one patient.
func (s *Store) RecordInterval() int { return s.doc.RecordIntervalDays }

// Summary reports the size of every pool, keyed by its config path.
func (s *Store) Summary() map[string]int {
	d := s.doc.Demographics
	return map[string]int{
		"demographics.family_names":  len(d.FamilyNames),
		"demographics.given_names":   len(d.GivenNames) + len(d.GivenNamesMale) + len(d.GivenNamesFemale),
		"practitioners.family_names": len(s.doc.Practitioners.FamilyNames),
		"practitioners.given_names":  len(s.doc.Practitioners.GivenNames),
		"clinical_data.allergies":    len(s.pools[Allergies]),
		"clinical_data.medications":  len(s.pools[Medications]),
		"clinical_data.conditions":   len(s.pools[Conditions]),
	}
}
