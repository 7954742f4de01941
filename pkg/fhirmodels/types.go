package fhirmodels

// Common FHIR value set constants used across the application.

// Resource type names emitted in IPS documents.
const (
	ResourceBundle              = "Bundle"
	ResourceComposition         = "Composition"
	ResourcePatient             = "Patient"
	ResourcePractitioner        = "Practitioner"
	ResourceAllergyIntolerance  = "AllergyIntolerance"
	ResourceMedicationStatement = "MedicationStatement"
	ResourceCondition           = "Condition"
)

// BundleType values per FHIR R4.
const (
	BundleTypeDocument    = "document"
	BundleTypeTransaction = "transaction"
	BundleTypeSearchset   = "searchset"
)

// CompositionStatus values.
const (
	CompositionPreliminary = "preliminary"
	CompositionFinal       = "final"
	CompositionAmended     = "amended"
)

// LOINC codes for the IPS document type and its required sections.
const (
	LOINCPatientSummary  = "60591-5"
	LOINCMedications     = "10160-0"
	LOINCAllergies       = "48765-2"
	LOINCProblems        = "11450-4"
	LOINCPatientSummaryD = "Patient summary Document"
)

// Code systems.
const (
	SystemLOINC                  = "http://loinc.org"
	SystemSNOMED                 = "http://snomed.info/sct"
	SystemRxNorm                 = "http://www.nlm.nih.gov/research/umls/rxnorm"
	SystemConditionClinical      = "http://terminology.hl7.org/CodeSystem/condition-clinical"
	SystemConditionVerification  = "http://terminology.hl7.org/CodeSystem/condition-ver-status"
	SystemAllergyClinical        = "http://terminology.hl7.org/CodeSystem/allergyintolerance-clinical"
	SystemAllergyVerification    = "http://terminology.hl7.org/CodeSystem/allergyintolerance-verification"
	SystemListEmptyReason        = "http://terminology.hl7.org/CodeSystem/list-empty-reason"
	SystemIdentifierType         = "http://terminology.hl7.org/CodeSystem/v2-0203"
	SystemBundleIdentifier       = "urn:ietf:rfc:3986"
	SystemDefaultPatientRegistry = "urn:oid:2.16.840.1.113883.2.4.6.3"
)

// ConditionClinicalStatus codes.
const (
	ConditionActive     = "active"
	ConditionRecurrence = "recurrence"
	ConditionRelapse    = "relapse"
	ConditionInactive   = "inactive"
	ConditionRemission  = "remission"
	ConditionResolved   = "resolved"
)

// MedicationStatement status codes.
const (
	MedicationActive    = "active"
	MedicationCompleted = "completed"
	MedicationOnHold    = "on-hold"
	MedicationStopped   = "stopped"
)

// AdministrativeGender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// Genders lists every AdministrativeGender code in declaration order.
var Genders = []string{GenderMale, GenderFemale, GenderOther, GenderUnknown}

// List empty-reason codes used on empty Composition sections.
const (
	EmptyReasonNilKnown    = "nilknown"
	EmptyReasonNotAsked    = "notasked"
	EmptyReasonUnavailable = "unavailable"
)
