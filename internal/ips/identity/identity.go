// Package identity derives stable synthetic patient identities. An identity is
// a pure function of the run seed and the patient index; it never consumes a
// shared random stream, so it does not depend on iteration order or on how
// many records were generated for other patients.
package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ipsgen/internal/platform/pools"
	"github.com/ehr/ipsgen/internal/platform/sampler"
)

// PatientIdentity is the immutable demographic core of one synthetic patient,
// shared by every record generated for that patient.
type PatientIdentity struct {
	Index            int
	Seed             int64
	ResourceID       string
	IdentifierSystem string
	MRN              string
	Family           string
	Given            string
	Gender           string
	BirthDate        time.Time
}

// StableID derives a UUID that is fixed for this patient and the given parts.
// Records use it to give carried-over clinical entries the same id in every
// record of the patient.
func (p PatientIdentity) StableID(parts ...string) string {
	ns, err := uuid.Parse(p.ResourceID)
	if err != nil {
		ns = uuid.NameSpaceOID
	}
	return uuid.NewSHA1(ns, []byte(strings.Join(parts, "/"))).String()
}

// Factory produces identities for one run.
type Factory struct {
	store *pools.Store
	seed  int64
}

func NewFactory(store *pools.Store, seed int64) *Factory {
	return &Factory{store: store, seed: seed}
}

// IdentityFor returns the identity of the patient at index. Draw order on the
// per-patient stream: gender, given name, family name, birth date, MRN suffix,
// resource UUID.
func (f *Factory) IdentityFor(index int) PatientIdentity {
	seed := sampler.DeriveSeed(f.seed, "patient", index)
	s := sampler.FromSeed(seed)

	gender := sampler.Pick(s, f.store.Genders())
	given := sampler.Pick(s, f.store.GivenNames(gender))
	family := sampler.Pick(s, f.store.FamilyNames())

	years := f.store.BirthYears()
	birth := s.Date(
		time.Date(years.Min, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(years.Max, time.December, 31, 0, 0, 0, 0, time.UTC),
	)

	// The index prefix keeps MRNs unique within a run.
	mrn := fmt.Sprintf("IPS-%06d-%04d", index, s.Intn(10000))

	return PatientIdentity{
		Index:            index,
		Seed:             seed,
		ResourceID:       s.UUID(),
		IdentifierSystem: f.store.IdentifierSystem(),
		MRN:              mrn,
		Family:           family,
		Given:            given,
		Gender:           gender,
		BirthDate:        birth,
	}
}
