// Package batch drives identity generation and record assembly over a run of
// patients and repeats.
package batch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/ipsgen/internal/ips/assembler"
	"github.com/ehr/ipsgen/internal/ips/identity"
	"github.com/ehr/ipsgen/internal/platform/fhir"
	"github.com/ehr/ipsgen/internal/platform/pools"
	"github.com/ehr/ipsgen/internal/platform/sampler"
)

var (
	ErrInvalidCount   = errors.New("invalid patient or repeat count")
	ErrRetentionUnset = assembler.ErrRetentionUnset
	ErrOutOfRange     = errors.New("record position out of range")
)

// Record is one generated Bundle and its position in the run.
type Record struct {
	Bundle       *fhir.Bundle
	PatientIndex int
	RecordIndex  int
}

// FileName is the canonical output name of the record without extension.
func (r Record) FileName() string {
	return fmt.Sprintf("%04d_%03d", r.PatientIndex, r.RecordIndex)
}

type Options struct {
	// Seed fixes the run. Nil draws a seed from system entropy; the effective
	// seed is available from Generator.Seed.
	Seed   *int64
	Logger zerolog.Logger
}

// Generator produces Records for one seed over an immutable pool store.
type Generator struct {
	store     *pools.Store
	seed      int64
	identity  *identity.Factory
	assembler *assembler.Assembler
	logger    zerolog.Logger
}

func New(store *pools.Store, opts Options) *Generator {
	seed := sampler.New(opts.Seed).Seed()
	return &Generator{
		store:     store,
		seed:      seed,
		identity:  identity.NewFactory(store, seed),
		assembler: assembler.New(store),
		logger:    opts.Logger.With().Str("component", "batch").Int64("seed", seed).Logger(),
	}
}

// Seed returns the effective run seed.
func (g *Generator) Seed() int64 {
	return g.seed
}

// Validate checks a run shape before any record is generated.
func (g *Generator) Validate(patientCount, repeats int) error {
	if patientCount < 0 {
		return fmt.Errorf("patients must be >= 0, got %d: %w", patientCount, ErrInvalidCount)
	}
	if repeats < 1 {
		return fmt.Errorf("repeats must be >= 1, got %d: %w", repeats, ErrInvalidCount)
	}
	if repeats > 1 {
		for _, c := range pools.Categories {
			if g.store.Range(c).Retain == nil {
				return fmt.Errorf("sampling.%s.retain is required when repeats > 1: %w", c, ErrRetentionUnset)
			}
		}
	}
	return nil
}

// Batch returns an iterator over patientCount x repeats records in
// patient-major order. Nothing is generated until Next is called; call Batch
// again to restart.
func (g *Generator) Batch(patientCount, repeats int) (*Iterator, error) {
	if err := g.Validate(patientCount, repeats); err != nil {
		return nil, err
	}
	g.logger.Info().Int("patients", patientCount).Int("repeats", repeats).Msg("batch started")
	return &Iterator{g: g, patients: patientCount, repeats: repeats, patient: 0, record: -1}, nil
}

// At returns the record at a position of a run with the given repeats. It is
// identical to the record Batch yields at that position.
func (g *Generator) At(patientIndex, recordIndex int) (Record, error) {
	if patientIndex < 0 || recordIndex < 0 {
		return Record{}, fmt.Errorf("patient %d record %d: %w", patientIndex, recordIndex, ErrOutOfRange)
	}
	if err := g.Validate(0, recordIndex+1); err != nil {
		return Record{}, err
	}
	return g.build(g.identity.IdentityFor(patientIndex), recordIndex)
}

// Identity returns the identity of a patient in this run.
func (g *Generator) Identity(patientIndex int) identity.PatientIdentity {
	return g.identity.IdentityFor(patientIndex)
}

func (g *Generator) build(id identity.PatientIdentity, recordIndex int) (Record, error) {
	s := sampler.Derive(id.Seed, "record", recordIndex)
	b, err := g.assembler.Assemble(id, recordIndex, s)
	if err != nil {
		return Record{}, err
	}
	g.logger.Debug().
		Int("patient", id.Index).
		Int("record", recordIndex).
		Str("bundle_id", b.ID).
		Msg(assembler.Describe(b))
	return Record{Bundle: b, PatientIndex: id.Index, RecordIndex: recordIndex}, nil
}

// Iterator walks a batch lazily. It is not safe for concurrent use.
type Iterator struct {
	g        *Generator
	patients int
	repeats  int

	patient int
	record  int
	current identity.PatientIdentity
	rec     Record
	err     error
	done    bool
}

// Next advances to the next record. It returns false when the batch is
// exhausted or an error occurred; check Err afterwards.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	it.record++
	if it.record >= it.repeats {
		it.record = 0
		it.patient++
	}
	if it.patient >= it.patients {
		it.done = true
		it.g.logger.Info().Int("records", it.patients*it.repeats).Msg("batch finished")
		return false
	}
	if it.record == 0 {
		it.current = it.g.identity.IdentityFor(it.patient)
	}

	rec, err := it.g.build(it.current, it.record)
	if err != nil {
		it.err = err
		return false
	}
	it.rec = rec
	return true
}

// Record returns the record produced by the last successful Next.
func (it *Iterator) Record() Record {
	return it.rec
}

func (it *Iterator) Err() error {
	return it.err
}

// Len reports the total number of records in the batch.
func (it *Iterator) Len() int {
	return it.patients * it.repeats
}
