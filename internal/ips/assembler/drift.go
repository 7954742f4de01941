package assembler

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/ehr/ipsgen/internal/ips/identity"
	"github.com/ehr/ipsgen/internal/platform/pools"
	"github.com/ehr/ipsgen/internal/platform/sampler"
)

// ErrRetentionUnset is returned when a record after the first is requested for
// a category that has no retention fraction configured.
var ErrRetentionUnset = errors.New("retention fraction not configured")

// heldEntry is one clinical entry in a patient's state. It is created at the
// drift step that introduced it and carried unchanged until dropped.
type heldEntry struct {
	poolIndex int
	entry     pools.CodeEntry
	id        string
	step      int
	date      time.Time
}

// clinicalState folds drift steps 0..recordIndex for one category.
//
// Each step draws from Derive(patientSeed, "drift", category, step). Draw
// order within a step: target count, retained subset (steps > 0), new pool
// picks, then one date per new entry.
func (a *Assembler) clinicalState(id identity.PatientIdentity, c pools.Category, recordIndex int) ([]heldEntry, error) {
	pool := a.store.Pool(c)
	rng := a.store.Range(c)

	var held []heldEntry
	for step := 0; step <= recordIndex; step++ {
		s := sampler.Derive(id.Seed, "drift", string(c), step)
		target := s.IntRange(rng.Min, rng.Max)

		var kept []heldEntry
		add := target
		if step > 0 {
			if rng.Retain == nil {
				return nil, fmt.Errorf("%s: %w", c, ErrRetentionUnset)
			}
			retain := *rng.Retain

			var err error
			kept, err = retainSubset(s, held, retain)
			if err != nil {
				return nil, fmt.Errorf("%s step %d: %w", c, step, err)
			}
			add = target - len(kept)
			if retain < 1 && add < 1 {
				add = 1
			}
		}
		if add < 0 {
			add = 0
		}

		unused := unusedIndices(len(pool), held)
		if add > len(unused) {
			add = len(unused)
		}
		picks, err := s.PickN(len(unused), add)
		if err != nil {
			return nil, fmt.Errorf("%s step %d: %w", c, step, err)
		}

		stepDate := a.recordBase(step)
		for _, p := range picks {
			e := pool[unused[p]]
			kept = append(kept, heldEntry{
				poolIndex: unused[p],
				entry:     e,
				id:        id.StableID(c.ResourceType(), e.Code, strconv.Itoa(step)),
				step:      step,
				date:      s.Date(stepDate.AddDate(-5, 0, 0), stepDate),
			})
		}
		held = kept
	}
	return held, nil
}

// retainSubset keeps round(retain*n) of held, in their original order. A
// fraction strictly between 0 and 1 always keeps at least one entry and, when
// there is more than one, drops at least one.
func retainSubset(s *sampler.Sampler, held []heldEntry, retain float64) ([]heldEntry, error) {
	n := len(held)
	keep := int(math.Round(retain * float64(n)))
	if retain > 0 && retain < 1 && n > 0 {
		if keep < 1 {
			keep = 1
		}
		if n > 1 && keep > n-1 {
			keep = n - 1
		}
	}
	if keep > n {
		keep = n
	}

	idx, err := s.PickN(n, keep)
	if err != nil {
		return nil, err
	}
	sort.Ints(idx)

	out := make([]heldEntry, 0, len(idx))
	for _, i := range idx {
		out = append(out, held[i])
	}
	return out, nil
}

// unusedIndices returns the pool indices not present in held, ascending.
func unusedIndices(n int, held []heldEntry) []int {
	inUse := make(map[int]bool, len(held))
	for _, h := range held {
		inUse[h.poolIndex] = true
	}
	out := make([]int, 0, n-len(inUse))
	for i := 0; i < n; i++ {
		if !inUse[i] {
			out = append(out, i)
		}
	}
	return out
}
