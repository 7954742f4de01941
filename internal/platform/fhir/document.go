package fhir

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ehr/ipsgen/pkg/fhirmodels"
)

var (
	ErrNotDocument        = errors.New("bundle is not a document")
	ErrDanglingReference  = errors.New("reference does not resolve within bundle")
	ErrDuplicateEntry     = errors.New("duplicate bundle entry")
	ErrMissingComposition = errors.New("first entry is not a Composition")
)

// ValidateDocument checks the structural invariants of a generated document
// Bundle: type document, Composition first, unique fullUrls, and every
// reference made by any entry resolving to an entry of the same Bundle.
//
// References are resolved either by fullUrl (urn:uuid:<id>) or by the relative
// form <Type>/<id>.
func ValidateDocument(b *Bundle) error {
	if b == nil {
		return fmt.Errorf("bundle is nil: %w", ErrNotDocument)
	}
	if b.Type != fhirmodels.BundleTypeDocument {
		return fmt.Errorf("bundle type %q: %w", b.Type, ErrNotDocument)
	}
	if b.Composition() == nil {
		return ErrMissingComposition
	}

	byFullURL := make(map[string]bool, len(b.Entry))
	byRelative := make(map[string]bool, len(b.Entry))
	for i, e := range b.Entry {
		if e.Resource == nil {
			return fmt.Errorf("entry %d has no resource: %w", i, ErrNotDocument)
		}
		if byFullURL[e.FullURL] {
			return fmt.Errorf("entry %d fullUrl %s: %w", i, e.FullURL, ErrDuplicateEntry)
		}
		byFullURL[e.FullURL] = true
		byRelative[e.Resource.Kind()+"/"+e.Resource.LogicalID()] = true
	}

	for _, e := range b.Entry {
		for _, ref := range e.Resource.References() {
			if !resolves(ref, byFullURL, byRelative) {
				return fmt.Errorf("%s/%s -> %s: %w", e.Resource.Kind(), e.Resource.LogicalID(), ref, ErrDanglingReference)
			}
		}
	}
	return nil
}

func resolves(ref string, byFullURL, byRelative map[string]bool) bool {
	if strings.HasPrefix(ref, "urn:") {
		return byFullURL[ref]
	}
	return byRelative[ref]
}
