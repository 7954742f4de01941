package fhir

import (
	"encoding/json"

	"github.com/ehr/ipsgen/pkg/fhirmodels"
)

// Bundle represents a FHIR document Bundle.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id"`
	Meta         *Meta         `json:"meta,omitempty"`
	Identifier   *Identifier   `json:"identifier,omitempty"`
	Type         string        `json:"type"`
	Timestamp    string        `json:"timestamp"`
	Entry        []BundleEntry `json:"entry"`
}

type BundleEntry struct {
	FullURL  string   `json:"fullUrl"`
	Resource Resource `json:"resource"`
}

// FullURL returns the urn:uuid fullUrl of a resource id.
func FullURL(id string) string {
	return "urn:uuid:" + id
}

// Ref returns a Reference that resolves to the entry holding r.
func Ref(r Resource) Reference {
	return Reference{Reference: FullURL(r.LogicalID())}
}

// NewDocument creates a document Bundle whose first entry is the Composition,
// followed by the other resources in the given order.
func NewDocument(id, timestamp string, composition *Composition, resources ...Resource) *Bundle {
	entries := make([]BundleEntry, 0, len(resources)+1)
	entries = append(entries, BundleEntry{FullURL: FullURL(composition.ID), Resource: composition})
	for _, r := range resources {
		entries = append(entries, BundleEntry{FullURL: FullURL(r.LogicalID()), Resource: r})
	}

	return &Bundle{
		ResourceType: fhirmodels.ResourceBundle,
		ID:           id,
		Meta:         profiled(ProfileBundle),
		Identifier: &Identifier{
			System: fhirmodels.SystemBundleIdentifier,
			Value:  FullURL(id),
		},
		Type:      fhirmodels.BundleTypeDocument,
		Timestamp: timestamp,
		Entry:     entries,
	}
}

// Composition returns the first entry's Composition, or nil.
func (b *Bundle) Composition() *Composition {
	if len(b.Entry) == 0 {
		return nil
	}
	c, _ := b.Entry[0].Resource.(*Composition)
	return c
}

// Patient returns the first Patient entry, or nil.
func (b *Bundle) Patient() *Patient {
	for _, e := range b.Entry {
		if p, ok := e.Resource.(*Patient); ok {
			return p
		}
	}
	return nil
}

// Practitioner returns the first Practitioner entry, or nil.
func (b *Bundle) Practitioner() *Practitioner {
	for _, e := range b.Entry {
		if p, ok := e.Resource.(*Practitioner); ok {
			return p
		}
	}
	return nil
}

// ResourcesOfType returns every entry resource with the given resourceType, in
// entry order.
func (b *Bundle) ResourcesOfType(resourceType string) []Resource {
	var out []Resource
	for _, e := range b.Entry {
		if e.Resource != nil && e.Resource.Kind() == resourceType {
			out = append(out, e.Resource)
		}
	}
	return out
}

// CountByType tallies entries per resourceType.
func (b *Bundle) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, e := range b.Entry {
		if e.Resource != nil {
			counts[e.Resource.Kind()]++
		}
	}
	return counts
}

// Marshal encodes the Bundle, indented by two spaces unless minify is set.
func (b *Bundle) Marshal(minify bool) ([]byte, error) {
	if minify {
		return json.Marshal(b)
	}
	return json.MarshalIndent(b, "", "  ")
}
