package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ehr/ipsgen/internal/ips/batch"
	"github.com/ehr/ipsgen/internal/platform/fhir"
	"github.com/ehr/ipsgen/internal/platform/render"
)

// DirSink writes <patient>_<record>.json files, plus a .pdf next to each when
// a renderer is set.
type DirSink struct {
	dir    string
	minify bool
	pdf    *render.PDFRenderer
}

// NewDirSink creates dir if needed. pdf may be nil.
func NewDirSink(dir string, minify bool, pdf *render.PDFRenderer) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return &DirSink{dir: dir, minify: minify, pdf: pdf}, nil
}

func (s *DirSink) Name() string { return "dir" }

func (s *DirSink) Write(_ context.Context, rec batch.Record) error {
	data, err := rec.Bundle.Marshal(s.minify)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	base := filepath.Join(s.dir, rec.FileName())
	if err := os.WriteFile(base+".json", data, 0o644); err != nil {
		return err
	}

	if s.pdf == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := s.pdf.Render(&buf, rec.Bundle); err != nil {
		return err
	}
	return os.WriteFile(base+".pdf", buf.Bytes(), 0o644)
}

func (s *DirSink) Close() error { return nil }

// NDJSONSink writes one minified Bundle per line.
type NDJSONSink struct {
	w *fhir.NDJSONWriter
}

func NewNDJSONSink(w io.Writer) *NDJSONSink {
	return &NDJSONSink{w: fhir.NewNDJSONWriter(w)}
}

func (s *NDJSONSink) Name() string { return "ndjson" }

func (s *NDJSONSink) Write(_ context.Context, rec batch.Record) error {
	return s.w.WriteResource(rec.Bundle)
}

// Close flushes buffered lines; it does not close the underlying writer.
func (s *NDJSONSink) Close() error {
	return s.w.Flush()
}
