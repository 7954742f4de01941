package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/ehr/ipsgen/internal/ips/batch"
	"github.com/ehr/ipsgen/internal/platform/pools"
	"github.com/ehr/ipsgen/internal/platform/render"
)

// ---------------------------------------------------------------------------
// Helper utilities
// ---------------------------------------------------------------------------

func iterator(t *testing.T, patients, repeats int) *batch.Iterator {
	t.Helper()
	store, err := pools.Load("../../../config/ips_config.json")
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	seed := int64(42)
	it, err := batch.New(store, batch.Options{Seed: &seed, Logger: zerolog.Nop()}).Batch(patients, repeats)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	return it
}

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, f.err
}

type fakePutter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakePutter() *fakePutter {
	return &fakePutter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	f.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

type failingSink struct{}

func (failingSink) Name() string                             { return "failing" }
func (failingSink) Write(context.Context, batch.Record) error { return errors.New("boom") }
func (failingSink) Close() error                             { return nil }

// ---------------------------------------------------------------------------
// Directory sink
// ---------------------------------------------------------------------------

func TestDirSink_WritesNamedFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink, err := NewDirSink(dir, false, render.NewPDFRenderer())
	if err != nil {
		t.Fatalf("new dir sink: %v", err)
	}

	n, err := Drain(context.Background(), iterator(t, 2, 2), sink, "cli", zerolog.Nop())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 records, got %d", n)
	}

	for _, name := range []string{"0000_000", "0000_001", "0001_000", "0001_001"} {
		data, err := os.ReadFile(filepath.Join(dir, name+".json"))
		if err != nil {
			t.Fatalf("read %s.json: %v", name, err)
		}
		if !bytes.Contains(data, []byte("\n  \"resourceType\": \"Bundle\"")) {
			t.Fatalf("expected indented Bundle JSON in %s", name)
		}
		pdf, err := os.ReadFile(filepath.Join(dir, name+".pdf"))
		if err != nil {
			t.Fatalf("read %s.pdf: %v", name, err)
		}
		if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
			t.Fatalf("expected PDF content in %s.pdf", name)
		}
	}
}

func TestDirSink_Minify(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir, true, nil)
	if err != nil {
		t.Fatalf("new dir sink: %v", err)
	}
	if _, err := Drain(context.Background(), iterator(t, 1, 1), sink, "cli", zerolog.Nop()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "0000_000.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if bytes.Contains(data, []byte("\n")) {
		t.Fatal("expected minified JSON")
	}
	if _, err := os.Stat(filepath.Join(dir, "0000_000.pdf")); !os.IsNotExist(err) {
		t.Fatal("expected no PDF without a renderer")
	}
}

// ---------------------------------------------------------------------------
// NDJSON sink
// ---------------------------------------------------------------------------

func TestNDJSONSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewNDJSONSink(&buf)
	if _, err := Drain(context.Background(), iterator(t, 2, 3), sink, "cli", zerolog.Nop()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sc := bufio.NewScanner(&buf)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lines := 0
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		if m["type"] != "document" {
			t.Fatalf("line %d: expected document bundle", lines)
		}
		lines++
	}
	if lines != 6 {
		t.Fatalf("expected 6 lines, got %d", lines)
	}
}

// ---------------------------------------------------------------------------
// PostgreSQL sink
// ---------------------------------------------------------------------------

func TestPostgresSink_Upserts(t *testing.T) {
	db := &fakeExecer{}
	sink := &PostgresSink{db: db, seed: 42}

	if err := sink.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := Drain(context.Background(), iterator(t, 1, 2), sink, "cli", zerolog.Nop()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if len(db.calls) != 3 {
		t.Fatalf("expected schema + 2 upserts, got %d calls", len(db.calls))
	}
	if !strings.Contains(db.calls[0].sql, "CREATE TABLE IF NOT EXISTS ips_bundles") {
		t.Fatalf("expected schema creation first, got %s", db.calls[0].sql)
	}
	for i, call := range db.calls[1:] {
		if !strings.Contains(call.sql, "ON CONFLICT (bundle_id)") {
			t.Fatalf("call %d: expected upsert, got %s", i, call.sql)
		}
		if len(call.args) != 6 {
			t.Fatalf("call %d: expected 6 args, got %d", i, len(call.args))
		}
		if call.args[3] != i || call.args[4] != int64(42) {
			t.Fatalf("call %d: unexpected record index or seed %v", i, call.args)
		}
		doc, ok := call.args[5].(string)
		if !ok || !json.Valid([]byte(doc)) {
			t.Fatalf("call %d: expected JSON document string", i)
		}
	}
	// Both records belong to the same patient.
	if db.calls[1].args[1] != db.calls[2].args[1] {
		t.Fatal("expected the same patient id in both rows")
	}
}

func TestPostgresSink_ExecError(t *testing.T) {
	sink := &PostgresSink{db: &fakeExecer{err: errors.New("connection refused")}}
	_, err := Drain(context.Background(), iterator(t, 1, 1), sink, "cli", zerolog.Nop())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected wrapped exec error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// S3 sink
// ---------------------------------------------------------------------------

func TestS3Sink_PutsObjects(t *testing.T) {
	client := newFakePutter()
	sink := &S3Sink{client: client, cfg: S3Config{Bucket: "ips", Prefix: "runs/42", Minify: true}, pdf: render.NewPDFRenderer()}

	if _, err := Drain(context.Background(), iterator(t, 1, 2), sink, "cli", zerolog.Nop()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	for _, key := range []string{"runs/42/0000_000.json", "runs/42/0000_001.json"} {
		data, ok := client.objects[key]
		if !ok {
			t.Fatalf("expected object %s, have %v", key, len(client.objects))
		}
		if !json.Valid(data) || bytes.Contains(data, []byte("\n")) {
			t.Fatalf("expected minified JSON in %s", key)
		}
		if client.types[key] != ContentTypeFHIR {
			t.Fatalf("unexpected content type %s", client.types[key])
		}
	}
	if client.types["runs/42/0000_000.pdf"] != "application/pdf" {
		t.Fatal("expected PDF object alongside JSON")
	}
}

func TestS3Sink_PutError(t *testing.T) {
	client := newFakePutter()
	client.err = errors.New("access denied")
	sink := &S3Sink{client: client, cfg: S3Config{Bucket: "ips"}}

	_, err := Drain(context.Background(), iterator(t, 1, 1), sink, "cli", zerolog.Nop())
	if err == nil || !strings.Contains(err.Error(), "s3://ips/0000_000.json") {
		t.Fatalf("expected error naming the object, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Drain
// ---------------------------------------------------------------------------

func TestDrain_StopsOnWriteError(t *testing.T) {
	n, err := Drain(context.Background(), iterator(t, 2, 1), failingSink{}, "cli", zerolog.Nop())
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Fatalf("expected no records written, got %d", n)
	}
}

func TestDrain_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	n, err := Drain(ctx, iterator(t, 2, 1), NewNDJSONSink(&buf), "cli", zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing written, got %d", n)
	}
}
