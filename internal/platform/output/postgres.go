package output

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ipsgen/internal/ips/batch"
)

const createBundlesTable = `CREATE TABLE IF NOT EXISTS ips_bundles (
    bundle_id     UUID PRIMARY KEY,
    patient_id    UUID NOT NULL,
    patient_index INTEGER NOT NULL,
    record_index  INTEGER NOT NULL,
    seed          BIGINT NOT NULL,
    document      JSONB NOT NULL,
    created_at    TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (seed, patient_index, record_index)
)`

const upsertBundle = `INSERT INTO ips_bundles (bundle_id, patient_id, patient_index, record_index, seed, document)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (bundle_id) DO UPDATE SET document = EXCLUDED.document`

// execer is the subset of pgxpool.Pool the sink uses.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresSink stores each Bundle as a JSONB row in ips_bundles.
type PostgresSink struct {
	db    execer
	seed  int64
	close func()
}

// OpenPostgres connects to databaseURL and prepares the ips_bundles table.
func OpenPostgres(ctx context.Context, databaseURL string, maxConns, minConns int32, seed int64) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresSink{db: pool, seed: seed, close: pool.Close}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

// EnsureSchema creates the ips_bundles table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createBundlesTable); err != nil {
		return fmt.Errorf("create ips_bundles table: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, rec batch.Record) error {
	doc, err := rec.Bundle.Marshal(true)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	patient := rec.Bundle.Patient()
	if patient == nil {
		return fmt.Errorf("bundle %s has no patient", rec.Bundle.ID)
	}

	_, err = s.db.Exec(ctx, upsertBundle,
		rec.Bundle.ID, patient.ID, rec.PatientIndex, rec.RecordIndex, s.seed, string(doc))
	if err != nil {
		return fmt.Errorf("upsert bundle %s: %w", rec.Bundle.ID, err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
