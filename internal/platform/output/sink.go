// Package output writes generated records to their destinations: a directory
// of JSON files, an NDJSON stream, a PostgreSQL table or an S3 bucket.
package output

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ipsgen/internal/ips/batch"
	"github.com/ehr/ipsgen/internal/platform/metrics"
)

const ContentTypeFHIR = "application/fhir+json"

// Sink receives records in batch order.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec batch.Record) error
	Close() error
}

// Drain writes every record of it to sink and returns how many were written.
// It stops at the first generation or write error and when ctx is done.
func Drain(ctx context.Context, it *batch.Iterator, sink Sink, source string, logger zerolog.Logger) (int, error) {
	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		start := time.Now()
		if !it.Next() {
			break
		}
		rec := it.Record()
		metrics.RecordBundle(source, rec.Bundle.CountByType(), time.Since(start))

		start = time.Now()
		err := sink.Write(ctx, rec)
		metrics.RecordSinkWrite(sink.Name(), err, time.Since(start))
		if err != nil {
			return written, fmt.Errorf("write %s to %s sink: %w", rec.FileName(), sink.Name(), err)
		}
		written++

		logger.Debug().
			Str("sink", sink.Name()).
			Int("patient", rec.PatientIndex).
			Int("record", rec.RecordIndex).
			Msg("record written")
	}
	if err := it.Err(); err != nil {
		metrics.RecordBundleError()
		return written, err
	}
	return written, nil
}
