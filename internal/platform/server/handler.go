package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/ipsgen/internal/ips/batch"
	"github.com/ehr/ipsgen/internal/platform/metrics"
	"github.com/ehr/ipsgen/internal/platform/output"
	"github.com/ehr/ipsgen/internal/platform/pools"
	"github.com/ehr/ipsgen/internal/platform/render"
	"github.com/ehr/ipsgen/pkg/pagination"
)

const (
	MaxPatients = 10000
	MaxRepeats  = 100

	seedHeader = "X-IPS-Seed"
)

// BundleItem is one entry of a bundle listing.
type BundleItem struct {
	PatientIndex int         `json:"patient_index"`
	RecordIndex  int         `json:"record_index"`
	Bundle       interface{} `json:"bundle"`
}

// BundleHandler serves generated IPS Bundles. Every request builds its own
// Generator over the shared, read-only pool store.
type BundleHandler struct {
	store  *pools.Store
	pdf    *render.PDFRenderer
	logger zerolog.Logger
}

func NewBundleHandler(store *pools.Store, logger zerolog.Logger) *BundleHandler {
	return &BundleHandler{store: store, pdf: render.NewPDFRenderer(), logger: logger}
}

// RegisterRoutes registers bundle routes on the given Echo group.
func (h *BundleHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/bundles", h.handleList)
	g.GET("/bundles/:patient/:record", h.handleGet)
	g.GET("/bundles/:patient/:record/pdf", h.handlePDF)
	g.GET("/export/ndjson", h.handleExportNDJSON)
}

// runParams are the query parameters that identify a generated run.
type runParams struct {
	patients int
	repeats  int
	seed     *int64
}

func parseRun(c echo.Context, needPatients bool) (runParams, error) {
	p := runParams{patients: 1, repeats: 1}

	if v := c.QueryParam("patients"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > MaxPatients {
			return p, fmt.Errorf("patients must be an integer between 0 and %d", MaxPatients)
		}
		p.patients = n
	} else if needPatients {
		return p, fmt.Errorf("patients is required")
	}

	if v := c.QueryParam("repeats"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxRepeats {
			return p, fmt.Errorf("repeats must be an integer between 1 and %d", MaxRepeats)
		}
		p.repeats = n
	}

	if v := c.QueryParam("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, fmt.Errorf("seed must be a 64-bit integer")
		}
		p.seed = &n
	}
	return p, nil
}

func (h *BundleHandler) generator(c echo.Context, p runParams) *batch.Generator {
	g := batch.New(h.store, batch.Options{Seed: p.seed, Logger: h.logger})
	c.Response().Header().Set(seedHeader, strconv.FormatInt(g.Seed(), 10))
	return g
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
}

// generationError maps generator errors to a status code.
func generationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, batch.ErrOutOfRange):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, batch.ErrInvalidCount), errors.Is(err, batch.ErrRetentionUnset):
		return badRequest(c, err)
	}
	metrics.RecordBundleError()
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (h *BundleHandler) handleList(c echo.Context) error {
	run, err := parseRun(c, true)
	if err != nil {
		return badRequest(c, err)
	}
	g := h.generator(c, run)
	if err := g.Validate(run.patients, run.repeats); err != nil {
		return generationError(c, err)
	}

	page := pagination.FromContext(c)
	total := run.patients * run.repeats
	start, end := page.Window(total)

	items := make([]BundleItem, 0, end-start)
	for pos := start; pos < end; pos++ {
		if err := c.Request().Context().Err(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		}
		began := time.Now()
		rec, err := g.At(pos/run.repeats, pos%run.repeats)
		if err != nil {
			return generationError(c, err)
		}
		metrics.RecordBundle("api", rec.Bundle.CountByType(), time.Since(began))
		items = append(items, BundleItem{PatientIndex: rec.PatientIndex, RecordIndex: rec.RecordIndex, Bundle: rec.Bundle})
	}

	query := c.QueryParams()
	query.Set("seed", strconv.FormatInt(g.Seed(), 10))

	resp := pagination.NewResponse(items, total, page.Limit, page.Offset)
	resp.Links = page.Links(c.Request().URL.Path, query, total)
	return c.JSON(http.StatusOK, resp)
}

// record parses the path position and generates that record.
func (h *BundleHandler) record(c echo.Context) (batch.Record, error) {
	patient, err := strconv.Atoi(c.Param("patient"))
	if err != nil || patient < 0 {
		return batch.Record{}, badRequest(c, fmt.Errorf("patient must be a non-negative integer"))
	}
	record, err := strconv.Atoi(c.Param("record"))
	if err != nil || record < 0 {
		return batch.Record{}, badRequest(c, fmt.Errorf("record must be a non-negative integer"))
	}
	run, err := parseRun(c, false)
	if err != nil {
		return batch.Record{}, badRequest(c, err)
	}
	if c.QueryParam("patients") != "" && patient >= run.patients {
		return batch.Record{}, generationError(c, fmt.Errorf("patient %d of %d: %w", patient, run.patients, batch.ErrOutOfRange))
	}
	if c.QueryParam("repeats") != "" && record >= run.repeats {
		return batch.Record{}, generationError(c, fmt.Errorf("record %d of %d: %w", record, run.repeats, batch.ErrOutOfRange))
	}

	began := time.Now()
	rec, err := h.generator(c, run).At(patient, record)
	if err != nil {
		return batch.Record{}, generationError(c, err)
	}
	metrics.RecordBundle("api", rec.Bundle.CountByType(), time.Since(began))
	return rec, nil
}

func (h *BundleHandler) handleGet(c echo.Context) error {
	rec, err := h.record(c)
	if err != nil || rec.Bundle == nil {
		return err
	}
	data, err := rec.Bundle.Marshal(c.QueryParam("minify") == "true")
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, output.ContentTypeFHIR, data)
}

func (h *BundleHandler) handlePDF(c echo.Context) error {
	rec, err := h.record(c)
	if err != nil || rec.Bundle == nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.pdf.Render(&buf, rec.Bundle); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", rec.FileName()+".pdf"))
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

func (h *BundleHandler) handleExportNDJSON(c echo.Context) error {
	run, err := parseRun(c, true)
	if err != nil {
		return badRequest(c, err)
	}
	it, err := h.generator(c, run).Batch(run.patients, run.repeats)
	if err != nil {
		return generationError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)

	sink := output.NewNDJSONSink(c.Response().Writer)
	n, err := output.Drain(c.Request().Context(), it, sink, "api", h.logger)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// Headers are already sent; the stream is truncated.
		h.logger.Error().Err(err).Int("written", n).Msg("ndjson export aborted")
	}
	return nil
}
