package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-pipeline/internal/document"
	"github.com/zombor/invoice-pipeline/internal/scanning"
)

// DefaultConcurrency bounds in-flight units when none is configured
const DefaultConcurrency = 4

// VisionExtractor extracts one invoice from an image or page document
type VisionExtractor interface {
	Extract(ctx context.Context, blob document.Blob) (*scanning.RawExtraction, error)
}

// RowExtractor extracts one invoice from a spreadsheet or CSV row
type RowExtractor interface {
	ExtractRow(ctx context.Context, sourceFile string, row document.Row) (*scanning.RawExtraction, error)
}

// Runner drives uploaded blobs through the pipeline
type Runner interface {
	Run(ctx context.Context, blobs ...document.Blob) BatchResult
}

// Pipeline is the batch orchestrator. It is stateless between calls and safe
// for concurrent use.
type Pipeline struct {
	vision      VisionExtractor
	tabular     RowExtractor
	concurrency int
}

// NewPipeline creates a Pipeline that runs at most concurrency units at once
func NewPipeline(vision VisionExtractor, tabular RowExtractor, concurrency int) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pipeline{
		vision:      vision,
		tabular:     tabular,
		concurrency: concurrency,
	}
}

// unit is one dispatchable piece of work: a blob for the vision adapter, a
// row for the tabular adapter, or a failure found while expanding
type unit struct {
	source     string
	sourceFile string
	blob       document.Blob
	row        *document.Row
	err        error
}

// expand turns a blob into units without calling any model. Archives are
// opened at depth 0 only.
func expand(b document.Blob, depth int) []unit {
	switch b.Kind() {
	case document.Image, document.PageDocument:
		return []unit{{source: b.Name, sourceFile: b.Name, blob: b}}

	case document.Spreadsheet, document.DelimitedText:
		rows, err := document.ReadRows(b)
		if err != nil {
			return []unit{{source: b.Name, err: err}}
		}
		units := make([]unit, len(rows))
		for i := range rows {
			units[i] = unit{
				source:     scanning.RowLabel(b.Name, rows[i]),
				sourceFile: b.Name,
				row:        &rows[i],
			}
		}
		return units

	case document.Archive:
		if depth > 0 {
			return []unit{{source: b.Name, err: fmt.Errorf("%w: %s", document.ErrNestedArchive, b.Name)}}
		}
		members, err := document.Expand(b)
		if err != nil {
			return []unit{{source: b.Name, err: err}}
		}
		var units []unit
		for _, m := range members {
			units = append(units, expand(m, depth+1)...)
		}
		return units

	default:
		return []unit{{source: b.Name, err: fmt.Errorf("%w: %s", document.ErrUnsupported, b.Name)}}
	}
}

// Run processes every blob and returns one ItemResult per unit in submission
// order. A unit's failure never affects its siblings. Once ctx is cancelled
// no further units start; they are reported as Cancelled. Units already in
// flight finish or fail on their own call timeout.
func (p *Pipeline) Run(ctx context.Context, blobs ...document.Blob) BatchResult {
	start := time.Now()

	var units []unit
	for _, b := range blobs {
		units = append(units, expand(b, 0)...)
	}

	results := make([]ItemResult, len(units))
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, u := range units {
		if u.err != nil {
			results[i] = p.fail(u, u.err)
			continue
		}
		if ctx.Err() != nil {
			results[i] = p.fail(u, cancelled(ctx))
			continue
		}
		g.Go(func() error {
			results[i] = p.process(ctx, u)
			return nil // failures are recorded per item, never abort the batch
		})
	}
	_ = g.Wait()

	batch := BatchResult{Results: results}
	slog.Info("Batch complete",
		"blobs", len(blobs),
		"units", len(units),
		"succeeded", batch.Succeeded(),
		"failed", len(units)-batch.Succeeded(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return batch
}

// process runs one unit from extraction to normalization
func (p *Pipeline) process(ctx context.Context, u unit) (result ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic processing item", "source", u.source, "panic", r)
			result = failed(u.source, &Error{Kind: KindInternal, Message: internalMessage})
		}
	}()

	if ctx.Err() != nil {
		return p.fail(u, cancelled(ctx))
	}

	// A started unit runs to completion under its own call timeout; batch
	// cancellation only stops units that have not started.
	callCtx := context.WithoutCancel(ctx)

	var (
		raw *scanning.RawExtraction
		err error
	)
	if u.row != nil {
		raw, err = p.tabular.ExtractRow(callCtx, u.sourceFile, *u.row)
	} else {
		raw, err = p.vision.Extract(callCtx, u.blob)
	}
	if err != nil {
		return p.fail(u, err)
	}

	return succeeded(u.source, Normalize(raw))
}

// cancelled reports a unit that never started because the batch context ended,
// whether by cancellation or deadline
func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %v", context.Canceled, context.Cause(ctx))
}

func (p *Pipeline) fail(u unit, err error) ItemResult {
	e := Classify(err)
	slog.Warn("Item failed",
		"source", u.source,
		"kind", e.Kind,
		"error", err,
	)
	return failed(u.source, e)
}
