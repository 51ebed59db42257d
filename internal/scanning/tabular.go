package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/invoice-pipeline/internal/document"
)

// TabularExtractor maps one spreadsheet or CSV row onto the invoice fields
// with a text-only model call. Each row is a separate call.
type TabularExtractor struct {
	model   Model
	timeout time.Duration
}

// NewTabularExtractor creates a TabularExtractor. A zero timeout uses DefaultTimeout.
func NewTabularExtractor(model Model, timeout time.Duration) *TabularExtractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TabularExtractor{model: model, timeout: timeout}
}

// RowLabel identifies a row of a source file in results and logs
func RowLabel(sourceFile string, row document.Row) string {
	return fmt.Sprintf("%s#row%d", sourceFile, row.Number)
}

// ExtractRow makes exactly one text model call for the row
func (t *TabularExtractor) ExtractRow(ctx context.Context, sourceFile string, row document.Row) (*RawExtraction, error) {
	label := RowLabel(sourceFile, row)

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	text, err := t.model.Generate(callCtx, Request{Prompt: buildRowPrompt(row.Text())})
	if err != nil {
		return nil, fmt.Errorf("calling text model for %s: %w", label, classifyCallError(err))
	}

	fields, err := ParseFields(text)
	if err != nil {
		slog.Warn("Text model returned an invalid response",
			"source", label,
			"response_len", len(text),
			"error", err,
		)
		return nil, fmt.Errorf("parsing text response for %s: %w", label, err)
	}

	return &RawExtraction{
		Fields:      fields,
		Method:      Tabular,
		SourceLabel: label,
		SourceFile:  sourceFile,
	}, nil
}
