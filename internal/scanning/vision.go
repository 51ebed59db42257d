package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/invoice-pipeline/internal/document"
)

// DefaultTimeout bounds a single external model call
const DefaultTimeout = 60 * time.Second

// VisionExtractor extracts invoice fields from an image or the first page of a PDF
type VisionExtractor struct {
	model        Model
	timeout      time.Duration
	maxDimension int
}

// NewVisionExtractor creates a VisionExtractor. A zero timeout uses DefaultTimeout.
func NewVisionExtractor(model Model, timeout time.Duration, maxDimension int) *VisionExtractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &VisionExtractor{
		model:        model,
		timeout:      timeout,
		maxDimension: maxDimension,
	}
}

// Extract renders the blob to PNG and makes exactly one vision model call
func (v *VisionExtractor) Extract(ctx context.Context, blob document.Blob) (*RawExtraction, error) {
	start := time.Now()

	pngData, err := PreparePNG(blob, v.maxDimension)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	text, err := v.model.Generate(callCtx, Request{
		Prompt: invoiceScanPrompt,
		Image:  pngData,
	})
	if err != nil {
		return nil, fmt.Errorf("calling vision model for %s: %w", blob.Name, classifyCallError(err))
	}

	fields, err := ParseFields(text)
	if err != nil {
		slog.Warn("Vision model returned an invalid response",
			"filename", blob.Name,
			"response_len", len(text),
			"error", err,
		)
		return nil, fmt.Errorf("parsing vision response for %s: %w", blob.Name, err)
	}

	slog.Debug("Vision extraction complete",
		"filename", blob.Name,
		"image_size", len(pngData),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return &RawExtraction{
		Fields:      fields,
		Method:      Vision,
		SourceLabel: blob.Name,
		SourceFile:  blob.Name,
	}, nil
}
