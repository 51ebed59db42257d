package scanning

import "context"

// Request is one call to an external model
type Request struct {
	Prompt string
	Image  []byte // PNG; nil for text-only calls
}

// Model defines the interface for an external vision- or text-capable model
type Model interface {
	// Generate sends a single request and returns the model's raw text reply
	Generate(ctx context.Context, req Request) (string, error)
	// Close closes the model client and releases resources
	Close() error
}

// Method records which adapter produced an extraction
type Method string

const (
	Vision  Method = "vision"
	Tabular Method = "tabular"
)

// RawExtraction is the unnormalized field map returned by an adapter
type RawExtraction struct {
	Fields      map[string]any
	Method      Method
	SourceLabel string // file name, or file name plus row for tabular rows
	SourceFile  string
}
