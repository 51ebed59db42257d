package invoice

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of a calendar date
const DateLayout = "2006-01-02"

// Date is a calendar date at UTC midnight
type Date struct {
	time.Time
}

// NewDate returns the calendar date of t
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON encodes the date as "YYYY-MM-DD"
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a "YYYY-MM-DD" string
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding date: %w", err)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return fmt.Errorf("parsing date: %w", err)
	}
	*d = NewDate(t.Year(), t.Month(), t.Day())
	return nil
}

// CanonicalInvoice is the fixed-schema output of the pipeline. Nil fields
// were missing or unparseable in the source.
type CanonicalInvoice struct {
	InvoiceNumber *string  `json:"invoice_number"`
	VendorName    string   `json:"vendor_name"`
	InvoiceDate   *Date    `json:"invoice_date"`
	Amount        *decimal.Decimal `json:"amount"`
	TaxAmount     *decimal.Decimal `json:"tax_amount"`
	TotalAmount   *decimal.Decimal `json:"total_amount"`
	PaymentStatus *string  `json:"payment_status"`
	SourceFile    string   `json:"source_file"`
}

// Record is a persisted CanonicalInvoice
type Record struct {
	ID          string    `json:"id"`
	UploadedAt  time.Time `json:"uploaded_at"`
	UploadPath  string    `json:"upload_path,omitempty"` // stored original upload
	ContentType string    `json:"content_type,omitempty"`
	CanonicalInvoice
}

// Status is the outcome of one unit
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
)

// ItemResult is the outcome of one dispatched unit: a file, an archive member
// or a spreadsheet row. Success carries exactly one invoice; Failed carries none.
type ItemResult struct {
	Source     string            `json:"source"`
	Status     Status            `json:"status"`
	Invoice    *CanonicalInvoice `json:"invoice,omitempty"`
	ID         string            `json:"id,omitempty"`
	UploadedAt *time.Time        `json:"uploaded_at,omitempty"`
	Error      *Error            `json:"error,omitempty"`
}

func succeeded(source string, inv CanonicalInvoice) ItemResult {
	return ItemResult{Source: source, Status: StatusSuccess, Invoice: &inv}
}

func failed(source string, e *Error) ItemResult {
	return ItemResult{Source: source, Status: StatusFailed, Error: e}
}

// BatchResult holds one ItemResult per unit, in submission order
type BatchResult struct {
	Results []ItemResult `json:"results"`
}

// Succeeded counts the successful items
func (b BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Status == StatusSuccess {
			n++
		}
	}
	return n
}
