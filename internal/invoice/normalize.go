package invoice

import (
	"encoding/json"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-pipeline/internal/scanning"
)

// AliasTableVersion changes whenever aliasTable changes meaning
const AliasTableVersion = "2024.1"

// UnknownVendor is used when no vendor name survives normalization
const UnknownVendor = "Unknown"

type aliasGroup struct {
	field   string
	aliases []string // normalized keys, most specific first
}

// aliasTable maps observed field names onto canonical fields. Within a group
// the first alias present with a usable value wins.
var aliasTable = []aliasGroup{
	{"invoice_number", []string{"invoice number", "invoice no", "invoice #", "invoice id", "inv no", "bill number", "bill no", "reference", "number"}},
	{"vendor_name", []string{"vendor name", "vendor", "supplier name", "supplier", "company name", "company", "merchant", "seller", "issuer"}},
	{"invoice_date", []string{"invoice date", "date", "bill date", "issue date", "issued", "transaction date"}},
	{"amount", []string{"amount", "subtotal", "sub total", "pre tax amount", "net amount", "net"}},
	{"tax_amount", []string{"tax amount", "tax", "vat", "gst", "sales tax"}},
	{"total_amount", []string{"total amount", "grand total", "amount due", "total due", "balance due", "total"}},
	{"payment_status", []string{"payment status", "status", "paid"}},
}

// dateLayouts are tried in order; the first that parses wins, so an
// ambiguous "03/04/2024" is always March 4.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"2.1.2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006/01/02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var (
	keySeparators = strings.NewReplacer("_", " ", "-", " ", ".", " ", ":", " ")
	currencyHead  = regexp.MustCompile(`^(?:\p{L}+\.?|[^\d\-.\p{L}])+`)
	currencyTail  = regexp.MustCompile(`[^\d]+$`)
	nonNumeric    = regexp.MustCompile(`[^0-9.,]`)
	thousandsOnly = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+$`)
	decimalComma  = regexp.MustCompile(`^-?\d+,\d{1,2}$`)
	emptyMarkers  = []string{"", "null", "none", "n/a", "na", "-"}
)

// normalizeKey folds case, separators and whitespace so "Grand_Total" and
// "grand total" compare equal
func normalizeKey(key string) string {
	return strings.Join(strings.Fields(keySeparators.Replace(strings.ToLower(key))), " ")
}

// Normalize maps a RawExtraction onto the canonical schema. Unknown keys are
// dropped and unparseable values become nil; it never fails. Applying it to
// the Fields of its own output yields the same invoice.
func Normalize(raw *scanning.RawExtraction) CanonicalInvoice {
	values := make(map[string]any, len(raw.Fields))
	keys := make([]string, 0, len(raw.Fields))
	for k := range raw.Fields {
		keys = append(keys, k)
	}
	// Sorted so keys that fold to the same form resolve the same way every run.
	slices.Sort(keys)
	for _, k := range keys {
		nk := normalizeKey(k)
		if _, seen := values[nk]; !seen || isEmpty(values[nk]) {
			values[nk] = raw.Fields[k]
		}
	}

	resolved := make(map[string]any, len(aliasTable))
	for _, group := range aliasTable {
		candidates := append([]string{normalizeKey(group.field)}, group.aliases...)
		for _, alias := range candidates {
			if v, ok := values[alias]; ok && !isEmpty(v) {
				resolved[group.field] = v
				break
			}
		}
	}

	inv := CanonicalInvoice{
		InvoiceNumber: parseText(resolved["invoice_number"]),
		VendorName:    UnknownVendor,
		InvoiceDate:   parseDateValue(resolved["invoice_date"]),
		Amount:        ParseAmount(resolved["amount"]),
		TaxAmount:     ParseAmount(resolved["tax_amount"]),
		TotalAmount:   ParseAmount(resolved["total_amount"]),
		PaymentStatus: parseText(resolved["payment_status"]),
		SourceFile:    raw.SourceFile,
	}
	if vendor := parseText(resolved["vendor_name"]); vendor != nil {
		inv.VendorName = *vendor
	}
	return inv
}

// Fields returns the invoice as a canonical field map, the inverse of Normalize
func (c CanonicalInvoice) Fields() map[string]any {
	fields := map[string]any{"vendor_name": c.VendorName}
	if c.InvoiceNumber != nil {
		fields["invoice_number"] = *c.InvoiceNumber
	}
	if c.InvoiceDate != nil {
		fields["invoice_date"] = *c.InvoiceDate
	}
	if c.Amount != nil {
		fields["amount"] = *c.Amount
	}
	if c.TaxAmount != nil {
		fields["tax_amount"] = *c.TaxAmount
	}
	if c.TotalAmount != nil {
		fields["total_amount"] = *c.TotalAmount
	}
	if c.PaymentStatus != nil {
		fields["payment_status"] = *c.PaymentStatus
	}
	return fields
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return slices.Contains(emptyMarkers, strings.ToLower(strings.TrimSpace(t)))
	}
	return false
}

func parseText(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case json.Number:
		s = t.String()
	default:
		return nil
	}
	if isEmpty(s) {
		return nil
	}
	return &s
}

func parseDateValue(v any) *Date {
	switch t := v.(type) {
	case Date:
		return &t
	case *Date:
		return t
	case time.Time:
		d := NewDate(t.Year(), t.Month(), t.Day())
		return &d
	case string:
		return ParseDate(t)
	}
	return nil
}

// ParseDate tries each layout in dateLayouts in order and returns nil when
// none match
func ParseDate(s string) *Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := NewDate(t.Year(), t.Month(), t.Day())
			return &d
		}
	}
	return nil
}

// ParseAmount coerces a number or currency-like string such as "$1,234.50",
// "EUR 12,50", "Rs. 1,500" or "(15.00)" to a decimal. Unparseable input
// returns nil.
func ParseAmount(v any) *decimal.Decimal {
	var d decimal.Decimal
	switch t := v.(type) {
	case decimal.Decimal:
		d = t
	case *decimal.Decimal:
		if t == nil {
			return nil
		}
		d = *t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		d = decimal.NewFromFloat(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case json.Number:
		parsed, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil
		}
		d = parsed
	case string:
		parsed, ok := parseAmountString(t)
		if !ok {
			return nil
		}
		d = parsed
	default:
		return nil
	}
	return &d
}

// parseAmountString drops currency markers at either end, including
// abbreviations with dots such as "Rs.", before reading the separators
func parseAmountString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = currencyHead.ReplaceAllString(s, "")
	if strings.HasPrefix(s, "-") {
		negative = true
		s = currencyHead.ReplaceAllString(s[1:], "")
	}
	s = currencyTail.ReplaceAllString(s, "")
	s = nonNumeric.ReplaceAllString(s, "")
	if s == "" {
		return decimal.Decimal{}, false
	}

	lastComma, lastDot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		// 1.234,56
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0 && lastDot == -1 && decimalComma.MatchString(s) && !thousandsOnly.MatchString(s):
		// 12,50
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if negative && d.IsPositive() {
		d = d.Neg()
	}
	return d, true
}
