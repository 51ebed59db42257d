package scanning

import (
	"fmt"
	"strings"
)

// FieldNames are the keys every model reply must contain, in prompt order
var FieldNames = []string{
	"invoice_number",
	"vendor_name",
	"invoice_date",
	"amount",
	"tax_amount",
	"total_amount",
	"payment_status",
}

// responseFormat is shared by the vision and tabular prompts
const responseFormat = `Return ONLY valid JSON in this exact format:
{
  "invoice_number": "INV-0001",
  "vendor_name": "Vendor Name",
  "invoice_date": "YYYY-MM-DD",
  "amount": 0.00,
  "tax_amount": 0.00,
  "total_amount": 0.00,
  "payment_status": "Paid"
}

Important:
- Include every key shown above, and no other keys
- Values must be plain strings or numbers, never objects or arrays
- If you cannot find a field, use null for that field
- Amounts must be numbers without currency symbols
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// invoiceScanPrompt is the instruction sent with every rendered invoice page
const invoiceScanPrompt = `You are analyzing an invoice document. Carefully read all text in the image and extract the following information:

1. **invoice_number**: The invoice number, bill number or reference printed on the document.

2. **vendor_name**: The company that issued the invoice. This is usually the largest text or in a header.

3. **invoice_date**: The date the invoice was issued. Convert it to ISO 8601 format (YYYY-MM-DD).

4. **amount**: The subtotal before tax.

5. **tax_amount**: The total tax (VAT, GST or sales tax).

6. **total_amount**: The final total, grand total or amount due. This is usually at the bottom, labeled "TOTAL", "Amount Due", "Grand Total", or similar.

7. **payment_status**: Whether the invoice is paid, unpaid, partially paid or overdue, if stated.

` + responseFormat

// tabularMappingPrompt wraps a single spreadsheet row
const tabularMappingPrompt = `You are mapping one row of an invoice spreadsheet onto a fixed invoice schema. The column headers are arbitrary and may be inconsistent, abbreviated or in another language. Decide which value belongs to which field:

- invoice_number: invoice number, bill number or reference
- vendor_name: the supplier, vendor or company that issued the invoice
- invoice_date: the invoice date, converted to YYYY-MM-DD
- amount: subtotal before tax
- tax_amount: tax, VAT or GST
- total_amount: grand total or amount due
- payment_status: paid, unpaid, partially paid or overdue

Row (one "header: value" pair per line):
%s

` + responseFormat

// buildRowPrompt builds the mapping instruction for one row's label:value text
func buildRowPrompt(rowText string) string {
	return fmt.Sprintf(tabularMappingPrompt, strings.TrimSpace(rowText))
}
