package scanning

import "context"

// LineItem is a single purchased line on a receipt
type LineItem struct {
	Name      string   `json:"name"`
	Qty       *float64 `json:"qty"`
	UnitPrice *float64 `json:"unit_price"`
	LineTotal *float64 `json:"line_total"`
}

// ExtractionResult contains the fields extracted from a receipt.
// Absent values are nil; Items is never nil.
type ExtractionResult struct {
	Supplier *string    `json:"supplier"`
	TaxID    *string    `json:"rut"`
	Date     *string    `json:"date"` // YYYY-MM-DD as returned by the model
	Total    *float64   `json:"total"`
	Items    []LineItem `json:"items"`
	RawText  *string    `json:"raw_text"`
}

// Empty reports whether nothing useful was extracted
func (r *ExtractionResult) Empty() bool {
	return r.Supplier == nil && r.TaxID == nil && r.Date == nil && r.Total == nil && len(r.Items) == 0
}

// Extractor defines the interface for receipt extraction
type Extractor interface {
	// Extract analyzes the receipt image/PDF at path and returns its structured fields
	Extract(ctx context.Context, path string, originalFilename string) (*ExtractionResult, error)
}
