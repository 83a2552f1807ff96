package purchase

import (
	"time"

	"github.com/zombor/purchase-tracker/internal/scanning"
)

// Purchase represents a purchase receipt and the fields extracted from it
type Purchase struct {
	ID          string              `json:"id"`
	Supplier    *string             `json:"supplier"`
	RUT         *string             `json:"rut"`
	Date        *string             `json:"date"`  // YYYY-MM-DD
	Total       *float64            `json:"total"` // rounded to 2 decimals on save
	Items       []scanning.LineItem `json:"items"`
	RawText     *string             `json:"raw_text"`
	Document    string              `json:"document,omitempty"` // storage key of the uploaded file
	ContentType string              `json:"content_type,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Preview is a prefilled, unsaved purchase built from an upload
type Preview struct {
	Purchase *Purchase `json:"purchase"`
	// Alert is set when extraction failed or found nothing
	Alert string `json:"alert,omitempty"`
	// Failed reports that the extraction attempt ended in an error
	Failed bool `json:"failed"`
}

// ListResult holds a filtered page of purchases and the sum of their totals
type ListResult struct {
	Purchases []*Purchase `json:"purchases"`
	TotalSum  float64     `json:"total_sum"`
}

// fromExtraction maps an extraction result onto an unsaved purchase
func fromExtraction(r *scanning.ExtractionResult) *Purchase {
	items := r.Items
	if items == nil {
		items = []scanning.LineItem{}
	}
	return &Purchase{
		Supplier: r.Supplier,
		RUT:      r.TaxID,
		Date:     r.Date,
		Total:    r.Total,
		Items:    items,
		RawText:  r.RawText,
	}
}
