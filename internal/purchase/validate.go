package purchase

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/purchase-tracker/internal/scanning"
)

// ValidationError is returned when a purchase cannot be saved as given
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid purchase: " + strings.Join(e.Problems, "; ")
}

const purchaseSchema = `{
  "type": "object",
  "properties": {
    "supplier": {"type": ["string", "null"]},
    "rut":      {"type": ["string", "null"]},
    "date":     {"type": ["string", "null"], "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "total":    {"type": ["number", "null"], "minimum": 0},
    "raw_text": {"type": ["string", "null"]},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name":       {"type": "string"},
          "qty":        {"type": ["number", "null"]},
          "unit_price": {"type": ["number", "null"]},
          "line_total": {"type": ["number", "null"]}
        }
      }
    }
  }
}`

var schema = jsonschema.MustCompileString("purchase.json", purchaseSchema)

// Validate checks the user-editable fields of p: total must be non-negative and
// date must be a real calendar day in YYYY-MM-DD form. Absent values are allowed.
func Validate(p *Purchase) error {
	if p.Total != nil && (math.IsNaN(*p.Total) || math.IsInf(*p.Total, 0)) {
		return &ValidationError{Problems: []string{"total must be a number"}}
	}

	// Missing items are stored as an empty list
	candidate := *p
	if candidate.Items == nil {
		candidate.Items = []scanning.LineItem{}
	}
	data, err := json.Marshal(&candidate)
	if err != nil {
		return fmt.Errorf("marshaling purchase: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshaling purchase: %w", err)
	}

	var problems []string
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return fmt.Errorf("validating purchase: %w", err)
		}
		problems = append(problems, schemaProblems(verr)...)
	}

	if p.Date != nil && len(problems) == 0 {
		if _, err := time.Parse(time.DateOnly, *p.Date); err != nil {
			problems = append(problems, fmt.Sprintf("date %q is not a valid calendar date", *p.Date))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// schemaProblems flattens the leaf causes into "field: message" strings
func schemaProblems(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		field := strings.TrimPrefix(verr.InstanceLocation, "/")
		if field == "" {
			return []string{verr.Message}
		}
		return []string{field + ": " + verr.Message}
	}
	var out []string
	for _, c := range verr.Causes {
		out = append(out, schemaProblems(c)...)
	}
	return out
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
