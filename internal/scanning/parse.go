package scanning

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Normalize parses the model response and coerces every field to its target type.
// Only a response that is not a JSON object is an error; bad field values
// degrade to absent.
func Normalize(raw string) (*ExtractionResult, error) {
	text := stripCodeFence(raw)

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, newResponseFormatError(raw, err)
	}
	if rest := strings.TrimSpace(text[dec.InputOffset():]); rest != "" {
		return nil, newResponseFormatError(raw, errors.New("trailing data after JSON value"))
	}

	fields, ok := doc.(map[string]any)
	if !ok {
		return nil, newResponseFormatError(raw, errors.New("top-level value is not an object"))
	}

	taxID := toText(fields["rut"])
	if taxID == nil {
		taxID = toText(fields["tax_id"])
	}

	return &ExtractionResult{
		Supplier: toText(fields["supplier"]),
		TaxID:    taxID,
		Date:     toDate(fields["date"]),
		Total:    toNumber(fields["total"]),
		Items:    toItems(fields["items"]),
		RawText:  toRawText(fields["raw_text"]),
	}, nil
}

// stripCodeFence removes a surrounding markdown code block if present
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	// Drop the language tag, whatever its case (```json, ```JSON)
	text = strings.TrimLeftFunc(strings.TrimPrefix(text, "```"), unicode.IsLetter)
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func toItems(v any) []LineItem {
	list, ok := v.([]any)
	if !ok {
		return []LineItem{}
	}

	items := make([]LineItem, 0, len(list))
	for _, el := range list {
		obj, ok := el.(map[string]any)
		if !ok {
			items = append(items, LineItem{})
			continue
		}
		items = append(items, LineItem{
			Name:      stringify(obj["name"]),
			Qty:       toNumber(obj["qty"]),
			UnitPrice: toNumber(obj["unit_price"]),
			LineTotal: toNumber(obj["line_total"]),
		})
	}
	return items
}

// toNumber returns a finite number or nil
func toNumber(v any) *float64 {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = strconv.ParseFloat(t.String(), 64)
	case float64:
		f = t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		f, err = strconv.ParseFloat(s, 64)
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// toText returns the trimmed string form of a scalar, or nil when blank
func toText(v any) *string {
	switch v.(type) {
	case string, json.Number, float64:
	default:
		return nil
	}
	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return nil
	}
	return &s
}

// toRawText keeps whatever the model read: lines given as a list are joined
// with newlines, any other value is stringified
func toRawText(v any) *string {
	var s string
	if lines, ok := v.([]any); ok {
		parts := make([]string, 0, len(lines))
		for _, line := range lines {
			parts = append(parts, stringify(line))
		}
		s = strings.Join(parts, "\n")
	} else {
		s = stringify(v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func toDate(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(t); err != nil {
			return ""
		}
		return strings.TrimSpace(buf.String())
	}
}
