// File: internal/usecase/receipt_parser.go
package usecase

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"splitmate-scan/internal/domain"
	"splitmate-scan/internal/domain/model"
)

// UnknownItemName replaces empty or non-text item names.
const UnknownItemName = "Unknown Item"

// ReceiptPrompt instructs the vision model. The reply format is parsed by
// ParseLineItems, not trusted.
const ReceiptPrompt = `You are reading a photo or scan of a purchase receipt.
Return ONLY a JSON array. Each element must be an object {"name": string, "price": number}
for one purchased line item, in the order printed on the receipt.

Rules:
- Include tax, VAT and service-charge lines as their own items.
- Exclude tips, gratuity, subtotals, totals, balance due, change, payment method,
  card numbers and any other payment metadata.
- Exclude discount or coupon markers.
- Use the line's final price as a plain number without currency symbols.
- If the image is not a receipt or no items can be read, return [].`

// ExtractJSONArray returns the first top-level JSON array embedded in text,
// skipping bracketed prose that is not valid JSON. Brackets inside JSON
// strings are ignored.
func ExtractJSONArray(text string) (string, bool) {
	for start := strings.IndexByte(text, '['); start >= 0; {
		if end, ok := matchBracket(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBracket finds the ']' closing the '[' at start.
func matchBracket(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

var errNoArray = errors.New("no JSON array in model response")

// ParseLineItems locates, decodes and normalizes the model's answer. It
// fails with PARSE_FAILED only; emptiness is judged by ValidateLineItems.
func ParseLineItems(text string) ([]model.LineItem, error) {
	raw, ok := ExtractJSONArray(text)
	if !ok {
		return nil, domain.NewScanError(domain.CodeParseFailed, errNoArray)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, domain.NewScanError(domain.CodeParseFailed, err)
	}
	items := make([]model.LineItem, 0, len(elems))
	for _, e := range elems {
		items = append(items, normalizeItem(e))
	}
	return items, nil
}

func normalizeItem(raw json.RawMessage) model.LineItem {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return model.LineItem{Name: UnknownItemName}
	}
	return model.LineItem{
		Name:  normalizeName(obj["name"]),
		Price: normalizePrice(obj["price"]),
	}
}

func normalizeName(v any) string {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownItemName
	}
	return s
}

// normalizePrice accepts numbers and numeric strings. Non-positive or
// unparsable values become 0; the rest are rounded to cents.
func normalizePrice(v any) float64 {
	var p float64
	switch t := v.(type) {
	case float64:
		p = t
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimLeft(s, "$€£¥ ")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		p = f
	default:
		return 0
	}
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return 0
	}
	return math.Round(p*100) / 100
}

// ValidateLineItems rejects results that do not look like a receipt: no items
// at all, or no item with a positive price.
func ValidateLineItems(items []model.LineItem) error {
	if len(items) == 0 {
		return domain.NewScanError(domain.CodeInvalidReceipt, errors.New("model returned no items"))
	}
	for _, it := range items {
		if it.Price > 0 {
			return nil
		}
	}
	return domain.NewScanError(domain.CodeInvalidReceipt, errors.New("no item has a positive price"))
}
