package domain

import (
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/sundai-club/shop/pkg/errors"
)

// LineItem is one stored cart record. The unit price is captured when the
// line is added and never rewritten.
type LineItem struct {
	ProductID    string          `json:"product_id"`
	VariantLabel string          `json:"variant_label"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

// Key returns the line's group key.
func (l LineItem) Key() string {
	return GroupKey(l.ProductID, l.VariantLabel)
}

// Total is unit price times quantity.
func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// GroupKey serializes (productID, label) as "<len>:<productID>|<len>:<label>".
// The length prefixes make the encoding injective whatever characters the
// parts contain.
func GroupKey(productID, label string) string {
	var b strings.Builder
	b.Grow(len(productID) + len(label) + 8)
	b.WriteString(strconv.Itoa(len(productID)))
	b.WriteByte(':')
	b.WriteString(productID)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(len(label)))
	b.WriteByte(':')
	b.WriteString(label)
	return b.String()
}

// AggregatedEntry groups the cart lines sharing a product and variant.
type AggregatedEntry struct {
	Key          string   `json:"key"`
	ProductID    string   `json:"product_id"`
	VariantLabel string   `json:"variant_label"`
	Product      *Product `json:"product,omitempty"`
	// UnitPrice is the display price: the price of the most recently added
	// contributing line.
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalQuantity int             `json:"total_quantity"`
	// Subtotal sums each contributing line at its own captured price.
	Subtotal  decimal.Decimal `json:"subtotal"`
	Positions []int           `json:"positions"`
	// Lines are the contributing lines, in storage order.
	Lines []LineItem `json:"-"`
}

// LastPosition is the storage position of the most recently added line.
func (e AggregatedEntry) LastPosition() int {
	return e.Positions[len(e.Positions)-1]
}

// Aggregate groups lines by (product, variant) and returns the groups sorted
// ascending by group key. It does not retain or modify lines.
func Aggregate(lines []LineItem) []AggregatedEntry {
	byKey := make(map[string]*AggregatedEntry)
	for pos, line := range lines {
		key := line.Key()
		e, ok := byKey[key]
		if !ok {
			e = &AggregatedEntry{
				Key:          key,
				ProductID:    line.ProductID,
				VariantLabel: line.VariantLabel,
				Subtotal:     decimal.Zero,
			}
			byKey[key] = e
		}
		e.TotalQuantity += line.Quantity
		e.Subtotal = e.Subtotal.Add(line.Total())
		e.UnitPrice = line.UnitPrice
		e.Positions = append(e.Positions, pos)
		e.Lines = append(e.Lines, line)
	}

	entries := make([]AggregatedEntry, 0, len(byKey))
	for _, e := range byKey {
		entries = append(entries, *e)
	}
	slices.SortFunc(entries, func(a, b AggregatedEntry) int {
		return strings.Compare(a.Key, b.Key)
	})
	return entries
}

// EntryAt resolves a display index against a freshly computed aggregation.
// An index with no group means the caller rendered an older cart.
func EntryAt(entries []AggregatedEntry, index int) (AggregatedEntry, error) {
	if index < 0 || index >= len(entries) {
		return AggregatedEntry{}, apperrors.StaleCart(index)
	}
	return entries[index], nil
}

// Subtotal sums every line at its own captured price.
func Subtotal(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

// TotalQuantity sums the quantities of lines.
func TotalQuantity(lines []LineItem) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// OrderItem is one row of the cart snapshot handed to the payment and
// fulfillment providers.
type OrderItem struct {
	ProductID         string          `json:"product_id"`
	VariantLabel      string          `json:"variant_label"`
	ExternalVariantID string          `json:"external_variant_id,omitempty"`
	Name              string          `json:"name"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
}

// Total is unit price times quantity.
func (i OrderItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Snapshot flattens the aggregation into order items. Lines of one group
// that were captured at different prices stay separate rows, so the
// snapshot total always equals the cart subtotal.
func Snapshot(entries []AggregatedEntry) []OrderItem {
	var items []OrderItem
	for _, e := range entries {
		name := e.ProductID
		externalID := ""
		if e.Product != nil {
			name = e.Product.Name + " (" + e.VariantLabel + ")"
			if v, ok := e.Product.Variant(e.VariantLabel); ok {
				externalID = v.ExternalID
			}
		}

		start := len(items)
		for _, line := range e.Lines {
			merged := false
			for i := start; i < len(items); i++ {
				if items[i].UnitPrice.Equal(line.UnitPrice) {
					items[i].Quantity += line.Quantity
					merged = true
					break
				}
			}
			if !merged {
				items = append(items, OrderItem{
					ProductID:         e.ProductID,
					VariantLabel:      e.VariantLabel,
					ExternalVariantID: externalID,
					Name:              name,
					Quantity:          line.Quantity,
					UnitPrice:         line.UnitPrice,
				})
			}
		}
	}
	return items
}

// SnapshotTotal sums the snapshot rows.
func SnapshotTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, i := range items {
		total = total.Add(i.Total())
	}
	return total
}
