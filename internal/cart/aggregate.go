package cart

import (
	"math"

	"julianmorley.ca/con-plar/storefront/pkg/models"
	"julianmorley.ca/con-plar/storefront/pkg/money"
)

// Aggregate is one user's in_cart lines joined with their products. It is an
// immutable value: every mutation builds a new Aggregate, and totals are always
// folded from the lines it holds.
type Aggregate struct {
	UserID string
	lines  []models.CartLine
}

// Empty is the aggregate shown to anonymous visitors.
var Empty = Aggregate{}

// NewAggregate copies lines, keeping only in_cart lines with a positive quantity.
func NewAggregate(userID string, lines []models.CartLine) Aggregate {
	kept := make([]models.CartLine, 0, len(lines))
	for _, l := range lines {
		if l.Status != "" && l.Status != models.StatusInCart {
			continue
		}
		if l.Quantity < 1 {
			continue
		}
		kept = append(kept, cloneLine(l))
	}
	return Aggregate{UserID: userID, lines: kept}
}

// Lines returns a copy of the current lines.
func (a Aggregate) Lines() []models.CartLine {
	out := make([]models.CartLine, len(a.lines))
	for i, l := range a.lines {
		out[i] = cloneLine(l)
	}
	return out
}

// Subtotal is Σ(quantity × price) over the current lines. A cart whose
// total does not fit in int64 reports math.MaxInt64; checkout refuses it.
func (a Aggregate) Subtotal() int64 {
	var sum int64
	for _, l := range a.lines {
		next, err := money.AddLine(sum, l.LineTotal(), 1)
		if err != nil {
			return math.MaxInt64
		}
		sum = next
	}
	return sum
}

// Count is the number of in_cart lines, which is what the cart badge shows.
func (a Aggregate) Count() int {
	return len(a.lines)
}

// Units is the total quantity across lines.
func (a Aggregate) Units() int {
	n := 0
	for _, l := range a.lines {
		n += l.Quantity
	}
	return n
}

func (a Aggregate) IsEmpty() bool {
	return len(a.lines) == 0
}

// Line looks up a line by id.
func (a Aggregate) Line(lineID string) (models.CartLine, bool) {
	for _, l := range a.lines {
		if l.ID == lineID {
			return cloneLine(l), true
		}
	}
	return models.CartLine{}, false
}

// WithQuantity returns a copy with the line's quantity replaced.
func (a Aggregate) WithQuantity(lineID string, quantity int) (Aggregate, bool) {
	idx := a.index(lineID)
	if idx < 0 {
		return a, false
	}
	lines := a.Lines()
	lines[idx].Quantity = quantity
	return Aggregate{UserID: a.UserID, lines: lines}, true
}

// Without returns a copy with the line removed.
func (a Aggregate) Without(lineID string) (Aggregate, bool) {
	idx := a.index(lineID)
	if idx < 0 {
		return a, false
	}
	lines := a.Lines()
	lines = append(lines[:idx], lines[idx+1:]...)
	return Aggregate{UserID: a.UserID, lines: lines}, true
}

// LineForProduct returns the line holding productID, if any.
func (a Aggregate) LineForProduct(productID string) (models.CartLine, bool) {
	for _, l := range a.lines {
		if l.ProductID == productID {
			return cloneLine(l), true
		}
	}
	return models.CartLine{}, false
}

// WithAdded applies an "add to cart" for product under policy. A product that
// has no line yet gets a pending line with quantity 1 and no id.
func (a Aggregate) WithAdded(product models.Product, policy models.AddPolicy) Aggregate {
	lines := a.Lines()
	for i := range lines {
		if lines[i].ProductID != product.ID {
			continue
		}
		if policy == models.AddIncrement {
			lines[i].Quantity++
		} else {
			lines[i].Quantity = 1
		}
		return Aggregate{UserID: a.UserID, lines: lines}
	}
	lines = append(lines, models.CartLine{
		CartLineItem: models.CartLineItem{
			UserID:    a.UserID,
			ProductID: product.ID,
			Quantity:  1,
			Status:    models.StatusInCart,
		},
		Product: product,
	})
	return Aggregate{UserID: a.UserID, lines: lines}
}

// WithLine replaces the line for the same product, or appends it.
func (a Aggregate) WithLine(line models.CartLine) Aggregate {
	lines := a.Lines()
	for i := range lines {
		if lines[i].ProductID == line.ProductID || (line.ID != "" && lines[i].ID == line.ID) {
			lines[i] = cloneLine(line)
			return Aggregate{UserID: a.UserID, lines: lines}
		}
	}
	return Aggregate{UserID: a.UserID, lines: append(lines, cloneLine(line))}
}

func (a Aggregate) index(lineID string) int {
	for i, l := range a.lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func cloneLine(l models.CartLine) models.CartLine {
	if l.PurchaseDate != nil {
		d := *l.PurchaseDate
		l.PurchaseDate = &d
	}
	l.Product.AdditionalImageURLs = append([]string(nil), l.Product.AdditionalImageURLs...)
	l.Product.AvailableSizes = append([]string(nil), l.Product.AvailableSizes...)
	return l
}

// View is the read model handed to API clients.
type View struct {
	Authenticated bool              `json:"authenticated"`
	Items         []models.CartLine `json:"items"`
	Subtotal      int64             `json:"subtotal"`
	Count         int               `json:"count"`
	Units         int               `json:"units"`
	Currency      string            `json:"currency"`
}

func (a Aggregate) View(currency string) View {
	return View{
		Authenticated: a.UserID != "",
		Items:         a.Lines(),
		Subtotal:      a.Subtotal(),
		Count:         a.Count(),
		Units:         a.Units(),
		Currency:      currency,
	}
}
