package models

import (
	"strings"
	"time"
)

// Product represents a catalog entry. Products are read-only to the cart and checkout core.
type Product struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	Price               int64     `json:"price"` // whole units of the store currency
	RetailerName        string    `json:"retailer_name"`
	IsVerified          bool      `json:"is_verified"`
	MainImageURL        string    `json:"main_image_url"`
	AdditionalImageURLs []string  `json:"additional_image_urls"`
	AvailableSizes      []string  `json:"available_sizes"`
	ReturnPolicy        string    `json:"return_policy"`
	CreatedAt           time.Time `json:"created_at"`
}

// DefaultSize returns the first available size, or "" when the product is not sized.
func (p *Product) DefaultSize() string {
	if len(p.AvailableSizes) == 0 {
		return ""
	}
	return p.AvailableSizes[0]
}

// ProductFilter narrows a product listing. Nil bounds are open.
type ProductFilter struct {
	MinPrice *int64
	MaxPrice *int64
	Query    string // case-insensitive substring match on name
	Limit    int
}

const (
	DefaultProductLimit = 50
	MaxProductLimit     = 200
)

// Normalize clamps the limit and trims the query.
func (f ProductFilter) Normalize() ProductFilter {
	f.Query = strings.TrimSpace(f.Query)
	if f.Limit <= 0 {
		f.Limit = DefaultProductLimit
	}
	if f.Limit > MaxProductLimit {
		f.Limit = MaxProductLimit
	}
	return f
}

// Matches reports whether p satisfies the filter.
func (f ProductFilter) Matches(p Product) bool {
	if f.MinPrice != nil && p.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		return strings.Contains(strings.ToLower(p.Name), strings.ToLower(q))
	}
	return true
}
