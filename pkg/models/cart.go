package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"julianmorley.ca/con-plar/storefront/pkg/money"
)

// Cart models for the user_products table

type LineStatus string

const (
	StatusInCart    LineStatus = "in_cart"
	StatusPurchased LineStatus = "purchased"
)

// CartLineItem is one user_products row: a user's intent to buy a quantity of one product.
type CartLineItem struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ProductID    string     `json:"product_id"`
	Quantity     int        `json:"quantity"`
	Status       LineStatus `json:"status"`
	PurchaseDate *time.Time `json:"purchase_date,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CartLine is a line item joined with its product.
type CartLine struct {
	CartLineItem
	Product Product `json:"product"`
}

// LineTotal returns quantity × unit price, capped at math.MaxInt64.
func (l CartLine) LineTotal() int64 {
	total, err := money.AddLine(0, l.Product.Price, int64(l.Quantity))
	if err != nil {
		return math.MaxInt64
	}
	return total
}

// AddPolicy decides what a repeated "add to cart" does to an existing in_cart line.
type AddPolicy string

const (
	// AddOverwrite resets the quantity to 1 on conflict.
	AddOverwrite AddPolicy = "overwrite"
	// AddIncrement adds 1 to the existing quantity on conflict.
	AddIncrement AddPolicy = "increment"
)

func ParseAddPolicy(s string) (AddPolicy, error) {
	switch AddPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AddOverwrite:
		return AddOverwrite, nil
	case AddIncrement:
		return AddIncrement, nil
	default:
		return "", fmt.Errorf("unknown cart add policy %q", s)
	}
}

type AddToCartRequest struct {
	ProductID string `json:"product_id" binding:"required,uuid"`
}

type UpdateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}
