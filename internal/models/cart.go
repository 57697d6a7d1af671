package models

import (
	"errors"
	"strings"
)

var (
	errEmptyOrder     = errors.New("order has no items")
	errMissingProduct = errors.New("product id is required")
	errBadQuantity    = errors.New("quantity must be at least 1")
)

// MaxQuantity is the highest quantity a cart entry may hold
const MaxQuantity = 1_000_000

// Product is the part of a catalogue product the cart keeps
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// Validate checks the product can be referenced by a cart entry
func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errMissingProduct
	}
	return nil
}

// CartEntry is a product selected in the cart
type CartEntry struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// LineItem converts the entry into an order line
func (e CartEntry) LineItem() LineItem {
	return LineItem{
		ProductID:   e.Product.ID,
		Quantity:    e.Quantity,
		ProductName: e.Product.Name,
		Unit:        e.Product.Unit,
	}
}
