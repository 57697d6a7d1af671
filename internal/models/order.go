package models

import (
	"time"
)

// Order is a department's stationery order as returned by the backend
type Order struct {
	ID           string      `json:"id"`
	DepartmentID string      `json:"departmentId"`
	UserID       string      `json:"userId,omitempty"`
	Items        []LineItem  `json:"items"`
	Status       OrderStatus `json:"status"`
	AdminComment string      `json:"adminComment,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// LineItem is a product reference with a quantity and display fields
type LineItem struct {
	ProductID   string `json:"productId"`
	Quantity    int    `json:"quantity"`
	ProductName string `json:"productName,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}

	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	return &c
}

// NewOrderRequest is the body of a create-order call
type NewOrderRequest struct {
	Items []LineItem `json:"items"`
}

// Validate rejects empty orders and non-positive quantities
func (r NewOrderRequest) Validate() error {
	if len(r.Items) == 0 {
		return errEmptyOrder
	}

	for _, it := range r.Items {
		if it.ProductID == "" {
			return errMissingProduct
		}
		if it.Quantity < 1 {
			return errBadQuantity
		}
	}

	return nil
}
