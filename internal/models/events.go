package models

import "time"

// OrderStatusUpdate is pushed on orders/{departmentId} and orders/admin
type OrderStatusUpdate struct {
	OrderID      string      `json:"orderId"`
	Status       OrderStatus `json:"status"`
	DepartmentID string      `json:"departmentId,omitempty"`
	AdminComment string      `json:"adminComment,omitempty"`
	UpdatedAt    time.Time   `json:"updatedAt,omitempty"`
}

// OrderWindowUpdate is pushed on order-window
type OrderWindowUpdate struct {
	Open bool `json:"open"`
}
