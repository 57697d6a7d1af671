package models

import (
	"fmt"
	"strings"
)

// OrderStatus is the lifecycle position of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExported  OrderStatus = "exported"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusApproved  OrderStatus = "approved"
	OrderStatusRejected  OrderStatus = "rejected"
)

// statusOrdinals orders statuses along pending -> exported -> submitted -> terminal.
// approved and rejected share the terminal ordinal.
var statusOrdinals = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusExported:  1,
	OrderStatusSubmitted: 2,
	OrderStatusApproved:  3,
	OrderStatusRejected:  3,
}

// ParseOrderStatus normalizes a status string coming off the wire
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(s)))

	if _, ok := statusOrdinals[status]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}

	return status, nil
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	_, ok := statusOrdinals[s]
	return ok
}

// Ordinal returns the position of s in the lifecycle, -1 when unknown
func (s OrderStatus) Ordinal() int {
	if o, ok := statusOrdinals[s]; ok {
		return o
	}
	return -1
}

// Terminal reports whether no transition may leave s
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusApproved || s == OrderStatusRejected
}

// CanAdvance reports whether an order in from may move to to. Any strictly
// later status is reachable, so a reordered push that skips intermediate
// steps is still accepted; rejection is reachable from every non-terminal status.
func CanAdvance(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}

	return to.Ordinal() > from.Ordinal()
}

// Actions are the next steps a viewer may take for an order
type Actions struct {
	CanExport       bool `json:"canExport"`
	CanUploadSigned bool `json:"canUploadSigned"`
	CanReview       bool `json:"canReview"`
}

// ActionsFor derives the available actions from a status
func ActionsFor(s OrderStatus) Actions {
	return Actions{
		CanExport:       s == OrderStatusPending,
		CanUploadSigned: s == OrderStatusExported,
		CanReview:       s == OrderStatusSubmitted,
	}
}
