package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/internal/storage"
	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
	"github.com/vaidashi/stationery-orders/pkg/logger"
)

// OrderCreator turns line items into an order
type OrderCreator interface {
	CreateOrder(ctx context.Context, items []models.LineItem) (*models.Order, error)
}

// Cart is the pre-checkout selection. Every mutation is written through to
// the store under storage.KeyCart before it becomes visible; a failed write
// leaves the cart as it was.
type Cart struct {
	store  storage.Store
	minQty int
	logger logger.Logger

	mu      sync.Mutex
	entries []models.CartEntry
}

// New creates an empty cart; call Load to restore persisted entries
func New(store storage.Store, minQty int, logger logger.Logger) *Cart {
	if minQty < 1 {
		minQty = 1
	}
	if minQty > models.MaxQuantity {
		minQty = models.MaxQuantity
	}

	return &Cart{
		store:  store,
		minQty: minQty,
		logger: logger.With("component", "cart"),
	}
}

// MinQuantity is the lowest quantity an entry may hold
func (c *Cart) MinQuantity() int {
	return c.minQty
}

// Load restores the persisted entries. Entries that fail validation are
// dropped; a corrupt document loads as an empty cart.
func (c *Cart) Load(ctx context.Context) error {
	data, found, err := c.store.Load(ctx, storage.KeyCart)
	if err != nil {
		return fmt.Errorf("failed to load cart: %w", err)
	}

	var entries []models.CartEntry
	if found {
		entries = c.decode(data)
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	c.logger.Debug("Cart loaded", "entries", len(entries))
	return nil
}

// storedEntry accepts the loose shapes older clients wrote
type storedEntry struct {
	Product *struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
		Unit string          `json:"unit"`
	} `json:"product"`
	Quantity json.RawMessage `json:"quantity"`
}

func (c *Cart) decode(data []byte) []models.CartEntry {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		c.logger.Warn("Discarding unreadable cart", "error", err)
		return nil
	}

	entries := make([]models.CartEntry, 0, len(raw))
	index := make(map[string]int, len(raw))

	for i, r := range raw {
		var se storedEntry
		if err := json.Unmarshal(r, &se); err != nil || se.Product == nil {
			c.logger.Debug("Dropping invalid cart entry", "index", i)
			continue
		}

		id, ok := scalarString(se.Product.ID)
		qty, qok := quantity(se.Quantity)
		if !ok || !qok {
			c.logger.Debug("Dropping invalid cart entry", "index", i)
			continue
		}

		if qty < c.minQty {
			qty = c.minQty
		}

		if at, dup := index[id]; dup {
			entries[at].Quantity = min(entries[at].Quantity+qty, models.MaxQuantity)
			continue
		}

		index[id] = len(entries)
		entries = append(entries, models.CartEntry{
			Product:  models.Product{ID: id, Name: se.Product.Name, Unit: se.Product.Unit},
			Quantity: qty,
		})
	}

	return entries
}

// scalarString reads a product id written as a string or a number
func scalarString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n != "" {
		return n.String(), true
	}

	return "", false
}

// quantity reads a quantity written as a number or a numeric string,
// floored and bounded by MaxQuantity
func quantity(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, false
		}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	switch {
	case f > models.MaxQuantity:
		f = models.MaxQuantity
	case f < 0:
		f = 0
	}

	return int(math.Floor(f)), true
}

func (c *Cart) persist(ctx context.Context, entries []models.CartEntry) error {
	if entries == nil {
		entries = []models.CartEntry{}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	if err := c.store.Save(ctx, storage.KeyCart, data); err != nil {
		c.logger.Error("Failed to persist cart", "error", err)
		return fmt.Errorf("failed to persist cart: %w", err)
	}

	return nil
}

// mutate applies fn to a copy of the entries and commits it once persisted
func (c *Cart) mutate(ctx context.Context, fn func([]models.CartEntry) ([]models.CartEntry, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fn(append([]models.CartEntry(nil), c.entries...))
	if err != nil {
		return err
	}

	if err := c.persist(ctx, next); err != nil {
		return err
	}

	c.entries = next
	return nil
}

func find(entries []models.CartEntry, id string) int {
	for i, e := range entries {
		if e.Product.ID == id {
			return i
		}
	}
	return -1
}

func tooMany(qty int) error {
	return apperrors.NewInvalidInputError(
		fmt.Sprintf("quantity %d exceeds the maximum of %d", qty, models.MaxQuantity))
}

// AddItem adds qty of product, merging with an existing entry. Quantities
// below one count as one; a total above MaxQuantity is rejected.
func (c *Cart) AddItem(ctx context.Context, product models.Product, qty int) error {
	product.ID = strings.TrimSpace(product.ID)
	if err := product.Validate(); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	if qty < 1 {
		qty = 1
	}
	if qty > models.MaxQuantity {
		return tooMany(qty)
	}

	return c.mutate(ctx, func(entries []models.CartEntry) ([]models.CartEntry, error) {
		if i := find(entries, product.ID); i >= 0 {
			if entries[i].Quantity > models.MaxQuantity-qty {
				return nil, tooMany(entries[i].Quantity + qty)
			}
			entries[i].Quantity += qty
			if entries[i].Quantity < c.minQty {
				entries[i].Quantity = c.minQty
			}
			return entries, nil
		}

		if qty < c.minQty {
			qty = c.minQty
		}

		return append(entries, models.CartEntry{Product: product, Quantity: qty}), nil
	})
}

// UpdateQty sets the quantity of an entry, clamped to the minimum. It never
// removes the entry. Quantities above MaxQuantity are rejected.
func (c *Cart) UpdateQty(ctx context.Context, productID string, qty int) error {
	if qty > models.MaxQuantity {
		return tooMany(qty)
	}
	if qty < c.minQty {
		qty = c.minQty
	}

	return c.mutate(ctx, func(entries []models.CartEntry) ([]models.CartEntry, error) {
		i := find(entries, productID)
		if i < 0 {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("product %s is not in the cart", productID))
		}

		entries[i].Quantity = qty
		return entries, nil
	})
}

// Remove drops one entry; removing an absent product is a no-op
func (c *Cart) Remove(ctx context.Context, productID string) error {
	return c.mutate(ctx, func(entries []models.CartEntry) ([]models.CartEntry, error) {
		if i := find(entries, productID); i >= 0 {
			entries = append(entries[:i], entries[i+1:]...)
		}
		return entries, nil
	})
}

// Clear empties the cart
func (c *Cart) Clear(ctx context.Context) error {
	return c.mutate(ctx, func([]models.CartEntry) ([]models.CartEntry, error) {
		return nil, nil
	})
}

// Entries returns a copy of the entries in insertion order
func (c *Cart) Entries() []models.CartEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]models.CartEntry(nil), c.entries...)
}

// Count is the number of distinct products
func (c *Cart) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// TotalQuantity sums the entry quantities
func (c *Cart) TotalQuantity() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, e := range c.entries {
		total += e.Quantity
	}
	return total
}

// Checkout creates an order from the cart. The entries that were ordered are
// removed only once the order exists; products added meanwhile stay. If the
// order was created but the cart could not be saved, both are returned.
func (c *Cart) Checkout(ctx context.Context, creator OrderCreator) (*models.Order, error) {
	entries := c.Entries()
	if len(entries) == 0 {
		return nil, apperrors.NewInvalidInputError("cart is empty")
	}

	items := make([]models.LineItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.LineItem())
	}

	order, err := creator.CreateOrder(ctx, items)
	if err != nil {
		return nil, err
	}

	ordered := make(map[string]bool, len(entries))
	for _, e := range entries {
		ordered[e.Product.ID] = true
	}

	err = c.mutate(ctx, func(current []models.CartEntry) ([]models.CartEntry, error) {
		kept := current[:0]
		for _, e := range current {
			if !ordered[e.Product.ID] {
				kept = append(kept, e)
			}
		}
		return kept, nil
	})

	c.logger.Info("Cart checked out", "order", order.ID, "items", len(items))
	return order, err
}
