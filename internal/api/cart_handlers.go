package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/vaidashi/stationery-orders/internal/models"
)

// CartView is the cart with its derived totals
type CartView struct {
	Entries       []models.CartEntry `json:"entries"`
	Count         int                `json:"count"`
	TotalQuantity int                `json:"totalQuantity"`
	MinQuantity   int                `json:"minQuantity"`
}

type addItemRequest struct {
	Product  models.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

type updateQtyRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) cartView() CartView {
	entries := s.deps.Cart.Entries()
	if entries == nil {
		entries = []models.CartEntry{}
	}

	total := 0
	for _, e := range entries {
		total += e.Quantity
	}

	return CartView{
		Entries:       entries,
		Count:         len(entries),
		TotalQuantity: total,
		MinQuantity:   s.deps.Cart.MinQuantity(),
	}
}

func (s *Server) getCartHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.cartView()})
}

func (s *Server) addCartItemHandler(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if err := s.deps.Cart.AddItem(r.Context(), req.Product, req.Quantity); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.cartView()})
}

func (s *Server) updateCartItemHandler(w http.ResponseWriter, r *http.Request) {
	var req updateQtyRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if err := s.deps.Cart.UpdateQty(r.Context(), mux.Vars(r)["id"], req.Quantity); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.cartView()})
}

func (s *Server) removeCartItemHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Cart.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.cartView()})
}

func (s *Server) clearCartHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Cart.Clear(r.Context()); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.cartView()})
}

// checkoutHandler creates an order from the cart through the order window
// gate and starts tracking it
func (s *Server) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Cart.Checkout(r.Context(), s.deps.Gate)
	if order != nil {
		s.deps.Tracker.Track(order)
	}

	if err != nil {
		if order != nil {
			s.logger.Error("Order created but cart not cleared", "order", order.ID, "error", err)
		}
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: order})
}
