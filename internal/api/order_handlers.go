package api

import (
	"net/http"

	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/internal/tracker"
	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
)

// maxSignedUpload bounds signed document uploads
const maxSignedUpload = 20 << 20

type reviewRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.deps.Tracker.Snapshot()})
}

// refreshOrderHandler reloads the tracked order; a failed fetch still
// returns the snapshot, which carries the error
func (s *Server) refreshOrderHandler(w http.ResponseWriter, r *http.Request) {
	ref := s.deps.Tracker.Ref()
	if id := r.URL.Query().Get("orderId"); id != "" {
		ref = tracker.Ref{OrderID: id}
	}

	if err := s.deps.Tracker.LoadInitial(r.Context(), ref); err != nil {
		s.respondWithJSON(w, apperrors.StatusCode(err), ApiResponse{
			Success: false,
			Data:    s.deps.Tracker.Snapshot(),
			Error:   err.Error(),
		})
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.deps.Tracker.Snapshot()})
}

// currentOrder returns the tracked order if allowed says its actions permit the call
func (s *Server) currentOrder(w http.ResponseWriter, allowed func(models.Actions) bool, action string) (*models.Order, bool) {
	snap := s.deps.Tracker.Snapshot()

	if snap.Order == nil {
		s.respondWithError(w, http.StatusNotFound, "No current order")
		return nil, false
	}

	if !allowed(snap.Actions) {
		s.respondWithError(w, http.StatusConflict,
			"Cannot "+action+" an order that is "+string(snap.Order.Status))
		return nil, false
	}

	return snap.Order, true
}

func (s *Server) exportOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, ok := s.currentOrder(w, func(a models.Actions) bool { return a.CanExport }, "export")
	if !ok {
		return
	}

	doc, err := s.deps.Orders.ExportOrder(r.Context(), order.ID)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	// the exported status normally arrives by push; refresh in case realtime is down
	if err := s.deps.Tracker.LoadInitial(r.Context(), tracker.Ref{OrderID: order.ID}); err != nil {
		s.logger.Warn("Refresh after export failed", "order", order.ID, "error", err)
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="order-`+order.ID+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func (s *Server) uploadSignedHandler(w http.ResponseWriter, r *http.Request) {
	order, ok := s.currentOrder(w, func(a models.Actions) bool { return a.CanUploadSigned }, "upload a signed document for")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSignedUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "A signed document is required in the \"file\" field")
		return
	}
	defer file.Close()

	updated, err := s.deps.Orders.SubmitSigned(r.Context(), order.ID, header.Filename, file)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.deps.Tracker.Merge(updated)
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.deps.Tracker.Snapshot()})
}

func (s *Server) reviewOrderHandler(approve bool) http.HandlerFunc {
	action := "reject"
	if approve {
		action = "approve"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !s.config.IsAdmin {
			s.respondWithError(w, http.StatusForbidden, "Only administrators can "+action+" orders")
			return
		}

		var req reviewRequest
		if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
			return
		}

		if !approve && req.Comment == "" {
			s.respondWithError(w, http.StatusBadRequest, "A comment is required to reject an order")
			return
		}

		order, ok := s.currentOrder(w, func(a models.Actions) bool { return a.CanReview }, action)
		if !ok {
			return
		}

		review := s.deps.Orders.RejectOrder
		if approve {
			review = s.deps.Orders.ApproveOrder
		}

		updated, err := review(r.Context(), order.ID, req.Comment)
		if err != nil {
			s.respondWithAppError(w, err)
			return
		}

		s.deps.Tracker.Merge(updated)
		s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.deps.Tracker.Snapshot()})
	}
}

func (s *Server) getOrderWindowHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if _, err := s.deps.Gate.Load(r.Context()); err != nil {
			s.respondWithAppError(w, err)
			return
		}
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"window":    s.deps.Gate.Window(),
			"canCreate": s.deps.Gate.CanCreate(),
		},
	})
}

func (s *Server) toggleOrderWindowHandler(w http.ResponseWriter, r *http.Request) {
	if !s.config.IsAdmin {
		s.respondWithError(w, http.StatusForbidden, "Only administrators can toggle the order window")
		return
	}

	window, err := s.deps.Gate.Toggle(r.Context())
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: window})
}
