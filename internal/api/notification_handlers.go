package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/vaidashi/stationery-orders/internal/models"
)

type notificationList struct {
	Items  []models.Notification `json:"items"`
	Unread int                   `json:"unread"`
}

func (s *Server) notificationList() notificationList {
	items := s.deps.Feed.Items()
	if items == nil {
		items = []models.Notification{}
	}

	return notificationList{Items: items, Unread: s.deps.Feed.UnreadCount()}
}

func (s *Server) getNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.deps.Feed.Fetch(r.Context()); err != nil {
			s.respondWithAppError(w, err)
			return
		}
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.notificationList()})
}

func (s *Server) markReadHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Feed.MarkRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.notificationList()})
}

func (s *Server) markAllReadHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Feed.MarkAll(r.Context()); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.notificationList()})
}
