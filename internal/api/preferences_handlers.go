package api

import (
	"net/http"
	"strings"

	"github.com/vaidashi/stationery-orders/internal/storage"
)

// defaultLanguage is reported until the user picks one
const defaultLanguage = "en"

type preferencesView struct {
	Language       string               `json:"language"`
	RecentSearches []string             `json:"recentSearches"`
	User           *storage.UserProfile `json:"user,omitempty"`
}

func (s *Server) getPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lang, err := s.deps.Preferences.PreferredLanguage(ctx, defaultLanguage)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	searches, err := s.deps.Preferences.RecentSearches(ctx)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	if searches == nil {
		searches = []string{}
	}

	user, err := s.deps.Preferences.User(ctx)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    preferencesView{Language: lang, RecentSearches: searches, User: user},
	})
}

func (s *Server) setLanguageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}

	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		s.respondWithError(w, http.StatusBadRequest, "Language is required")
		return
	}

	if err := s.deps.Preferences.SetPreferredLanguage(r.Context(), lang); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]string{"language": lang}})
}

func (s *Server) addSearchHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Term string `json:"term"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}

	searches, err := s.deps.Preferences.AddRecentSearch(r.Context(), req.Term)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: searches})
}
