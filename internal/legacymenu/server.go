package legacymenu

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type Server struct {
	repo *Repository
	log  zerolog.Logger
}

func NewServer(repo *Repository, logger zerolog.Logger) *Server {
	return &Server{repo: repo, log: logger.With().Str("component", "http").Logger()}
}

func (s *Server) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{AllowedOrigins: allowedOrigins, AllowedMethods: []string{http.MethodGet}}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "legacy-menu"})
	})
	r.Get("/api/legacy/menu/item/{menuItemId}", s.getMenuItem)
	r.Get("/api/legacy/menu/{restaurantId}", s.getMenu)
	return r
}

type menuEntry struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Price json.Number `json:"price"`
}

func (s *Server) getMenu(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "restaurantId"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Restaurant not found"})
		return
	}
	exists, err := s.repo.RestaurantExists(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("restaurant_id", id).Msg("restaurant lookup")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "menu lookup failed"})
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Restaurant not found"})
		return
	}
	items, err := s.repo.GetMenu(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("restaurant_id", id).Msg("menu lookup")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "menu lookup failed"})
		return
	}
	out := make([]menuEntry, 0, len(items))
	for _, it := range items {
		out = append(out, menuEntry{ID: it.ID, Name: it.Name, Price: json.Number(it.Price.StringFixed(2))})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getMenuItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "menuItemId"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Menu item not found"})
		return
	}
	it, err := s.repo.GetMenuItem(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Menu item not found"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("menu_item_id", id).Msg("menu item lookup")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "menu lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           it.ID,
		"restaurantId": it.RestaurantID,
		"name":         it.Name,
		"price":        json.Number(it.Price.StringFixed(2)),
	})
}

// parseID accepts only uuids and normalizes them to lower case.
func parseID(raw string) (string, bool) {
	u, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return u.String(), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
