package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers the gateway's HTTP routes with mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", g.HandleWS)
	mux.HandleFunc("/ws/stats", g.handleStats)
	mux.HandleFunc("/api/rooms", g.handleRooms)
	mux.HandleFunc("/health", g.handleHealth)
	log.Info().Msg("gateway routes registered")
}

func (g *Gateway) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, RoomsListPayload{Rooms: g.registry.List()})
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := g.manager.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_connections": stats.TotalConnections,
		"active_rooms":      stats.ActiveRooms,
		"room_connections":  stats.RoomConnections,
		"dropped":           stats.Dropped,
		"rooms":             g.registry.Count(),
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
