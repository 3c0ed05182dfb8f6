package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/station-bridge/internal/station"
)

// commandTimeout bounds a command issued over HTTP, including the idle
// wait of bracketed speech.
const commandTimeout = 60 * time.Second

// StationView is the API representation of a running station.
type StationView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	QuasarID string        `json:"quasar_id,omitempty"`
	Mode     station.Mode  `json:"mode"`
	State    station.State `json:"state"`
	Stats    station.Stats `json:"stats"`
}

func viewStation(st *station.Station) StationView {
	return StationView{
		ID:       st.ID(),
		Name:     st.Name(),
		QuasarID: st.QuasarID(),
		Mode:     st.Mode(),
		State:    st.State(),
		Stats:    st.Stats(),
	}
}

// handleListStations returns the stations created so far.
func (s *Server) handleListStations(w http.ResponseWriter, _ *http.Request) {
	stations := s.stations.Stations()
	views := make([]StationView, 0, len(stations))
	for _, st := range stations {
		views = append(views, viewStation(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": views, "count": len(views)})
}

// handleGetStationState returns a station, creating it on first use.
func (s *Server) handleGetStationState(w http.ResponseWriter, r *http.Request) {
	st, err := s.stations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewStation(st))
}

// handleStationCommand runs a named command and reports the resulting state.
func (s *Server) handleStationCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req station.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	start := time.Now()
	if err := s.stations.Execute(ctx, id, req); err != nil {
		s.logger.Warn("station command failed",
			"device_id", id,
			"command", req.Command,
			"error", err,
		)
		writeStationError(w, err)
		return
	}

	resp := map[string]any{
		"device_id":  id,
		"command":    req.Command,
		"status":     "ok",
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if st, err := s.stations.Get(r.Context(), id); err == nil {
		resp["mode"] = st.Mode()
		resp["state"] = st.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStationConnect asks a station to (re)open its local channel. A
// failed connect is not an HTTP error: the station keeps serving
// commands through the cloud, and the response says why.
func (s *Server) handleStationConnect(w http.ResponseWriter, r *http.Request) {
	st, err := s.stations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStationError(w, err)
		return
	}

	resp := map[string]any{"device_id": st.ID()}
	if err := st.Connect(r.Context()); err != nil {
		resp["error"] = err.Error()
	}
	resp["mode"] = st.Mode()
	writeJSON(w, http.StatusOK, resp)
}

// handleStationDisconnect closes a station's local channel.
func (s *Server) handleStationDisconnect(w http.ResponseWriter, r *http.Request) {
	st, err := s.stations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStationError(w, err)
		return
	}
	if err := st.Disconnect(r.Context()); err != nil {
		writeStationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": st.ID(), "mode": st.Mode()})
}
