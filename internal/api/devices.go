package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/station-bridge/internal/device"
)

// handleListDevices returns the account's devices ordered by ID.
//
// Query parameters:
//   - type: filter by device type (devices.types.smart_speaker.yandex.station, ...)
//   - platform: filter speakers by hardware platform (yandexstation, yandexmini, ...)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		devices []device.Device
		err     error
	)

	switch q := r.URL.Query(); {
	case q.Get("type") != "":
		devices, err = s.devices.DevicesByType(ctx, q.Get("type"))
	case q.Get("platform") != "":
		devices, err = s.devices.DevicesByPlatform(ctx, q.Get("platform"))
	default:
		var all map[string]device.Device
		all, err = s.devices.Devices(ctx)
		for _, d := range all {
			devices = append(devices, d)
		}
	}
	if err != nil {
		s.logger.Warn("listing devices failed", "error", err)
		writeStationError(w, err)
		return
	}

	if devices == nil {
		devices = []device.Device{}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.devices.Device(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeStationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleListScenarios returns the account's scenarios.
func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.devices.Scenarios(r.Context())
	if err != nil {
		s.logger.Warn("listing scenarios failed", "error", err)
		writeStationError(w, err)
		return
	}
	if scenarios == nil {
		scenarios = []device.Scenario{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios, "count": len(scenarios)})
}
