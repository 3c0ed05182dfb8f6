package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/station-bridge/internal/station"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Feed          FeedMetrics     `json:"feed"`
	Stations      StationMetrics  `json:"stations"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// FeedMetrics describes the registry's push feed connection.
type FeedMetrics struct {
	Connected    bool   `json:"connected"`
	Reconnecting bool   `json:"reconnecting"`
	MessagesRx   uint64 `json:"messages_rx"`
	Reconnects   uint64 `json:"reconnects"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// StationMetrics totals command routing across stations.
type StationMetrics struct {
	Total     int            `json:"total"`
	ByMode    map[string]int `json:"by_mode"`
	Local     uint64         `json:"local"`
	Fallback  uint64         `json:"fallback"`
	Cloud     uint64         `json:"cloud"`
	Skipped   uint64         `json:"skipped"`
	Failed    uint64         `json:"failed"`
	Reconnect uint64         `json:"reconnects"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, connection and routing statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	feed := s.devices.FeedStats()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Feed: FeedMetrics{
			Connected:    feed.Connected,
			Reconnecting: feed.Reconnecting,
			MessagesRx:   feed.MessagesRx,
			Reconnects:   feed.ReconnectsTotal,
			DecodeErrors: feed.DecodeErrors,
		},
		Stations: collectStationMetrics(s.stations.Stations()),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Connected: s.mqtt.IsConnected()}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

func collectStationMetrics(stations []*station.Station) StationMetrics {
	m := StationMetrics{Total: len(stations), ByMode: make(map[string]int)}
	for _, st := range stations {
		stats := st.Stats()
		m.ByMode[string(stats.Mode)]++
		m.Local += stats.Local
		m.Fallback += stats.Fallback
		m.Cloud += stats.Cloud
		m.Skipped += stats.Skipped
		m.Failed += stats.Failed
		m.Reconnect += stats.Transport.ReconnectsTotal
	}
	return m
}
