package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/station-bridge/internal/discovery"
)

// EndpointView is a stored speaker address with its age.
type EndpointView struct {
	discovery.Endpoint
	SeenAgo string `json:"seen_ago"`
}

// handleListEndpoints returns the local addresses known for speakers.
func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	if s.endpoints == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "discovery not available")
		return
	}

	endpoints, err := s.endpoints.List(r.Context())
	if err != nil {
		s.logger.Error("listing endpoints failed", "error", err)
		writeInternalError(w, "failed to list endpoints")
		return
	}

	now := time.Now()
	views := make([]EndpointView, 0, len(endpoints))
	for _, ep := range endpoints {
		views = append(views, EndpointView{
			Endpoint: ep,
			SeenAgo:  formatAgo(now.Sub(ep.SeenAt)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": views, "count": len(views)})
}

// formatAgo renders an age as "just now", "N mins ago" and so on.
func formatAgo(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "min")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day") //nolint:mnd // 24 hours per day
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return strconv.Itoa(n) + " " + unit + "s ago"
}
