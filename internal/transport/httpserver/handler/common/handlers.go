package common

import (
	"net/http"

	"smartpot-app-go/pkg/logger"
)

// Stats reports live telemetry subscriptions for the health endpoint.
type Stats interface {
	Flowers() []string
}

type Handlers struct {
	stats Stats
	log   logger.Logger
}

func New(stats Stats, log logger.Logger) *Handlers {
	return &Handlers{
		stats: stats,
		log:   logger.OrNop(log).Component("http"),
	}
}

type healthResponse struct {
	Status           string `json:"status"`
	TelemetryFlowers int    `json:"telemetryFlowers"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.stats != nil {
		resp.TelemetryFlowers = len(h.stats.Flowers())
	}
	WriteJSON(w, http.StatusOK, resp)
}
