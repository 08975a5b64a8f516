package telemetry

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	bindingdomain "smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/internal/telemetry"
	"smartpot-app-go/internal/transport/httpserver/handler/common"
	"smartpot-app-go/internal/transport/httpserver/middleware"
	"smartpot-app-go/pkg/logger"
)

type Flowers interface {
	FlowerState(ctx context.Context, flowerID string) (*bindingdomain.Flower, bindingdomain.Outcome, error)
	CheckMembership(ctx context.Context, userID string, householdIDs ...string) error
}

type Handlers struct {
	Registry *telemetry.Registry
	History  telemetry.History
	Flowers  Flowers
	conn     telemetry.ConnConfig
	upgrader websocket.Upgrader
	log      logger.Logger
}

func New(registry *telemetry.Registry, history telemetry.History, flowers Flowers, conn telemetry.ConnConfig, allowedOrigins []string, log logger.Logger) *Handlers {
	return &Handlers{
		Registry: registry,
		History:  history,
		Flowers:  flowers,
		conn:     conn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: logger.OrNop(log).Component("http"),
	}
}

// Measurements upgrades the request to a live measurement stream for one
// flower. Access is checked before the upgrade so failures stay plain HTTP.
func (h *Handlers) Measurements(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		common.WriteUnauthorized(w)
		return
	}
	flowerID := chi.URLParam(r, "flowerId")

	flower, _, err := h.Flowers.FlowerState(r.Context(), flowerID)
	if err == nil {
		err = h.Flowers.CheckMembership(r.Context(), userID, flower.HouseholdID)
	}
	if err != nil {
		common.WriteDomainError(w, h.log, "telemetry.connect", err, "user_id", userID, "flower_id", flowerID)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		h.log.Debug("telemetry.connect: upgrade failed", "error", err, "flower_id", flowerID)
		return
	}

	conn := telemetry.NewWSConn(ws, h.conn, h.log)
	if err := telemetry.Serve(r.Context(), h.Registry, h.History, flowerID, conn, h.log); err != nil {
		h.log.Debug("telemetry.connect: session ended", "error", err, "flower_id", flowerID, "user_id", userID)
	}
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	allowAny := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			allowAny = true
			continue
		}
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAny {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
