package handler

import (
	"smartpot-app-go/internal/transport/httpserver/handler/bindings"
	"smartpot-app-go/internal/transport/httpserver/handler/common"
	"smartpot-app-go/internal/transport/httpserver/handler/measurements"
	"smartpot-app-go/internal/transport/httpserver/handler/telemetry"
	"smartpot-app-go/internal/transport/httpserver/handler/transplant"
)

type Handlers struct {
	Common       *common.Handlers
	Transplant   *transplant.Handlers
	Bindings     *bindings.Handlers
	Measurements *measurements.Handlers
	Telemetry    *telemetry.Handlers
}

func New(common *common.Handlers, transplant *transplant.Handlers, bindings *bindings.Handlers, measurements *measurements.Handlers, telemetry *telemetry.Handlers) *Handlers {
	return &Handlers{
		Common:       common,
		Transplant:   transplant,
		Bindings:     bindings,
		Measurements: measurements,
		Telemetry:    telemetry,
	}
}
