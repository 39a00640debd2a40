package gateway

import (
	"encoding/json"
	"log/slog"
)

// EventFunc handles one DISPATCH event's raw payload.
type EventFunc func(data json.RawMessage)

// Router is a total match over DISPATCH event names: every event in spec
// §6 that has a registered handler is dispatched to it; everything else
// falls to the explicit "unknown" arm, which logs and drops (spec §9).
type Router struct {
	logger   *slog.Logger
	handlers map[DispatchEvent]EventFunc
}

// NewRouter creates a router with no handlers registered.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		logger:   logger.With("component", "gateway-dispatch"),
		handlers: make(map[DispatchEvent]EventFunc),
	}
}

// On registers the handler for event.
func (r *Router) On(event DispatchEvent, fn EventFunc) {
	r.handlers[event] = fn
}

// Route dispatches one event to its registered handler, or logs and drops
// if none is registered.
func (r *Router) Route(event DispatchEvent, data json.RawMessage) {
	fn, ok := r.handlers[event]
	if !ok {
		r.logger.Debug("dropping unhandled dispatch event", "event", event)
		return
	}
	fn(data)
}

// Handle adapts Router to the DispatchHandler signature Session expects.
func (r *Router) Handle(event DispatchEvent, data json.RawMessage) {
	r.Route(event, data)
}
