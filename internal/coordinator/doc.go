// Package coordinator is the fleet server's HTTP surface. It composes the
// presence registry, command queue, assignment store, and push relay
// behind one mux: device-facing endpoints under /api/device, operator
// endpoints under /api, and the websocket upgrade at /ws.
package coordinator
