// Package api implements the HTTP boundary of a houseflow hub or server.
//
// This package provides:
//   - the provider upgrade endpoint at /websocket (alias /ws)
//   - characteristic read and write endpoints routed through a Provider
//   - accessory status and history endpoints under /api/v1
//   - an event stream hub that implements controller.Controller
//   - a middleware stack (request ID, logging, recovery, CORS, body limit)
//
// Characteristic failures are reported as {"error": kind, "description": ...}
// where kind is the accessory error value, with 503 for an accessory that is
// not connected and 504 for a timed out call.
//
// The server follows the same lifecycle as the infrastructure clients:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
