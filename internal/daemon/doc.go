// Package daemon assembles a hub or server process from configuration.
//
// Both binaries share the same shape: optional sinks are connected first
// and registered as controllers, the controllers are joined under a
// Master, the WebSocket provider is built over that Master, and the HTTP
// boundary serves the provider's upgrade endpoint alongside the
// characteristic and status routes. The hub additionally dials its server
// through the lighthouse uplink and advertises itself over mDNS.
//
// Every component is started after the whole graph is built and stopped
// in reverse order when the context passed to Run is cancelled.
package daemon
