// Package discovery advertises a hub on the local network over mDNS/DNS-SD
// so accessories can find its upgrade endpoint without static configuration.
//
// The service type is _houseflow._tcp. TXT records carry:
//   - id: the hub id
//   - path: the upgrade endpoint path
//   - tls: "1" when the endpoint requires wss
//   - ver: the hub software version
package discovery
