// Package frame defines the messages exchanged over every houseflow
// WebSocket link and their JSON encoding.
//
// Two families exist. Downstream frames travel towards the device and carry
// requests; upstream frames travel back and carry events and results:
//
//	Server ──► Hub ──► Accessory     read-characteristic, write-characteristic
//	Server ◄── Hub ◄── Accessory     accessory-connected, accessory-disconnected,
//	                                 update-characteristic, *-result
//
// Every frame is a JSON text message with a "type" discriminant and kebab-case
// fields:
//
//	{"type":"read-characteristic","id":513,"accessory-id":"…","service-name":"garage-door-opener","characteristic-name":"current-door-state"}
//	{"type":"read-characteristic-result","id":513,"result":{"status":"success","body":{"name":"current-door-state","open-percent":40}}}
//
// # Tiers
//
// A [Codec] is configured per link. At [TierHub] (Server↔Hub) the
// accessory-id field is required on every accessory-addressed frame and the
// accessory-connected/-disconnected events are legal. At [TierAccessory]
// (Hub↔Accessory) the session already identifies the accessory, so the field
// is omitted and the connection events are rejected.
//
// Decoding happens once, at the transport boundary, into the sealed
// [Upstream] and [Downstream] interfaces. Unknown types are
// [ErrUnexpectedFrame]; malformed JSON and missing required fields are
// [ErrDecode]. Unknown fields are ignored.
package frame
