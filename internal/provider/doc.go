// Package provider locates the session that owns an accessory.
//
// A Provider exposes accessory-addressed reads and writes. WebSocket is the
// provider backed by peers connecting over the session protocol: at the
// accessory tier each peer is one accessory (the Hub's "hive"), at the hub
// tier each peer is a Hub carrying many accessories (the Server's
// "lighthouse").
//
// The registry of sessions and accessory owners belongs to the provider's
// actor goroutine. Reads and writes ask the actor for the owning session
// handle and then talk to that session directly, so a slow accessory never
// stalls the registry.
//
// Master aggregates several providers, routing each call to whichever one
// currently owns the accessory.
package provider
