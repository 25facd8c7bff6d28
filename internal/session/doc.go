// Package session runs one actor per WebSocket connection.
//
// A [Session] is the owner side of a link: the Server's view of a connected
// Hub, or a Hub's view of a connected Accessory. It owns the framing, the
// heartbeat and the pending-call correlation tables for that single
// connection. A [Peer] is the other end: it answers requests and pushes
// events, and is what a Hub runs towards the Server.
//
// # Lifecycle
//
//	Connecting ──► Authenticated ──► Running ──► Closing ──► Closed
//	  (provider upgrade handler)     (Run)      (any read/write error,
//	                                             heartbeat failure,
//	                                             protocol error, Close)
//
// While running, three goroutines cooperate:
//
//   - the actor loop owns all state (pending calls, heartbeat timestamp)
//   - the read pump decodes frames and posts them to the actor
//   - the write pump is the only goroutine that writes data frames
//
// On close every pending call is failed with accessory.ErrNotConnected,
// a close frame is sent, and the [Owner] receives exactly one SessionClosed
// notification. A session never reconnects; that is the remote peer's job.
//
// # Correlation
//
// Each outbound request gets a random 16-bit frame.ID that is not in use by
// any outstanding read or write. A call that sees no result within the call
// timeout fails with accessory.ErrTimeout and its entry is removed. A late
// result for such an entry is logged and dropped; a result whose ID matches
// nothing the session ever issued is a protocol error and closes the
// session.
package session
