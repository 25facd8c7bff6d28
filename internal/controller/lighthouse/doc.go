// Package lighthouse is the hub's uplink to the server.
//
// It is a controller: every accessory event seen on the hub is forwarded
// to the server as a hub-tier frame. In the other direction it serves the
// server's characteristic reads and writes through the hub's provider.
// After each reconnect the accessories currently online are announced
// again, so the server's registry converges without any queued history.
package lighthouse
