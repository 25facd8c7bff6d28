// Package controller defines the consumer side of provider events.
//
// A Controller is told when an accessory connects, disconnects, or reports a
// new characteristic value. Concrete controllers live in sub-packages: the
// last-known state store, the Hub uplink, SQLite history, InfluxDB telemetry,
// the MQTT bridge and Redis presence.
//
// Master fans each event out to every slave concurrently. A slave failing
// is logged under its Name and never stops delivery to its siblings.
//
// Controllers see no ordering between events from different sessions; events
// from a single session arrive in the order the session received them.
package controller
