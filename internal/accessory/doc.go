// Package accessory defines the data model shared by every tier of houseflow:
// accessories, the services they expose, the characteristics inside those
// services, and the business-level error taxonomy returned by characteristic
// calls.
//
// # Vocabulary
//
// Services and characteristics are closed sets. A characteristic is a tagged
// union keyed by its name and encoded as a flat JSON object:
//
//	{"name": "target-door-state", "open-percent": 100}
//	{"name": "on-off", "on": true}
//
// Sensor readings (current-temperature, current-humidity, current-door-state,
// battery-level, charging-state) are read-only. target-door-state and on-off
// accept writes.
//
// # Errors
//
// [Error] values are returned to callers verbatim and compare with errors.Is:
//
//	if errors.Is(err, accessory.ErrNotConnected) {
//	    // accessory offline
//	}
//
// They never tear down the session that produced them.
package accessory
