// Package telemetry is a controller that records characteristic values
// and connectivity as InfluxDB points, tagged by accessory, service,
// characteristic and room.
package telemetry
