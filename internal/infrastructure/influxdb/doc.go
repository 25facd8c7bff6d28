// Package influxdb provides InfluxDB connectivity for accessory telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched characteristic and connectivity writes, and health
// checks.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCharacteristic(influxdb.CharacteristicPoint{
//	    AccessoryID:    id,
//	    Service:        accessory.ServiceTemperatureSensor,
//	    Characteristic: accessory.NameCurrentTemperature,
//	    Value:          21.5,
//	    At:             time.Now(),
//	})
//
// # Error Handling
//
// Writes are non-blocking. Batch failures are logged and counted by
// Failures. Connection and health check errors are returned directly.
package influxdb
