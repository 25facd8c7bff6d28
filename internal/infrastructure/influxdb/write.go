package influxdb

import (
	"time"

	"github.com/google/uuid"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/houseflow-core/internal/accessory"
)

// Measurement names.
const (
	MeasurementCharacteristic = "characteristic"
	MeasurementConnectivity   = "connectivity"
)

// CharacteristicPoint identifies one numeric characteristic sample.
type CharacteristicPoint struct {
	AccessoryID    uuid.UUID
	Room           string
	Service        accessory.ServiceName
	Characteristic accessory.CharacteristicName
	Value          float64
	At             time.Time
}

// WriteCharacteristic queues a characteristic sample.
//
// The line written looks like:
//
//	characteristic,accessory_id=…,characteristic=current-temperature,room=Bedroom,service=temperature-sensor value=21.5
func (c *Client) WriteCharacteristic(p CharacteristicPoint) {
	tags := map[string]string{
		"accessory_id":   p.AccessoryID.String(),
		"service":        string(p.Service),
		"characteristic": string(p.Characteristic),
	}
	if p.Room != "" {
		tags["room"] = p.Room
	}
	c.write(MeasurementCharacteristic, tags, map[string]any{"value": p.Value}, p.At)
}

// WriteConnectivity queues an online/offline transition as 1 or 0.
func (c *Client) WriteConnectivity(accessoryID uuid.UUID, room string, online bool, at time.Time) {
	tags := map[string]string{"accessory_id": accessoryID.String()}
	if room != "" {
		tags["room"] = room
	}
	value := 0
	if online {
		value = 1
	}
	c.write(MeasurementConnectivity, tags, map[string]any{"online": value}, at)
}

func (c *Client) write(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if c.closed.Load() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
