package accessory

import (
	"fmt"
	"slices"
)

// ServiceName identifies a capability group on an accessory.
type ServiceName string

// Known services.
const (
	ServiceTemperatureSensor ServiceName = "temperature-sensor"
	ServiceHumiditySensor    ServiceName = "humidity-sensor"
	ServiceGarageDoorOpener  ServiceName = "garage-door-opener"
	ServiceBattery           ServiceName = "battery"
	ServiceSwitch            ServiceName = "switch"
)

var serviceCharacteristics = map[ServiceName][]CharacteristicName{
	ServiceTemperatureSensor: {NameCurrentTemperature},
	ServiceHumiditySensor:    {NameCurrentHumidity},
	ServiceGarageDoorOpener:  {NameCurrentDoorState, NameTargetDoorState},
	ServiceBattery:           {NameBatteryLevel, NameChargingState},
	ServiceSwitch:            {NameOnOff},
}

// ParseServiceName converts a wire string into a ServiceName.
func ParseServiceName(s string) (ServiceName, error) {
	name := ServiceName(s)
	if _, ok := serviceCharacteristics[name]; !ok {
		return "", fmt.Errorf("%w: %q", ErrServiceNotSupported, s)
	}
	return name, nil
}

// Supports reports whether the service defines the named characteristic.
func (s ServiceName) Supports(name CharacteristicName) bool {
	return slices.Contains(serviceCharacteristics[s], name)
}

// Characteristics lists the characteristics the service defines.
func (s ServiceName) Characteristics() []CharacteristicName {
	return slices.Clone(serviceCharacteristics[s])
}
