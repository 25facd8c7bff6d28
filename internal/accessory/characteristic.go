package accessory

import (
	"encoding/json"
	"fmt"
)

// CharacteristicName is the discriminant of the Characteristic union.
type CharacteristicName string

// Known characteristics.
const (
	NameCurrentTemperature CharacteristicName = "current-temperature"
	NameCurrentHumidity    CharacteristicName = "current-humidity"
	NameCurrentDoorState   CharacteristicName = "current-door-state"
	NameTargetDoorState    CharacteristicName = "target-door-state"
	NameBatteryLevel       CharacteristicName = "battery-level"
	NameChargingState      CharacteristicName = "charging-state"
	NameOnOff              CharacteristicName = "on-off"
)

// ParseCharacteristicName converts a wire string into a CharacteristicName.
func ParseCharacteristicName(s string) (CharacteristicName, error) {
	switch name := CharacteristicName(s); name {
	case NameCurrentTemperature, NameCurrentHumidity, NameCurrentDoorState,
		NameTargetDoorState, NameBatteryLevel, NameChargingState, NameOnOff:
		return name, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrCharacteristicNotSupported, s)
	}
}

// Characteristic is a typed, named property within a service.
// The set of implementations is closed to this package.
type Characteristic interface {
	Name() CharacteristicName
	// Writable reports whether the characteristic accepts writes.
	Writable() bool
	characteristic()
}

// CurrentTemperature is a temperature reading in degrees Celsius.
type CurrentTemperature struct {
	Temperature float64
}

// CurrentHumidity is a relative humidity reading in percent.
type CurrentHumidity struct {
	Humidity float64
}

// CurrentDoorState is how far a door is open.
type CurrentDoorState struct {
	OpenPercent uint8
}

// TargetDoorState requests a door position.
type TargetDoorState struct {
	OpenPercent uint8
}

// BatteryLevel is the remaining charge in percent.
type BatteryLevel struct {
	BatteryLevelPercent uint8
}

// ChargingState reports whether the battery is charging.
type ChargingState struct {
	Charging bool
}

// OnOff is the power state of a switchable accessory.
type OnOff struct {
	On bool
}

func (CurrentTemperature) Name() CharacteristicName { return NameCurrentTemperature }
func (CurrentHumidity) Name() CharacteristicName    { return NameCurrentHumidity }
func (CurrentDoorState) Name() CharacteristicName   { return NameCurrentDoorState }
func (TargetDoorState) Name() CharacteristicName    { return NameTargetDoorState }
func (BatteryLevel) Name() CharacteristicName       { return NameBatteryLevel }
func (ChargingState) Name() CharacteristicName      { return NameChargingState }
func (OnOff) Name() CharacteristicName              { return NameOnOff }

func (CurrentTemperature) Writable() bool { return false }
func (CurrentHumidity) Writable() bool    { return false }
func (CurrentDoorState) Writable() bool   { return false }
func (TargetDoorState) Writable() bool    { return true }
func (BatteryLevel) Writable() bool       { return false }
func (ChargingState) Writable() bool      { return false }
func (OnOff) Writable() bool              { return true }

func (CurrentTemperature) characteristic() {}
func (CurrentHumidity) characteristic()    {}
func (CurrentDoorState) characteristic()   {}
func (TargetDoorState) characteristic()    {}
func (BatteryLevel) characteristic()       {}
func (ChargingState) characteristic()      {}
func (OnOff) characteristic()              {}

func (c CurrentTemperature) MarshalJSON() ([]byte, error) { return MarshalCharacteristic(c) }
func (c CurrentHumidity) MarshalJSON() ([]byte, error)    { return MarshalCharacteristic(c) }
func (c CurrentDoorState) MarshalJSON() ([]byte, error)   { return MarshalCharacteristic(c) }
func (c TargetDoorState) MarshalJSON() ([]byte, error)    { return MarshalCharacteristic(c) }
func (c BatteryLevel) MarshalJSON() ([]byte, error)       { return MarshalCharacteristic(c) }
func (c ChargingState) MarshalJSON() ([]byte, error)      { return MarshalCharacteristic(c) }
func (c OnOff) MarshalJSON() ([]byte, error)              { return MarshalCharacteristic(c) }

// Numeric returns the characteristic as a float for time-series sinks.
// Booleans map to 0/1. ok is false only for a nil characteristic.
func Numeric(c Characteristic) (value float64, ok bool) {
	switch v := c.(type) {
	case CurrentTemperature:
		return v.Temperature, true
	case CurrentHumidity:
		return v.Humidity, true
	case CurrentDoorState:
		return float64(v.OpenPercent), true
	case TargetDoorState:
		return float64(v.OpenPercent), true
	case BatteryLevel:
		return float64(v.BatteryLevelPercent), true
	case ChargingState:
		return boolToFloat(v.Charging), true
	case OnOff:
		return boolToFloat(v.On), true
	}
	return 0, false
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// wireCharacteristic is the flat JSON object shared by all variants.
type wireCharacteristic struct {
	Name                CharacteristicName `json:"name"`
	Temperature         *float64           `json:"temperature,omitempty"`
	Humidity            *float64           `json:"humidity,omitempty"`
	OpenPercent         *uint8             `json:"open-percent,omitempty"`
	BatteryLevelPercent *uint8             `json:"battery-level-percent,omitempty"`
	Charging            *bool              `json:"charging,omitempty"`
	On                  *bool              `json:"on,omitempty"`
}

// MarshalCharacteristic encodes a characteristic with its name tag.
func MarshalCharacteristic(c Characteristic) ([]byte, error) {
	w := wireCharacteristic{}
	switch v := c.(type) {
	case CurrentTemperature:
		w.Temperature = &v.Temperature
	case CurrentHumidity:
		w.Humidity = &v.Humidity
	case CurrentDoorState:
		w.OpenPercent = &v.OpenPercent
	case TargetDoorState:
		w.OpenPercent = &v.OpenPercent
	case BatteryLevel:
		w.BatteryLevelPercent = &v.BatteryLevelPercent
	case ChargingState:
		w.Charging = &v.Charging
	case OnOff:
		w.On = &v.On
	default:
		return nil, fmt.Errorf("%w: %T", ErrCharacteristicNotSupported, c)
	}
	w.Name = c.Name()
	return json.Marshal(w)
}

// UnmarshalCharacteristic decodes a tagged characteristic object.
// Unknown names fail with ErrCharacteristicNotSupported; a missing value
// field fails with ErrInvalidCharacteristic.
func UnmarshalCharacteristic(data []byte) (Characteristic, error) {
	var w wireCharacteristic
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCharacteristic, err)
	}
	if w.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidCharacteristic)
	}
	if _, err := ParseCharacteristicName(string(w.Name)); err != nil {
		return nil, err
	}

	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %q", ErrInvalidCharacteristic, w.Name, field)
	}

	switch w.Name {
	case NameCurrentTemperature:
		if w.Temperature == nil {
			return nil, missing("temperature")
		}
		return CurrentTemperature{Temperature: *w.Temperature}, nil
	case NameCurrentHumidity:
		if w.Humidity == nil {
			return nil, missing("humidity")
		}
		return CurrentHumidity{Humidity: *w.Humidity}, nil
	case NameCurrentDoorState, NameTargetDoorState:
		if w.OpenPercent == nil {
			return nil, missing("open-percent")
		}
		if *w.OpenPercent > 100 { //nolint:mnd // percentage bound
			return nil, fmt.Errorf("%w: open-percent %d out of range", ErrInvalidCharacteristic, *w.OpenPercent)
		}
		if w.Name == NameCurrentDoorState {
			return CurrentDoorState{OpenPercent: *w.OpenPercent}, nil
		}
		return TargetDoorState{OpenPercent: *w.OpenPercent}, nil
	case NameBatteryLevel:
		if w.BatteryLevelPercent == nil {
			return nil, missing("battery-level-percent")
		}
		return BatteryLevel{BatteryLevelPercent: *w.BatteryLevelPercent}, nil
	case NameChargingState:
		if w.Charging == nil {
			return nil, missing("charging")
		}
		return ChargingState{Charging: *w.Charging}, nil
	default: // NameOnOff
		if w.On == nil {
			return nil, missing("on")
		}
		return OnOff{On: *w.On}, nil
	}
}
