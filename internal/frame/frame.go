package frame

import (
	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
)

// ID correlates a request frame with its result frame. It is unique only
// among the outstanding calls of one session.
type ID uint16

// Type is the wire discriminant.
type Type string

// Frame types.
const (
	TypeReadCharacteristic        Type = "read-characteristic"
	TypeWriteCharacteristic       Type = "write-characteristic"
	TypeAccessoryConnected        Type = "accessory-connected"
	TypeAccessoryDisconnected     Type = "accessory-disconnected"
	TypeUpdateCharacteristic      Type = "update-characteristic"
	TypeReadCharacteristicResult  Type = "read-characteristic-result"
	TypeWriteCharacteristicResult Type = "write-characteristic-result"
)

// Frame is any protocol message.
type Frame interface {
	Type() Type
}

// Downstream is a request travelling towards the device.
type Downstream interface {
	Frame
	downstream()
}

// Upstream is an event or result travelling away from the device.
type Upstream interface {
	Frame
	upstream()
}

// ReadCharacteristic asks the peer for the current value of a characteristic.
type ReadCharacteristic struct {
	ID                 ID
	AccessoryID        uuid.UUID
	ServiceName        accessory.ServiceName
	CharacteristicName accessory.CharacteristicName
}

// WriteCharacteristic asks the peer to set a characteristic.
type WriteCharacteristic struct {
	ID             ID
	AccessoryID    uuid.UUID
	ServiceName    accessory.ServiceName
	Characteristic accessory.Characteristic
}

// AccessoryConnected reports that an accessory came online behind a hub.
type AccessoryConnected struct {
	Accessory accessory.Accessory
}

// AccessoryDisconnected reports that an accessory went offline behind a hub.
type AccessoryDisconnected struct {
	AccessoryID uuid.UUID
}

// UpdateCharacteristic is an unsolicited state push.
type UpdateCharacteristic struct {
	AccessoryID    uuid.UUID
	ServiceName    accessory.ServiceName
	Characteristic accessory.Characteristic
}

// ReadCharacteristicResult answers a ReadCharacteristic with the same ID.
// Err is empty on success.
type ReadCharacteristicResult struct {
	ID             ID
	Characteristic accessory.Characteristic
	Err            accessory.Error
}

// WriteCharacteristicResult answers a WriteCharacteristic with the same ID.
// Err is empty on success.
type WriteCharacteristicResult struct {
	ID  ID
	Err accessory.Error
}

func (ReadCharacteristic) Type() Type        { return TypeReadCharacteristic }
func (WriteCharacteristic) Type() Type       { return TypeWriteCharacteristic }
func (AccessoryConnected) Type() Type        { return TypeAccessoryConnected }
func (AccessoryDisconnected) Type() Type     { return TypeAccessoryDisconnected }
func (UpdateCharacteristic) Type() Type      { return TypeUpdateCharacteristic }
func (ReadCharacteristicResult) Type() Type  { return TypeReadCharacteristicResult }
func (WriteCharacteristicResult) Type() Type { return TypeWriteCharacteristicResult }

func (ReadCharacteristic) downstream()  {}
func (WriteCharacteristic) downstream() {}

func (AccessoryConnected) upstream()        {}
func (AccessoryDisconnected) upstream()     {}
func (UpdateCharacteristic) upstream()      {}
func (ReadCharacteristicResult) upstream()  {}
func (WriteCharacteristicResult) upstream() {}
