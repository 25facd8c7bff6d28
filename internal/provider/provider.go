package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
)

// Provider is an accessory-addressed read/write backend.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	ReadCharacteristic(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, name accessory.CharacteristicName) (accessory.Characteristic, error)
	WriteCharacteristic(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, characteristic accessory.Characteristic) error

	// IsConnected reports whether the provider currently owns the accessory.
	IsConnected(ctx context.Context, accessoryID uuid.UUID) (bool, error)

	// AccessoryConfiguration returns the accessory's descriptor whether or
	// not it is connected.
	AccessoryConfiguration(ctx context.Context, accessoryID uuid.UUID) (accessory.Accessory, bool, error)
}

var (
	_ Provider = (*WebSocket)(nil)
	_ Provider = (*Master)(nil)
)
