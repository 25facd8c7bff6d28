package provider

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// Master routes addressed calls to whichever slave owns the accessory.
// The slave list is read-only after construction.
type Master struct {
	slaves []Provider
	logger *logging.Logger
}

// NewMaster returns a Master over slaves.
func NewMaster(logger *logging.Logger, slaves ...Provider) *Master {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Master{
		slaves: slaves,
		logger: logger.With("component", "provider-master"),
	}
}

// Name implements Provider.
func (m *Master) Name() string {
	return "master"
}

// ReadCharacteristic implements Provider.
func (m *Master) ReadCharacteristic(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, name accessory.CharacteristicName) (accessory.Characteristic, error) {
	owner, err := m.owner(ctx, accessoryID)
	if err != nil {
		return nil, err
	}
	return owner.ReadCharacteristic(ctx, accessoryID, service, name)
}

// WriteCharacteristic implements Provider.
func (m *Master) WriteCharacteristic(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, characteristic accessory.Characteristic) error {
	owner, err := m.owner(ctx, accessoryID)
	if err != nil {
		return err
	}
	return owner.WriteCharacteristic(ctx, accessoryID, service, characteristic)
}

// IsConnected implements Provider.
func (m *Master) IsConnected(ctx context.Context, accessoryID uuid.UUID) (bool, error) {
	_, err := m.owner(ctx, accessoryID)
	if errors.Is(err, accessory.ErrNotConnected) {
		return false, nil
	}
	return err == nil, err
}

// AccessoryConfiguration asks each slave in order and returns the first
// descriptor found.
func (m *Master) AccessoryConfiguration(ctx context.Context, accessoryID uuid.UUID) (accessory.Accessory, bool, error) {
	for _, slave := range m.slaves {
		acc, ok, err := slave.AccessoryConfiguration(ctx, accessoryID)
		if err != nil {
			m.logger.Warn("provider failed to look up accessory",
				"provider", slave.Name(), "accessory_id", accessoryID.String(), "error", err)
			continue
		}
		if ok {
			return acc, true, nil
		}
	}
	return accessory.Accessory{}, false, nil
}

type claim struct {
	slave Provider
	owns  bool
	err   error
}

// owner asks every slave concurrently. The first to claim the accessory
// wins; a second claim is an invariant violation and is logged.
func (m *Master) owner(ctx context.Context, accessoryID uuid.UUID) (Provider, error) {
	results := make(chan claim, len(m.slaves))
	for _, slave := range m.slaves {
		go func() {
			owns, err := slave.IsConnected(ctx, accessoryID)
			results <- claim{slave: slave, owns: owns, err: err}
		}()
	}

	var owner Provider
	for range m.slaves {
		var r claim
		select {
		case r = <-results:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		switch {
		case r.err != nil:
			m.logger.Warn("provider failed ownership check",
				"provider", r.slave.Name(), "accessory_id", accessoryID.String(), "error", r.err)
		case r.owns && owner == nil:
			owner = r.slave
		case r.owns:
			m.logger.Error("accessory connected to more than one provider",
				"accessory_id", accessoryID.String(),
				"provider", owner.Name(),
				"duplicate_provider", r.slave.Name(),
				"error", ErrDuplicateOwner,
			)
		}
	}

	if owner == nil {
		return nil, accessory.ErrNotConnected
	}
	return owner, nil
}
