package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// Master broadcasts every event to a fixed list of slave controllers.
// The slave list is read-only after construction.
type Master struct {
	slaves []Controller
	logger *logging.Logger
}

// NewMaster returns a Master over slaves.
func NewMaster(logger *logging.Logger, slaves ...Controller) *Master {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Master{
		slaves: slaves,
		logger: logger.With("component", "controller-master"),
	}
}

// Name implements Controller.
func (m *Master) Name() string {
	return "master"
}

// Slaves returns the names of the slave controllers.
func (m *Master) Slaves() []string {
	names := make([]string, len(m.slaves))
	for i, s := range m.slaves {
		names[i] = s.Name()
	}
	return names
}

// Connected implements Controller.
func (m *Master) Connected(ctx context.Context, acc accessory.Accessory) error {
	return m.fanOut("connected", acc.ID, func(c Controller) error {
		return c.Connected(ctx, acc)
	})
}

// Disconnected implements Controller.
func (m *Master) Disconnected(ctx context.Context, accessoryID uuid.UUID) error {
	return m.fanOut("disconnected", accessoryID, func(c Controller) error {
		return c.Disconnected(ctx, accessoryID)
	})
}

// Updated implements Controller.
func (m *Master) Updated(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, characteristic accessory.Characteristic) error {
	return m.fanOut("updated", accessoryID, func(c Controller) error {
		return c.Updated(ctx, accessoryID, service, characteristic)
	})
}

func (m *Master) fanOut(event string, accessoryID uuid.UUID, deliver func(Controller) error) error {
	errs := make([]error, len(m.slaves))

	var wg sync.WaitGroup
	for i, slave := range m.slaves {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := deliver(slave); err != nil {
				m.logger.Warn("controller failed to handle event",
					"controller", slave.Name(),
					"event", event,
					"accessory_id", accessoryID.String(),
					"error", err,
				)
				errs[i] = fmt.Errorf("%s: %w", slave.Name(), err)
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
