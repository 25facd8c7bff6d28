package controller

import (
	"context"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
)

// Controller consumes accessory lifecycle and state events.
//
// Implementations must return quickly; stateful controllers enqueue the event
// on their own mailbox and process it there.
type Controller interface {
	// Name identifies the controller in logs.
	Name() string

	Connected(ctx context.Context, acc accessory.Accessory) error
	Disconnected(ctx context.Context, accessoryID uuid.UUID) error
	Updated(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, characteristic accessory.Characteristic) error
}
