package accessory

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Manufacturer identifies who built an accessory.
type Manufacturer string

// Known manufacturers.
const (
	ManufacturerHouseflow   Manufacturer = "houseflow"
	ManufacturerXiaomiMijia Manufacturer = "xiaomi-mijia"
)

// Model identifies an accessory model within a manufacturer.
type Model string

// Known models.
const (
	ModelGate             Model = "gate"
	ModelGarage           Model = "garage"
	ModelLight            Model = "light"
	ModelHygroThermometer Model = "hygro-thermometer"
)

var knownModels = map[Manufacturer][]Model{
	ManufacturerHouseflow:   {ModelGate, ModelGarage, ModelLight},
	ManufacturerXiaomiMijia: {ModelHygroThermometer},
}

// Type is the closed manufacturer/model tag of an accessory.
type Type struct {
	Manufacturer Manufacturer `json:"manufacturer"`
	Model        Model        `json:"model"`
}

// Validate reports whether the manufacturer/model pair is known.
func (t Type) Validate() error {
	models, ok := knownModels[t.Manufacturer]
	if !ok {
		return fmt.Errorf("%w: unknown manufacturer %q", ErrInvalidAccessory, t.Manufacturer)
	}
	if !slices.Contains(models, t.Model) {
		return fmt.Errorf("%w: unknown model %q for manufacturer %q", ErrInvalidAccessory, t.Model, t.Manufacturer)
	}
	return nil
}

func (t Type) String() string {
	return string(t.Manufacturer) + "/" + string(t.Model)
}

// Accessory is an addressable smart device. Identity is the ID; the rest of
// the descriptor is immutable while connected and re-sent on every reconnect.
//
// The type tag is flattened into the JSON object:
//
//	{"id": "...", "name": "Garage", "room-name": "Outside", "manufacturer": "houseflow", "model": "garage"}
type Accessory struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	RoomName string    `json:"room-name"`
	Type
}

// Validate checks required fields and the type tag.
func (a Accessory) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("%w: id is required", ErrInvalidAccessory)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAccessory)
	}
	return a.Type.Validate()
}
