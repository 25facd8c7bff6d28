package status

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/controller"
)

func startController(t *testing.T) *Controller {
	t.Helper()
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx) //nolint:errcheck // Run returns nil on cancel
	return c
}

func testAccessory(name, room string) accessory.Accessory {
	return accessory.Accessory{
		ID:       uuid.New(),
		Name:     name,
		RoomName: room,
		Type:     accessory.Type{Manufacturer: accessory.ManufacturerHouseflow, Model: accessory.ModelGarage},
	}
}

func TestController_Lifecycle(t *testing.T) {
	c := startController(t)
	ctx := context.Background()
	garage := testAccessory("Garage", "Outside")

	if err := c.Connected(ctx, garage); err != nil {
		t.Fatalf("Connected() error = %v", err)
	}
	if err := c.Updated(ctx, garage.ID, accessory.ServiceGarageDoorOpener, accessory.CurrentDoorState{OpenPercent: 100}); err != nil {
		t.Fatalf("Updated() error = %v", err)
	}
	if err := c.Updated(ctx, garage.ID, accessory.ServiceGarageDoorOpener, accessory.CurrentDoorState{OpenPercent: 0}); err != nil {
		t.Fatalf("Updated() error = %v", err)
	}

	// Queries share the mailbox with events, so they observe every earlier event.
	snap, err := c.Accessory(ctx, garage.ID)
	if err != nil {
		t.Fatalf("Accessory() error = %v", err)
	}
	if !snap.Online {
		t.Error("Online = false, want true")
	}
	if snap.Accessory != garage {
		t.Errorf("Accessory = %+v, want %+v", snap.Accessory, garage)
	}
	got := snap.Services[accessory.ServiceGarageDoorOpener][accessory.NameCurrentDoorState]
	if got != (accessory.CurrentDoorState{OpenPercent: 0}) {
		t.Errorf("current door state = %v, want 0%%", got)
	}

	if err := c.Disconnected(ctx, garage.ID); err != nil {
		t.Fatalf("Disconnected() error = %v", err)
	}
	snap, err = c.Accessory(ctx, garage.ID)
	if err != nil {
		t.Fatalf("Accessory() error = %v", err)
	}
	if snap.Online {
		t.Error("Online = true after disconnect")
	}
	if len(snap.Services) != 1 {
		t.Errorf("last-known values dropped on disconnect: %v", snap.Services)
	}
}

func TestController_SnapshotIsolation(t *testing.T) {
	c := startController(t)
	ctx := context.Background()
	light := testAccessory("Lamp", "Office")
	light.Model = accessory.ModelLight

	c.Connected(ctx, light)                                                      //nolint:errcheck // Checked via query
	c.Updated(ctx, light.ID, accessory.ServiceSwitch, accessory.OnOff{On: true}) //nolint:errcheck // Checked via query

	snap, err := c.Accessory(ctx, light.ID)
	if err != nil {
		t.Fatalf("Accessory() error = %v", err)
	}
	snap.Services[accessory.ServiceSwitch][accessory.NameOnOff] = accessory.OnOff{On: false}

	again, err := c.Accessory(ctx, light.ID)
	if err != nil {
		t.Fatalf("Accessory() error = %v", err)
	}
	if again.Services[accessory.ServiceSwitch][accessory.NameOnOff] != (accessory.OnOff{On: true}) {
		t.Error("mutating a snapshot changed controller state")
	}
}

func TestController_AccessoriesOrdered(t *testing.T) {
	c := startController(t)
	ctx := context.Background()

	accs := []accessory.Accessory{
		testAccessory("Gate", "Outside"),
		testAccessory("Lamp", "Bedroom"),
		testAccessory("Garage", "Outside"),
	}
	for _, a := range accs {
		if err := c.Connected(ctx, a); err != nil {
			t.Fatalf("Connected() error = %v", err)
		}
	}

	list, err := c.Accessories(ctx)
	if err != nil {
		t.Fatalf("Accessories() error = %v", err)
	}
	want := []string{"Lamp", "Garage", "Gate"}
	if len(list) != len(want) {
		t.Fatalf("Accessories() returned %d, want %d", len(list), len(want))
	}
	for i, name := range want {
		if list[i].Accessory.Name != name {
			t.Errorf("list[%d] = %q, want %q", i, list[i].Accessory.Name, name)
		}
	}
}

func TestController_UnknownAccessory(t *testing.T) {
	c := startController(t)
	ctx := context.Background()

	if _, err := c.Accessory(ctx, uuid.New()); !errors.Is(err, ErrUnknownAccessory) {
		t.Errorf("Accessory() error = %v, want %v", err, ErrUnknownAccessory)
	}

	// A disconnect for an unknown accessory must not create an entry.
	if err := c.Disconnected(ctx, uuid.New()); err != nil {
		t.Fatalf("Disconnected() error = %v", err)
	}
	list, err := c.Accessories(ctx)
	if err != nil {
		t.Fatalf("Accessories() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Accessories() = %v, want empty", list)
	}
}

func TestController_Stopped(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx) //nolint:errcheck // Run returns nil on cancel
		close(done)
	}()
	cancel()
	<-done

	if err := c.Connected(context.Background(), testAccessory("Gate", "Outside")); !errors.Is(err, controller.ErrStopped) {
		t.Errorf("Connected() after stop error = %v, want %v", err, controller.ErrStopped)
	}
	if _, err := c.Accessories(context.Background()); !errors.Is(err, controller.ErrStopped) {
		t.Errorf("Accessories() after stop error = %v, want %v", err, controller.ErrStopped)
	}
}
