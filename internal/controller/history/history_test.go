package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/database"
	"github.com/nerrad567/houseflow-core/migrations"
)

func openRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewRepository(db.DB)
}

func TestRepository_RecordAndHistory(t *testing.T) {
	repo := openRepository(t)
	ctx := context.Background()
	id := uuid.New()
	base := time.Now().Add(-time.Minute)

	values := []accessory.Characteristic{
		accessory.CurrentTemperature{Temperature: 19},
		accessory.CurrentTemperature{Temperature: 20},
		accessory.CurrentTemperature{Temperature: 21},
	}
	for i, v := range values {
		if err := repo.Record(ctx, id, accessory.ServiceTemperatureSensor, v, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := repo.Record(ctx, uuid.New(), accessory.ServiceSwitch, accessory.OnOff{On: true}, base); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := repo.History(ctx, id, 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("History() returned %d entries, want 2", len(entries))
	}
	if entries[0].Characteristic != (accessory.CurrentTemperature{Temperature: 21}) {
		t.Errorf("newest entry = %v", entries[0].Characteristic)
	}
	if entries[1].Characteristic != (accessory.CurrentTemperature{Temperature: 20}) {
		t.Errorf("second entry = %v", entries[1].Characteristic)
	}
	if entries[0].ServiceName != accessory.ServiceTemperatureSensor || entries[0].AccessoryID != id {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestRepository_Prune(t *testing.T) {
	repo := openRepository(t)
	ctx := context.Background()
	id := uuid.New()

	if err := repo.Record(ctx, id, accessory.ServiceBattery, accessory.BatteryLevel{BatteryLevelPercent: 90}, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repo.Record(ctx, id, accessory.ServiceBattery, accessory.BatteryLevel{BatteryLevelPercent: 80}, time.Now()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	n, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d rows, want 1", n)
	}

	if _, err := repo.Prune(ctx, 0); !errors.Is(err, ErrInvalidRetention) {
		t.Errorf("Prune(0) error = %v, want %v", err, ErrInvalidRetention)
	}
}

func TestController_RecordsUpdates(t *testing.T) {
	repo := openRepository(t)
	c := New(repo, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx) //nolint:errcheck // Run returns nil on cancel

	id := uuid.New()
	if err := c.Connected(ctx, accessory.Accessory{ID: id}); err != nil {
		t.Fatalf("Connected() error = %v", err)
	}
	if err := c.Updated(ctx, id, accessory.ServiceGarageDoorOpener, accessory.CurrentDoorState{OpenPercent: 50}); err != nil {
		t.Fatalf("Updated() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := c.History(ctx, id, 10)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(entries) == 1 {
			if entries[0].Characteristic != (accessory.CurrentDoorState{OpenPercent: 50}) {
				t.Errorf("entry = %+v", entries[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("update was not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if c.Name() != Name {
		t.Errorf("Name() = %q, want %q", c.Name(), Name)
	}
}
