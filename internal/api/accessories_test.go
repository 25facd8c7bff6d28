package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/controller/history"
)

func TestListAccessories(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	garage := accessory.Accessory{
		ID:       uuid.New(),
		Name:     "Garage",
		RoomName: "Outside",
		Type:     accessory.Type{Manufacturer: accessory.ManufacturerHouseflow, Model: accessory.ModelGarage},
	}
	if err := env.status.Connected(ctx, garage); err != nil {
		t.Fatalf("Connected() error: %v", err)
	}
	if err := env.status.Updated(ctx, garage.ID, accessory.ServiceGarageDoorOpener, accessory.CurrentDoorState{OpenPercent: 40}); err != nil {
		t.Fatalf("Updated() error: %v", err)
	}

	w := env.do(http.MethodGet, "/api/v1/accessories", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Count       int `json:"count"`
		Accessories []struct {
			Accessory struct {
				ID   uuid.UUID `json:"id"`
				Name string    `json:"name"`
			} `json:"accessory"`
			Online   bool                                  `json:"online"`
			Services map[string]map[string]json.RawMessage `json:"services"`
		} `json:"accessories"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %s: %v", w.Body.String(), err)
	}
	if resp.Count != 1 || len(resp.Accessories) != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	got := resp.Accessories[0]
	if got.Accessory.ID != garage.ID || !got.Online {
		t.Errorf("accessory = %+v", got)
	}
	raw := got.Services["garage-door-opener"]["current-door-state"]
	c, err := accessory.UnmarshalCharacteristic(raw)
	if err != nil {
		t.Fatalf("UnmarshalCharacteristic(%s) error: %v", raw, err)
	}
	if c != (accessory.CurrentDoorState{OpenPercent: 40}) {
		t.Errorf("current door state = %#v", c)
	}
}

func TestGetAccessory(t *testing.T) {
	env := newTestEnv(t, nil)
	id := uuid.New()
	if err := env.status.Connected(context.Background(), accessory.Accessory{ID: id, Name: "Thermometer"}); err != nil {
		t.Fatalf("Connected() error: %v", err)
	}

	w := env.do(http.MethodGet, fmt.Sprintf("/api/v1/accessories/%s", id), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	w = env.do(http.MethodGet, fmt.Sprintf("/api/v1/accessories/%s", uuid.New()), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown accessory status = %d, want 404", w.Code)
	}
	if e := decodeError(t, w); e.Kind != ErrKindNotFound {
		t.Errorf("error = %q, want %q", e.Kind, ErrKindNotFound)
	}

	w = env.do(http.MethodGet, "/api/v1/accessories/garage", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", w.Code)
	}
}

func TestAccessories_StatusDisabled(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Status = nil
		d.History = nil
	})

	for _, path := range []string{
		"/api/v1/accessories",
		"/api/v1/accessories/" + uuid.NewString(),
		"/api/v1/accessories/" + uuid.NewString() + "/history",
	} {
		w := env.do(http.MethodGet, path, "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, w.Code)
		}
	}
}

func TestAccessoryHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	id := uuid.New()
	env.history.entries = []history.Entry{{
		ID:             1,
		AccessoryID:    id,
		ServiceName:    accessory.ServiceSwitch,
		Characteristic: accessory.OnOff{On: true},
		RecordedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}

	tests := []struct {
		query      string
		wantStatus int
		wantLimit  int
	}{
		{query: "", wantStatus: http.StatusOK, wantLimit: defaultHistoryLimit},
		{query: "?limit=5", wantStatus: http.StatusOK, wantLimit: 5},
		{query: "?limit=50000", wantStatus: http.StatusOK, wantLimit: maxHistoryLimit},
		{query: "?limit=0", wantStatus: http.StatusBadRequest},
		{query: "?limit=abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run("limit"+tt.query, func(t *testing.T) {
			env.history.lastLimit = 0
			w := env.do(http.MethodGet, fmt.Sprintf("/api/v1/accessories/%s/history%s", id, tt.query), "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if env.history.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", env.history.lastLimit, tt.wantLimit)
			}
			var resp struct {
				Count   int `json:"count"`
				Entries []struct {
					ServiceName string          `json:"service-name"`
					Value       json.RawMessage `json:"characteristic"`
				} `json:"entries"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Count != 1 || resp.Entries[0].ServiceName != "switch" {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}
