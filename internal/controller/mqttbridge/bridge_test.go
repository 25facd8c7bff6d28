package mqttbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakeBroker struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]mqtt.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (*fakeBroker) Topics() mqtt.Topics { return mqtt.Topics{Prefix: "houseflow"} }

func (b *fakeBroker) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func (b *fakeBroker) handler(topic string) mqtt.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

type write struct {
	id             uuid.UUID
	service        accessory.ServiceName
	characteristic accessory.Characteristic
}

type fakeProvider struct {
	mu     sync.Mutex
	writes []write
	err    error
}

func (*fakeProvider) Name() string { return "fake" }

func (*fakeProvider) ReadCharacteristic(context.Context, uuid.UUID, accessory.ServiceName, accessory.CharacteristicName) (accessory.Characteristic, error) {
	return nil, accessory.ErrNotConnected
}

func (p *fakeProvider) WriteCharacteristic(_ context.Context, id uuid.UUID, service accessory.ServiceName, c accessory.Characteristic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.writes = append(p.writes, write{id, service, c})
	return nil
}

func (*fakeProvider) IsConnected(context.Context, uuid.UUID) (bool, error) { return false, nil }

func (*fakeProvider) AccessoryConfiguration(context.Context, uuid.UUID) (accessory.Accessory, bool, error) {
	return accessory.Accessory{}, false, nil
}

func startBridge(t *testing.T, broker *fakeBroker, p *fakeProvider) *Bridge {
	t.Helper()
	opts := Options{Broker: broker, QoS: 1}
	if p != nil {
		opts.Provider = p
	}
	b := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func waitPublished(t *testing.T, broker *fakeBroker, n int) []published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := broker.messages()
		if len(msgs) >= n {
			return msgs
		}
		if time.Now().After(deadline) {
			t.Fatalf("published %d messages, want %d", len(msgs), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBridge_PublishesState(t *testing.T) {
	broker := newFakeBroker()
	b := startBridge(t, broker, nil)
	ctx := context.Background()
	id := uuid.MustParse("c4b2d3e5-6f70-4b8c-9dae-1f2a3b4c5d6e")

	b.Connected(ctx, accessory.Accessory{ID: id})                                                      //nolint:errcheck // Checked via broker
	b.Updated(ctx, id, accessory.ServiceGarageDoorOpener, accessory.CurrentDoorState{OpenPercent: 40}) //nolint:errcheck // Checked via broker
	b.Disconnected(ctx, id)                                                                            //nolint:errcheck // Checked via broker

	msgs := waitPublished(t, broker, 3)
	want := []published{
		{"houseflow/availability/" + id.String(), Online, true},
		{"houseflow/state/" + id.String() + "/garage-door-opener/current-door-state", `{"name":"current-door-state","open-percent":40}`, true},
		{"houseflow/availability/" + id.String(), Offline, true},
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}

	if broker.handler("houseflow/command/+/+") != nil {
		t.Error("subscribed to commands without a provider")
	}
}

func TestBridge_AppliesCommands(t *testing.T) {
	broker := newFakeBroker()
	p := &fakeProvider{}
	startBridge(t, broker, p)
	id := uuid.New()

	var handler mqtt.MessageHandler
	deadline := time.Now().Add(2 * time.Second)
	for handler == nil {
		if time.Now().After(deadline) {
			t.Fatal("command topic never subscribed")
		}
		handler = broker.handler("houseflow/command/+/+")
		time.Sleep(5 * time.Millisecond)
	}

	topic := "houseflow/command/" + id.String() + "/switch"
	if err := handler(topic, []byte(`{"name":"on-off","on":true}`)); err != nil {
		t.Fatalf("handler() error = %v", err)
	}
	p.mu.Lock()
	got := p.writes
	p.mu.Unlock()
	if len(got) != 1 || got[0] != (write{id, accessory.ServiceSwitch, accessory.OnOff{On: true}}) {
		t.Errorf("writes = %+v", got)
	}

	tests := []struct {
		name    string
		topic   string
		payload string
		want    error
	}{
		{"bad topic", "houseflow/command/garage/switch", `{"name":"on-off","on":true}`, mqtt.ErrInvalidTopic},
		{"bad payload", topic, `{"name":"on-off"}`, accessory.ErrInvalidCharacteristic},
		{"unknown characteristic", topic, `{"name":"volume","level":3}`, accessory.ErrCharacteristicNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := handler(tt.topic, []byte(tt.payload)); !errors.Is(err, tt.want) {
				t.Errorf("handler() error = %v, want %v", err, tt.want)
			}
		})
	}

	p.mu.Lock()
	p.err = accessory.ErrNotConnected
	p.mu.Unlock()
	if err := handler(topic, []byte(`{"name":"on-off","on":false}`)); !errors.Is(err, accessory.ErrNotConnected) {
		t.Errorf("handler() error = %v, want %v", err, accessory.ErrNotConnected)
	}
}
