package provider

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/auth"
	"github.com/nerrad567/houseflow-core/internal/controller"
	"github.com/nerrad567/houseflow-core/internal/frame"
	"github.com/nerrad567/houseflow-core/internal/session"
)

const gatePassword = "gate-secret"

var gatePasswordHash = sync.OnceValues(func() (string, error) {
	return auth.HashPassword(gatePassword)
})

var (
	thermometerAcc = accessory.Accessory{
		ID:       uuid.MustParse("b3a1c2d4-5e6f-4a7b-8c9d-0e1f2a3b4c5d"),
		Name:     "Bedroom thermometer",
		RoomName: "Bedroom",
		Type:     accessory.Type{Manufacturer: accessory.ManufacturerXiaomiMijia, Model: accessory.ModelHygroThermometer},
	}
	gateAcc = accessory.Accessory{
		ID:       uuid.MustParse("c4b2d3e5-6f70-4b8c-9dae-1f2a3b4c5d6e"),
		Name:     "Front gate",
		RoomName: "Outside",
		Type:     accessory.Type{Manufacturer: accessory.ManufacturerHouseflow, Model: accessory.ModelGate},
	}
	hubID = uuid.MustParse("d5c3e4f6-7081-4c9d-aebf-2a3b4c5d6e7f")
)

func testSessionConfig() session.Config {
	return session.Config{
		PingInterval:   50 * time.Millisecond,
		PingTimeout:    500 * time.Millisecond,
		CallTimeout:    time.Second,
		WriteTimeout:   time.Second,
		MaxMessageSize: session.DefaultMaxMessageSize,
	}
}

type recorder struct {
	events chan string
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 64)}
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Connected(_ context.Context, acc accessory.Accessory) error {
	r.events <- "connected " + acc.ID.String()
	return nil
}

func (r *recorder) Disconnected(_ context.Context, id uuid.UUID) error {
	r.events <- "disconnected " + id.String()
	return nil
}

func (r *recorder) Updated(_ context.Context, id uuid.UUID, _ accessory.ServiceName, c accessory.Characteristic) error {
	r.events <- "updated " + id.String() + " " + string(c.Name())
	return nil
}

func (r *recorder) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.events:
		if got != want {
			t.Fatalf("controller event = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-r.events:
		t.Fatalf("unexpected controller event %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

// startProvider runs p and serves its upgrade endpoint.
func startProvider(t *testing.T, p *WebSocket) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		//nolint:errcheck // Run returns nil on cancel
		p.Run(ctx)
	}()

	srv := httptest.NewServer(p)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-stopped
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/websocket"
}

func accessoryProvider(t *testing.T, ctrl *recorder) *WebSocket {
	t.Helper()

	hash, err := gatePasswordHash()
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	peers, err := auth.NewDirectory(
		auth.Peer{ID: thermometerAcc.ID, Name: thermometerAcc.Name, PasswordHash: hash},
		auth.Peer{ID: gateAcc.ID, Name: gateAcc.Name},
	)
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}

	opts := Options{
		Codec:       frame.Codec{Tier: frame.TierAccessory},
		Session:     testSessionConfig(),
		Peers:       peers,
		Accessories: []accessory.Accessory{thermometerAcc, gateAcc},
	}
	if ctrl != nil {
		opts.Controller = ctrl
	}
	return NewWebSocket(opts)
}

// thermometer answers reads for the accessory it is addressed as.
type thermometer struct {
	id uuid.UUID
}

func (th thermometer) ReadCharacteristic(_ context.Context, req frame.ReadCharacteristic) (accessory.Characteristic, error) {
	if req.AccessoryID != uuid.Nil && req.AccessoryID != th.id {
		return nil, accessory.ErrNotConnected
	}
	if req.CharacteristicName != accessory.NameCurrentTemperature {
		return nil, accessory.ErrCharacteristicNotSupported
	}
	return accessory.CurrentTemperature{Temperature: 20.5}, nil
}

func (thermometer) WriteCharacteristic(context.Context, frame.WriteCharacteristic) error {
	return nil
}

// connectPeer dials url and serves handler until the test ends or stop is called.
func connectPeer(t *testing.T, url string, codec frame.Codec, creds session.Credentials, handler session.RequestHandler) (*session.Peer, func()) {
	t.Helper()

	conn, err := session.Dial(context.Background(), nil, url, creds)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	p := session.NewPeer(conn, session.PeerOptions{Codec: codec, Config: testSessionConfig(), Handler: handler})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		//nolint:errcheck // the link ends when the test cancels it
		p.Run(ctx)
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-stopped
		})
	}
	t.Cleanup(stop)
	return p, stop
}

func TestWebSocket_AccessoryLifecycle(t *testing.T) {
	ctrl := newRecorder()
	p := accessoryProvider(t, ctrl)
	url := startProvider(t, p)
	ctx := context.Background()

	_, stop := connectPeer(t, url, frame.Codec{Tier: frame.TierAccessory},
		session.Credentials{ID: thermometerAcc.ID, Password: gatePassword}, thermometer{id: thermometerAcc.ID})
	ctrl.expect(t, "connected "+thermometerAcc.ID.String())

	if ok, err := p.IsConnected(ctx, thermometerAcc.ID); err != nil || !ok {
		t.Fatalf("IsConnected() = %v, %v, want true", ok, err)
	}

	got, err := p.ReadCharacteristic(ctx, thermometerAcc.ID, accessory.ServiceTemperatureSensor, accessory.NameCurrentTemperature)
	if err != nil {
		t.Fatalf("ReadCharacteristic() error = %v", err)
	}
	if got != (accessory.CurrentTemperature{Temperature: 20.5}) {
		t.Errorf("ReadCharacteristic() = %v", got)
	}

	err = p.WriteCharacteristic(ctx, thermometerAcc.ID, accessory.ServiceTemperatureSensor, accessory.CurrentTemperature{Temperature: 1})
	if !errors.Is(err, accessory.ErrCharacteristicReadOnly) {
		t.Errorf("write to read-only characteristic error = %v", err)
	}

	stop()
	ctrl.expect(t, "disconnected "+thermometerAcc.ID.String())

	if ok, _ := p.IsConnected(ctx, thermometerAcc.ID); ok {
		t.Error("IsConnected() = true after disconnect")
	}
	_, err = p.ReadCharacteristic(ctx, thermometerAcc.ID, accessory.ServiceTemperatureSensor, accessory.NameCurrentTemperature)
	if !errors.Is(err, accessory.ErrNotConnected) {
		t.Errorf("read after disconnect error = %v, want %v", err, accessory.ErrNotConnected)
	}

	acc, ok, err := p.AccessoryConfiguration(ctx, thermometerAcc.ID)
	if err != nil || !ok || acc != thermometerAcc {
		t.Errorf("AccessoryConfiguration() = %+v, %v, %v", acc, ok, err)
	}
}

func TestWebSocket_UpdatesReachController(t *testing.T) {
	ctrl := newRecorder()
	p := accessoryProvider(t, ctrl)
	url := startProvider(t, p)

	peer, _ := connectPeer(t, url, frame.Codec{Tier: frame.TierAccessory},
		session.Credentials{ID: gateAcc.ID, Password: "ignored"}, thermometer{id: gateAcc.ID})
	ctrl.expect(t, "connected "+gateAcc.ID.String())

	update := frame.UpdateCharacteristic{ServiceName: accessory.ServiceGarageDoorOpener, Characteristic: accessory.CurrentDoorState{OpenPercent: 40}}
	if err := peer.Send(context.Background(), update); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ctrl.expect(t, "updated "+gateAcc.ID.String()+" current-door-state")
}

func TestWebSocket_RefusesConnection(t *testing.T) {
	p := accessoryProvider(t, nil)
	url := startProvider(t, p)

	tests := []struct {
		name  string
		creds session.Credentials
		want  error
	}{
		{"unknown peer", session.Credentials{ID: uuid.New(), Password: gatePassword}, session.ErrPeerNotFound},
		{"wrong password", session.Credentials{ID: thermometerAcc.ID, Password: "wrong"}, session.ErrPeerNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := session.Dial(context.Background(), nil, url, tt.creds)
			if !errors.Is(err, tt.want) {
				t.Errorf("Dial() error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("missing authorization", func(t *testing.T) {
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/websocket", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body["error"] != "invalid-authorization-header" {
			t.Errorf("error = %q", body["error"])
		}
	})
}

func TestWebSocket_AlreadyConnectedLeavesSessionUntouched(t *testing.T) {
	ctrl := newRecorder()
	p := accessoryProvider(t, ctrl)
	url := startProvider(t, p)
	creds := session.Credentials{ID: thermometerAcc.ID, Password: gatePassword}

	connectPeer(t, url, frame.Codec{Tier: frame.TierAccessory}, creds, thermometer{id: thermometerAcc.ID})
	ctrl.expect(t, "connected "+thermometerAcc.ID.String())

	_, err := session.Dial(context.Background(), nil, url, creds)
	if !errors.Is(err, session.ErrAlreadyConnected) {
		t.Fatalf("second Dial() error = %v, want %v", err, session.ErrAlreadyConnected)
	}

	if _, err := p.ReadCharacteristic(context.Background(), thermometerAcc.ID, accessory.ServiceTemperatureSensor, accessory.NameCurrentTemperature); err != nil {
		t.Errorf("existing session read error = %v", err)
	}
	ctrl.expectNone(t)

	stats, err := p.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Sessions != 1 || stats.Accessories != 1 || stats.Name != NameHive {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestWebSocket_IsConnectedFollowsEvents(t *testing.T) {
	p := accessoryProvider(t, nil)
	startProvider(t, p)
	ctx := context.Background()

	ids := []uuid.UUID{thermometerAcc.ID, gateAcc.ID, uuid.New()}
	model := make(map[uuid.UUID]bool)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := range 300 {
		id := ids[rng.IntN(len(ids))]
		if rng.IntN(2) == 0 {
			if err := p.Connected(ctx, accessory.Accessory{ID: id, Name: "a", Type: thermometerAcc.Type}); err != nil {
				t.Fatalf("Connected() error = %v", err)
			}
			model[id] = true
		} else {
			if err := p.Disconnected(ctx, id); err != nil {
				t.Fatalf("Disconnected() error = %v", err)
			}
			model[id] = false
		}

		for _, check := range ids {
			got, err := p.IsConnected(ctx, check)
			if err != nil {
				t.Fatalf("IsConnected() error = %v", err)
			}
			if got != model[check] {
				t.Fatalf("step %d: IsConnected(%s) = %v, want %v", i, check, got, model[check])
			}
		}
	}
}

func TestWebSocket_DuplicateDisconnectIsNoop(t *testing.T) {
	ctrl := newRecorder()
	p := accessoryProvider(t, ctrl)
	startProvider(t, p)
	ctx := context.Background()

	if err := p.Connected(ctx, gateAcc); err != nil {
		t.Fatalf("Connected() error = %v", err)
	}
	ctrl.expect(t, "connected "+gateAcc.ID.String())

	for range 2 {
		if err := p.Disconnected(ctx, gateAcc.ID); err != nil {
			t.Fatalf("Disconnected() error = %v", err)
		}
	}
	ctrl.expect(t, "disconnected "+gateAcc.ID.String())
	ctrl.expectNone(t)

	if err := p.Disconnected(ctx, uuid.New()); err != nil {
		t.Fatalf("Disconnected() error = %v", err)
	}
	stats, err := p.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Accessories != 0 {
		t.Errorf("Stats().Accessories = %d, want 0", stats.Accessories)
	}
	ctrl.expectNone(t)
}

func TestWebSocket_HubTier(t *testing.T) {
	ctrl := newRecorder()
	peers, err := auth.NewDirectory(auth.Peer{ID: hubID, Name: "home"})
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	codec := frame.Codec{Tier: frame.TierHub}
	p := NewWebSocket(Options{Codec: codec, Session: testSessionConfig(), Peers: peers, Controller: ctrl})
	if p.Name() != NameLighthouse {
		t.Errorf("Name() = %q, want %q", p.Name(), NameLighthouse)
	}
	url := startProvider(t, p)
	ctx := context.Background()

	hub, stop := connectPeer(t, url, codec, session.Credentials{ID: hubID}, thermometer{id: thermometerAcc.ID})
	for _, acc := range []accessory.Accessory{thermometerAcc, gateAcc} {
		if err := hub.Send(ctx, frame.AccessoryConnected{Accessory: acc}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		ctrl.expect(t, "connected "+acc.ID.String())
	}

	got, err := p.ReadCharacteristic(ctx, thermometerAcc.ID, accessory.ServiceTemperatureSensor, accessory.NameCurrentTemperature)
	if err != nil || got != (accessory.CurrentTemperature{Temperature: 20.5}) {
		t.Errorf("ReadCharacteristic() = %v, %v", got, err)
	}
	// The hub answers for the thermometer only, so the gate read proves the id is on the wire.
	if _, err := p.ReadCharacteristic(ctx, gateAcc.ID, accessory.ServiceTemperatureSensor, accessory.NameCurrentTemperature); !errors.Is(err, accessory.ErrNotConnected) {
		t.Errorf("gate read error = %v, want %v", err, accessory.ErrNotConnected)
	}

	stranger := uuid.New()
	if err := hub.Send(ctx, frame.UpdateCharacteristic{AccessoryID: stranger, ServiceName: accessory.ServiceSwitch, Characteristic: accessory.OnOff{On: true}}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := hub.Send(ctx, frame.UpdateCharacteristic{AccessoryID: gateAcc.ID, ServiceName: accessory.ServiceGarageDoorOpener, Characteristic: accessory.CurrentDoorState{OpenPercent: 100}}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ctrl.expect(t, "updated "+gateAcc.ID.String()+" current-door-state")

	if err := hub.Send(ctx, frame.AccessoryDisconnected{AccessoryID: gateAcc.ID}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ctrl.expect(t, "disconnected "+gateAcc.ID.String())

	stop()
	ctrl.expect(t, "disconnected "+thermometerAcc.ID.String())

	acc, ok, err := p.AccessoryConfiguration(ctx, gateAcc.ID)
	if err != nil || !ok || acc.Name != gateAcc.Name {
		t.Errorf("AccessoryConfiguration() = %+v, %v, %v", acc, ok, err)
	}
}

func TestWebSocket_StuckControllerDoesNotStallRegistry(t *testing.T) {
	_, stuck := controller.NewInbox("stuck", 1)
	peers, err := auth.NewDirectory(auth.Peer{ID: hubID, Name: "home"})
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	codec := frame.Codec{Tier: frame.TierHub}
	p := NewWebSocket(Options{
		Codec:        codec,
		Session:      testSessionConfig(),
		Peers:        peers,
		Controller:   stuck,
		EventTimeout: 20 * time.Millisecond,
	})
	url := startProvider(t, p)
	ctx := context.Background()

	hub, _ := connectPeer(t, url, codec, session.Credentials{ID: hubID}, thermometer{id: thermometerAcc.ID})
	for _, acc := range []accessory.Accessory{thermometerAcc, gateAcc} {
		if err := hub.Send(ctx, frame.AccessoryConnected{Accessory: acc}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	for range 5 {
		update := frame.UpdateCharacteristic{AccessoryID: gateAcc.ID, ServiceName: accessory.ServiceGarageDoorOpener, Characteristic: accessory.CurrentDoorState{OpenPercent: 10}}
		if err := hub.Send(ctx, update); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		ok, err := p.IsConnected(callCtx, gateAcc.ID)
		cancel()
		if err != nil {
			t.Fatalf("IsConnected() error = %v", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("gate never reported connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, err := p.ReadCharacteristic(ctx, thermometerAcc.ID, accessory.ServiceTemperatureSensor, accessory.NameCurrentTemperature)
	if err != nil || got != (accessory.CurrentTemperature{Temperature: 20.5}) {
		t.Errorf("ReadCharacteristic() = %v, %v", got, err)
	}

	if stuck.Dropped() == 0 {
		t.Error("Dropped() = 0, want events lost to the full inbox")
	}
}

// silentHub answers thermometer reads and holds gate reads until release
// is closed.
type silentHub struct {
	thermometer
	held    chan struct{}
	release chan struct{}
}

func (h silentHub) ReadCharacteristic(ctx context.Context, req frame.ReadCharacteristic) (accessory.Characteristic, error) {
	if req.AccessoryID != gateAcc.ID {
		return h.thermometer.ReadCharacteristic(ctx, req)
	}
	h.held <- struct{}{}
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	return nil, accessory.ErrNotConnected
}

func TestWebSocket_HubDisconnectFailsInFlightCalls(t *testing.T) {
	peers, err := auth.NewDirectory(auth.Peer{ID: hubID, Name: "home"})
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	cfg := testSessionConfig()
	cfg.CallTimeout = 10 * time.Second
	codec := frame.Codec{Tier: frame.TierHub}
	ctrl := newRecorder()
	p := NewWebSocket(Options{Codec: codec, Session: cfg, Peers: peers, Controller: ctrl})
	url := startProvider(t, p)
	ctx := context.Background()

	handler := silentHub{thermometer: thermometer{id: thermometerAcc.ID}, held: make(chan struct{}, 1), release: make(chan struct{})}
	hub, _ := connectPeer(t, url, codec, session.Credentials{ID: hubID}, handler)
	for _, acc := range []accessory.Accessory{thermometerAcc, gateAcc} {
		if err := hub.Send(ctx, frame.AccessoryConnected{Accessory: acc}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		ctrl.expect(t, "connected "+acc.ID.String())
	}

	read := make(chan error, 1)
	go func() {
		_, err := p.ReadCharacteristic(ctx, gateAcc.ID, accessory.ServiceGarageDoorOpener, accessory.NameCurrentDoorState)
		read <- err
	}()
	select {
	case <-handler.held:
	case <-time.After(2 * time.Second):
		t.Fatal("gate read never reached the hub")
	}

	if err := hub.Send(ctx, frame.AccessoryDisconnected{AccessoryID: gateAcc.ID}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ctrl.expect(t, "disconnected "+gateAcc.ID.String())

	select {
	case err := <-read:
		if !errors.Is(err, accessory.ErrNotConnected) {
			t.Errorf("in-flight read error = %v, want %v", err, accessory.ErrNotConnected)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight read outlived the accessory disconnect")
	}

	// The hub's late answer must not end the session.
	close(handler.release)
	time.Sleep(100 * time.Millisecond)
	got, err := p.ReadCharacteristic(ctx, thermometerAcc.ID, accessory.ServiceTemperatureSensor, accessory.NameCurrentTemperature)
	if err != nil || got != (accessory.CurrentTemperature{Temperature: 20.5}) {
		t.Errorf("ReadCharacteristic() after gate disconnect = %v, %v", got, err)
	}
}
