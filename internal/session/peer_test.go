package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/frame"
)

type thermometer struct{}

func (thermometer) ReadCharacteristic(_ context.Context, req frame.ReadCharacteristic) (accessory.Characteristic, error) {
	if req.ServiceName != accessory.ServiceTemperatureSensor {
		return nil, accessory.ErrServiceNotSupported
	}
	return accessory.CurrentTemperature{Temperature: 22.5}, nil
}

func (thermometer) WriteCharacteristic(context.Context, frame.WriteCharacteristic) error {
	return accessory.ErrCharacteristicReadOnly
}

func startPeer(t *testing.T, owner Owner) (Handle, *Peer) {
	t.Helper()

	h, client, _ := startSession(t, testConfig(), owner)
	p := NewPeer(client, PeerOptions{Codec: accessoryCodec, Config: testConfig(), Handler: thermometer{}})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		//nolint:errcheck // reason checked by individual tests where it matters
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h, p
}

func TestPeer_AnswersRequests(t *testing.T) {
	h, _ := startPeer(t, newRecordingOwner())
	ctx := context.Background()

	got, err := h.ReadCharacteristic(ctx, uuid.Nil, accessory.ServiceTemperatureSensor, accessory.NameCurrentTemperature)
	if err != nil {
		t.Fatalf("ReadCharacteristic() error = %v", err)
	}
	if got != (accessory.CurrentTemperature{Temperature: 22.5}) {
		t.Errorf("ReadCharacteristic() = %v", got)
	}

	_, err = h.ReadCharacteristic(ctx, uuid.Nil, accessory.ServiceBattery, accessory.NameBatteryLevel)
	if !errors.Is(err, accessory.ErrServiceNotSupported) {
		t.Errorf("unsupported read error = %v, want %v", err, accessory.ErrServiceNotSupported)
	}

	err = h.WriteCharacteristic(ctx, uuid.Nil, accessory.ServiceTemperatureSensor, accessory.OnOff{On: true})
	if !errors.Is(err, accessory.ErrCharacteristicReadOnly) {
		t.Errorf("WriteCharacteristic() error = %v, want %v", err, accessory.ErrCharacteristicReadOnly)
	}
}

func TestPeer_SendForwardsEventsToOwner(t *testing.T) {
	owner := newRecordingOwner()
	_, p := startPeer(t, owner)

	update := frame.UpdateCharacteristic{
		ServiceName:    accessory.ServiceTemperatureSensor,
		Characteristic: accessory.CurrentTemperature{Temperature: 18},
	}
	if err := p.Send(context.Background(), update); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case got := <-owner.events:
		if got != update {
			t.Errorf("owner event = %#v, want %#v", got, update)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("owner did not receive event")
	}
}

func TestPeer_SessionCloseStopsPeer(t *testing.T) {
	h, p := startPeer(t, newRecordingOwner())

	if err := h.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not stop")
	}
	if err := p.Send(context.Background(), frame.UpdateCharacteristic{ServiceName: accessory.ServiceSwitch, Characteristic: accessory.OnOff{}}); !errors.Is(err, ErrPeerClosed) {
		t.Errorf("Send() after close error = %v, want %v", err, ErrPeerClosed)
	}
}

func TestDial_DecodesRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds, err := ParseCredentials(r)
		if err != nil {
			var refusal *ConnectError
			if errors.As(err, &refusal) {
				refusal.Write(w)
			}
			return
		}
		NewConnectError(ConnectAlreadyConnected, "peer %s already has a session", creds.ID).Write(w)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, err := Dial(context.Background(), nil, url, Credentials{ID: testPeerID, Password: "secret"})
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("Dial() error = %v, want %v", err, ErrAlreadyConnected)
	}
	var refusal *ConnectError
	if !errors.As(err, &refusal) || !strings.Contains(refusal.Description, testPeerID.String()) {
		t.Errorf("refusal = %+v", refusal)
	}
}

func TestParseCredentials(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"valid", Credentials{ID: testPeerID, Password: "pw"}.Header().Get("Authorization"), nil},
		{"missing", "", ErrInvalidAuthorizationHeader},
		{"bearer", "Bearer abc", ErrInvalidAuthorizationHeader},
		{"bad uuid", "Basic " + "bm90LWEtdXVpZDpwdw==", ErrInvalidAuthorizationHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/websocket", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			creds, err := ParseCredentials(r)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseCredentials() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCredentials() error = %v", err)
			}
			if creds.ID != testPeerID || creds.Password != "pw" {
				t.Errorf("ParseCredentials() = %+v", creds)
			}
		})
	}
}

func TestConnectError_Status(t *testing.T) {
	tests := []struct {
		err  *ConnectError
		want int
	}{
		{ErrInvalidAuthorizationHeader, http.StatusBadRequest},
		{ErrPeerNotFound, http.StatusUnauthorized},
		{ErrAlreadyConnected, http.StatusNotAcceptable},
	}
	for _, tt := range tests {
		if got := tt.err.Status(); got != tt.want {
			t.Errorf("%s Status() = %d, want %d", tt.err.Kind, got, tt.want)
		}
	}
}

// gatedHandler holds every read until release is closed.
type gatedHandler struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func (g *gatedHandler) ReadCharacteristic(ctx context.Context, _ frame.ReadCharacteristic) (accessory.Characteristic, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-g.release:
		return accessory.CurrentTemperature{Temperature: 19}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedHandler) WriteCharacteristic(context.Context, frame.WriteCharacteristic) error {
	return nil
}

func TestPeer_LimitsConcurrentRequests(t *testing.T) {
	cfg := testConfig()
	cfg.PingTimeout = 2 * time.Second
	cfg.CallTimeout = 5 * time.Second

	const limit = 2
	handler := &gatedHandler{release: make(chan struct{})}
	h, client, _ := startSession(t, cfg, newRecordingOwner())
	p := NewPeer(client, PeerOptions{Codec: accessoryCodec, Config: cfg, Handler: handler, MaxInFlight: limit})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		//nolint:errcheck // the link ends with the test
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	const calls = 3 * limit
	results := make([]<-chan readOutcome, calls)
	for i := range results {
		results[i] = goRead(h, accessory.ServiceTemperatureSensor, accessory.NameCurrentTemperature)
	}

	deadline := time.Now().Add(2 * time.Second)
	for handler.active.Load() < limit {
		if time.Now().After(deadline) {
			t.Fatalf("handler reached %d concurrent calls, want %d", handler.active.Load(), limit)
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := handler.peak.Load(); got != limit {
		t.Errorf("peak concurrent calls = %d, want %d", got, limit)
	}

	close(handler.release)
	for _, ch := range results {
		got := awaitRead(t, ch)
		if got.err != nil {
			t.Errorf("ReadCharacteristic() error = %v", got.err)
		}
	}
	if got := handler.peak.Load(); got > limit {
		t.Errorf("peak concurrent calls = %d, want at most %d", got, limit)
	}
}
