package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
)

const (
	connectTimeout          = 10 * time.Second
	operationTimeout        = 5 * time.Second
	disconnectQuiesceMillis = 1000
	keepAlive               = 60 * time.Second
	maxQoS                  = 2
	tlsMinVersion           = tls.VersionTLS12
)

// Daemon status values published on Topics.Status.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown = "shutdown"
	reasonLost     = "connection-lost"
)

// Status is the retained payload describing whether a daemon is up.
type Status struct {
	State    string    `json:"state"`
	ClientID string    `json:"client-id"`
	Reason   string    `json:"reason,omitempty"`
	Since    time.Time `json:"since"`
}

func statusPayload(clientID, state, reason string) []byte {
	//nolint:errchkjson // Status has no unmarshalable fields
	data, _ := json.Marshal(Status{
		State:    state,
		ClientID: clientID,
		Reason:   reason,
		Since:    time.Now().UTC().Truncate(time.Second),
	})
	return data
}

// clientOptions maps the broker section of the configuration onto paho:
// tcp:// or ssl:// URL, credentials, clean session and paho's own
// reconnect loop bounded by the configured delays.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// setWill registers the retained offline status the broker publishes if
// the daemon vanishes without closing.
func setWill(opts *pahomqtt.ClientOptions, topic, clientID string) {
	opts.SetBinaryWill(topic, statusPayload(clientID, statusOffline, reasonLost), 1, true)
}
