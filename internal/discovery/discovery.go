package discovery

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// DNS-SD constants.
const (
	ServiceType = "_houseflow._tcp"
	Domain      = "local."

	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63

	DefaultPath = "/websocket"
)

// TXT record keys.
const (
	TXTKeyID      = "id"
	TXTKeyPath    = "path"
	TXTKeyTLS     = "tls"
	TXTKeyVersion = "ver"
)

// ErrInvalidPort is returned when advertising without a usable port.
var ErrInvalidPort = errors.New("discovery: port must be between 1 and 65535")

// Info describes the advertised endpoint.
type Info struct {
	HubID   string
	Port    int
	Path    string
	TLS     bool
	Version string
}

// EncodeTXT returns the TXT strings for info in key order.
func EncodeTXT(info Info) []string {
	path := info.Path
	if path == "" {
		path = DefaultPath
	}
	txt := map[string]string{
		TXTKeyPath: path,
	}
	if info.HubID != "" {
		txt[TXTKeyID] = info.HubID
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}

	out := make([]string, 0, len(txt))
	for k, v := range txt {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

// DecodeTXT parses TXT strings produced by EncodeTXT. Unknown keys are
// ignored. Port is not part of the TXT data and is left zero.
func DecodeTXT(records []string) Info {
	var info Info
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		switch k {
		case TXTKeyID:
			info.HubID = v
		case TXTKeyPath:
			info.Path = v
		case TXTKeyTLS:
			info.TLS = v == "1"
		case TXTKeyVersion:
			info.Version = v
		}
	}
	return info
}

// InstanceName truncates name to a valid DNS label.
func InstanceName(name string) string {
	if len(name) > MaxInstanceNameLen {
		return name[:MaxInstanceNameLen]
	}
	return name
}

// Advertiser publishes the hub's endpoint while it runs.
type Advertiser struct {
	cfg    config.DiscoveryConfig
	logger *logging.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser. Nothing is published until Advertise.
func NewAdvertiser(cfg config.DiscoveryConfig, logger *logging.Logger) *Advertiser {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Advertiser{cfg: cfg, logger: logger.Component("discovery")}
}

// Advertise registers the service, replacing any earlier registration.
func (a *Advertiser) Advertise(info Info) error {
	if info.Port <= 0 || info.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, info.Port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	var opts []zeroconf.ServerOption
	if a.cfg.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.cfg.TTL)))
	}

	instance := InstanceName(a.cfg.Instance)
	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		info.Port,
		EncodeTXT(info),
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("registering %s service: %w", ServiceType, err)
	}
	a.server = server

	a.logger.Info("advertising hub",
		"instance", instance,
		"service", ServiceType,
		"port", info.Port,
		"ttl", time.Duration(a.cfg.TTL)*time.Second,
	)
	return nil
}

// Stop withdraws the advertisement. It is safe to call more than once.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.logger.Info("stopped advertising hub")
	}
}

// interfaces returns the configured interface, or nil for all of them.
func (a *Advertiser) interfaces() []net.Interface {
	if a.cfg.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.cfg.Interface)
	if err != nil {
		a.logger.Warn("discovery interface not found, using all interfaces",
			"interface", a.cfg.Interface,
			"error", err,
		)
		return nil
	}
	return []net.Interface{*iface}
}
