// Package discovery implements the Discovery Adapter (spec.md §4.4): a
// lazy stream of ServiceResolved/ServiceRemoved events backed by
// github.com/libp2p/zeroconf/v2, the one domain concern the teacher has no
// analogue for (it is a BitTorrent client with a tracker/DHT, not an mDNS
// LAN app). The adapter drops entries whose instance name equals its own
// canonical PeerId text; session dedup is the supervisor's job.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/libp2p/zeroconf/v2"
)

// Event is implemented by ServiceResolved and ServiceRemoved.
type Event interface{ isDiscoveryEvent() }

// ServiceResolved reports a peer appearing at addrs:port under the given
// service instance name. name is the canonical PeerId text form
// (spec.md §4.4), enabling pre-connection identification.
type ServiceResolved struct {
	Name  string
	Addrs []net.IP
	Port  int
}

func (ServiceResolved) isDiscoveryEvent() {}

// ServiceRemoved reports a peer's advertisement disappearing (mDNS
// goodbye, TTL=0).
type ServiceRemoved struct {
	Name string
}

func (ServiceRemoved) isDiscoveryEvent() {}

type knownService struct {
	info           ServiceResolved
	connected      bool
	disconnectedAt time.Time
}

// Adapter owns the mDNS registration and browse loop for one local peer.
type Adapter struct {
	self        string // canonical PeerId text, used as the service instance name
	serviceType string
	logger      *slog.Logger

	events    chan Event
	switched  chan int
	removed   chan string
	connected chan string

	reconnectTick       time.Duration
	disconnectThreshold time.Duration
	reregisterInterval  time.Duration
}

// New constructs an Adapter. self is the canonical PeerId text form
// (spec.md §3) used as the mDNS instance name.
func New(self, serviceType string, reconnectTick, disconnectThreshold, reregisterInterval time.Duration, eventsCap int, logger *slog.Logger) *Adapter {
	return &Adapter{
		self:                self,
		serviceType:         serviceType,
		logger:              logger,
		events:              make(chan Event, eventsCap),
		switched:            make(chan int),
		removed:             make(chan string, 16),
		connected:           make(chan string, 16),
		reconnectTick:       reconnectTick,
		disconnectThreshold: disconnectThreshold,
		reregisterInterval:  reregisterInterval,
	}
}

// Events returns the adapter's event stream.
func (a *Adapter) Events() <-chan Event { return a.events }

// SwitchedNetwork notifies the adapter that the Listener bound a new local
// socket; the adapter re-registers its mDNS advertisement on port.
func (a *Adapter) SwitchedNetwork(ctx context.Context, port int) {
	select {
	case a.switched <- port:
	case <-ctx.Done():
	}
}

// RemoveService marks a resolved service as disconnected, starting its
// reconnect-tick eligibility clock.
func (a *Adapter) RemoveService(name string) {
	select {
	case a.removed <- name:
	default:
	}
}

// ConnectedService marks a resolved service as connected, making it
// ineligible for the reconnect tick until it disconnects again.
func (a *Adapter) ConnectedService(name string) {
	select {
	case a.connected <- name:
	default:
	}
}

// portProperty encodes the listen port as a TXT property rather than
// relying solely on the SRV port the browse side surfaces (SPEC_FULL.md
// §4, ported from the original Tauri implementation's
// server_handle.rs, which reads the port via
// service.get_properties().get("port")).
func portProperty(port int) string {
	return fmt.Sprintf("port=%d", port)
}

func portFromText(text []string, fallback int) int {
	for _, kv := range text {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k != "port" {
			continue
		}
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return fallback
}

// Run drives registration, browsing, and the periodic reconnect/
// re-registration ticks until ctx is canceled.
func (a *Adapter) Run(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("discovery: new resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := resolver.Browse(ctx, a.serviceType, "local.", entries); err != nil {
		return fmt.Errorf("discovery: browse: %w", err)
	}

	var server *zeroconf.Server
	var port int
	known := make(map[string]*knownService)

	reconnectTicker := time.NewTicker(a.reconnectTick)
	defer reconnectTicker.Stop()
	reregisterTicker := time.NewTicker(a.reregisterInterval)
	defer reregisterTicker.Stop()

	defer func() {
		if server != nil {
			server.Shutdown()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case p := <-a.switched:
			port = p
			if server != nil {
				server.Shutdown()
			}
			srv, err := zeroconf.Register(a.self, a.serviceType, "local.", port, []string{portProperty(port)}, nil)
			if err != nil {
				a.logger.Error("discovery: register failed", "error", err, "port", port)
				continue
			}
			server = srv
			a.logger.Info("discovery: registered", "port", port, "name", a.self)

		case name := <-a.removed:
			if s, ok := known[name]; ok {
				s.connected = false
				s.disconnectedAt = time.Now()
			}

		case name := <-a.connected:
			if s, ok := known[name]; ok {
				s.connected = true
			}

		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			a.handleEntry(entry, known)

		case <-reconnectTicker.C:
			a.reemitStale(known)

		case <-reregisterTicker.C:
			if server != nil && port != 0 {
				server.Shutdown()
				srv, err := zeroconf.Register(a.self, a.serviceType, "local.", port, []string{portProperty(port)}, nil)
				if err != nil {
					a.logger.Error("discovery: re-register failed", "error", err)
					continue
				}
				server = srv
			}
		}
	}
}

func (a *Adapter) handleEntry(entry *zeroconf.ServiceEntry, known map[string]*knownService) {
	if entry.Instance == a.self {
		return
	}

	if entry.TTL == 0 {
		delete(known, entry.Instance)
		a.emit(ServiceRemoved{Name: entry.Instance})
		return
	}

	addrs := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	addrs = append(addrs, entry.AddrIPv4...)
	addrs = append(addrs, entry.AddrIPv6...)

	info := ServiceResolved{
		Name:  entry.Instance,
		Addrs: addrs,
		Port:  portFromText(entry.Text, entry.Port),
	}

	known[entry.Instance] = &knownService{info: info, disconnectedAt: time.Now()}
	a.emit(info)
}

func (a *Adapter) reemitStale(known map[string]*knownService) {
	now := time.Now()
	for _, s := range known {
		if s.connected {
			continue
		}
		if now.Sub(s.disconnectedAt) < a.disconnectThreshold {
			continue
		}
		a.emit(s.info)
	}
}

func (a *Adapter) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.logger.Warn("discovery: event channel full, dropping event")
	}
}
