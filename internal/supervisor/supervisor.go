// Package supervisor implements the Server Supervisor (spec.md §4.7): the
// single task owning the addr -> SessionHandle registry, routing session
// events, UI commands, and discovery events into one serial event loop.
//
// Grounded on the teacher's internal/peer/swarm.go (a mutex-guarded
// registry keyed by address, with a dedicated maintenance loop) and
// internal/torrent/torrent.go (an errgroup-orchestrated task owning several
// cooperating subsystems). The registry here is keyed by host IP rather
// than full socket address, per SPEC_FULL.md §4's "IP-scoped handle"
// supplement from the original Tauri implementation.
package supervisor

import (
	"context"
	"hash/crc64"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/ktu-dev/fileshare/internal/config"
	"github.com/ktu-dev/fileshare/internal/discovery"
	"github.com/ktu-dev/fileshare/internal/listener"
	"github.com/ktu-dev/fileshare/internal/peerid"
	"github.com/ktu-dev/fileshare/internal/session"
	"github.com/ktu-dev/fileshare/internal/store"
	"github.com/ktu-dev/fileshare/pkg/retry"
)

var crc64Table = crc64.MakeTable(crc64.ISO)

// handle is one entry of the registry (spec.md §4.7): a running Session
// plus what the supervisor knows about its remote end.
type handle struct {
	sess        *session.Session
	addr        netip.Addr
	serviceName string // mDNS instance name; empty for inbound-only handles
	peerID      *peerid.ID
	cancel      context.CancelFunc
}

// Opts configures a new Supervisor.
type Opts struct {
	Log       *slog.Logger
	Cfg       *config.Config
	Store     *store.Store
	Self      peerid.ID
	Discovery *discovery.Adapter
	Listener  *listener.Listener
	Commands  <-chan Command
	UIEvents  chan<- UIEvent
}

// Supervisor is the single task described in spec.md §4.7.
type Supervisor struct {
	log       *slog.Logger
	cfg       *config.Config
	store     *store.Store
	self      peerid.ID
	discovery *discovery.Adapter
	listener  *listener.Listener
	commands  <-chan Command
	uiEvents  chan<- UIEvent

	sessionEvents chan session.Event

	mu      sync.Mutex
	handles map[netip.Addr]*handle
}

// New constructs a Supervisor ready to Run.
func New(opts Opts) *Supervisor {
	return &Supervisor{
		log:           opts.Log.With("component", "supervisor"),
		cfg:           opts.Cfg,
		store:         opts.Store,
		self:          opts.Self,
		discovery:     opts.Discovery,
		listener:      opts.Listener,
		commands:      opts.Commands,
		uiEvents:      opts.UIEvents,
		sessionEvents: make(chan session.Event, opts.Cfg.SupervisorSessionChanCap),
		handles:       make(map[netip.Addr]*handle),
	}
}

// Run drives the supervisor's event loop until ctx is canceled (spec.md
// §5: "the Supervisor processes events strictly serially").
func (s *Supervisor) Run(ctx context.Context) error {
	discoveryEvents := s.discovery.Events()
	accepted := s.listener.Accepted()

	nudgeTicker := time.NewTicker(s.cfg.PeerIDNudgeInterval)
	defer nudgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-discoveryEvents:
			s.handleDiscoveryEvent(ctx, ev)

		case acc := <-accepted:
			s.handleAccepted(ctx, acc)

		case cmd, ok := <-s.commands:
			if !ok {
				return nil
			}
			s.handleCommand(ctx, cmd)

		case ev := <-s.sessionEvents:
			s.handleSessionEvent(ctx, ev)

		case <-nudgeTicker.C:
			s.nudgeUnknownPeers(ctx)
		}
	}
}

// handleDiscoveryEvent implements ServiceFound/ServiceRemoved of spec.md
// §4.7.1 (named ServiceResolved/ServiceRemoved here, per internal/discovery).
func (s *Supervisor) handleDiscoveryEvent(ctx context.Context, ev discovery.Event) {
	switch e := ev.(type) {
	case discovery.ServiceResolved:
		s.onServiceFound(ctx, e)
	case discovery.ServiceRemoved:
		// Handle removal is driven by the session's own KillClient report,
		// not directly by the mDNS goodbye.
	}
}

func (s *Supervisor) onServiceFound(ctx context.Context, info discovery.ServiceResolved) {
	if len(info.Addrs) == 0 {
		return
	}
	ip, ok := netip.AddrFromSlice(info.Addrs[0])
	if !ok {
		return
	}
	ip = ip.Unmap()

	s.mu.Lock()
	h, exists := s.handles[ip]
	s.mu.Unlock()

	if exists {
		s.discovery.ConnectedService(h.serviceName)
		return
	}

	dialAddr := net.JoinHostPort(ip.String(), strconv.Itoa(info.Port))
	var conn net.Conn
	err := retry.Do(ctx, func(ctx context.Context) error {
		c, dialErr := net.DialTimeout("tcp", dialAddr, s.cfg.DialTimeout)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	}, retry.WithExponentialBackoff(3, 200*time.Millisecond, s.cfg.DialTimeout)...)
	if err != nil {
		s.log.Warn("supervisor: dial failed", "addr", dialAddr, "error", err)
		return
	}

	newHandle := s.spawnSession(ctx, conn, ip, info.Name)
	s.discovery.ConnectedService(info.Name)
	_ = newHandle.sess.Command(ctx, session.InitiateHandshake{})
}

// handleAccepted implements ConnectionAccepted of spec.md §4.7.1.
func (s *Supervisor) handleAccepted(ctx context.Context, acc listener.Accepted) {
	tcpAddr, ok := acc.Conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		acc.Conn.Close()
		return
	}
	ip, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		acc.Conn.Close()
		return
	}
	ip = ip.Unmap()

	s.mu.Lock()
	_, exists := s.handles[ip]
	s.mu.Unlock()
	if exists {
		acc.Conn.Close()
		return
	}

	s.spawnSession(ctx, acc.Conn, ip, "")
}

func (s *Supervisor) spawnSession(ctx context.Context, conn net.Conn, ip netip.Addr, serviceName string) *handle {
	sessCtx, cancel := context.WithCancel(ctx)

	addrPort := netip.AddrPortFrom(ip, 0)
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		if a, ok2 := netip.AddrFromSlice(tcpAddr.IP); ok2 {
			addrPort = netip.AddrPortFrom(a.Unmap(), uint16(tcpAddr.Port))
		}
	}

	sess := session.New(session.Opts{
		Log:    s.log,
		Conn:   conn,
		Addr:   addrPort,
		Cfg:    s.cfg,
		Store:  s.store,
		Self:   s.self,
		Events: s.sessionEvents,
	})

	h := &handle{sess: sess, addr: ip, serviceName: serviceName, cancel: cancel}
	s.mu.Lock()
	s.handles[ip] = h
	s.mu.Unlock()

	go func() {
		if err := sess.Run(sessCtx); err != nil {
			s.log.Debug("supervisor: session ended", "addr", ip, "error", err)
		}
	}()

	return h
}

func (s *Supervisor) handleSessionEvent(ctx context.Context, ev session.Event) {
	switch e := ev.(type) {
	case session.SetPeerId:
		s.onSetPeerID(ctx, e)

	case session.KillClient:
		s.onKillClient(ctx, e)

	case session.UpdatedDirectory:
		s.emitUI(ctx, UpdateDirectory{DirID: e.DirID})

	case session.ReceivedDirectories:
		s.emitUI(ctx, UpdateShareDirectories{Directories: e.Directories})

	case session.SharedDirectoryReceived:
		if err := s.store.SharedDirectory(e.Directory); err != nil {
			// Already known (e.g. learned independently via Synchronize);
			// not an error worth surfacing to the UI.
			return
		}
		s.emitUI(ctx, UpdateShareDirectories{Directories: s.store.GetDirectories()})

	case session.DownloadUpdate:
		s.emitUI(ctx, DownloadUpdate{DownloadID: e.DownloadID, Percent: e.Percent})

	case session.DownloadCanceled:
		s.emitUI(ctx, DownloadCanceled{DownloadID: e.DownloadID, Reason: e.Reason})

	case session.FinishedDownload:
		s.onFinishedDownload(ctx, e)
	}
}

func (s *Supervisor) onSetPeerID(ctx context.Context, e session.SetPeerId) {
	s.mu.Lock()
	h, ok := s.handles[e.Addr]
	if ok {
		id := e.PeerID
		h.peerID = &id
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.emitUI(ctx, GetPeersEvent{Peers: s.peerList()})
	_ = h.sess.Command(ctx, session.SendSynchronize{})
}

func (s *Supervisor) onKillClient(ctx context.Context, e session.KillClient) {
	s.mu.Lock()
	h, ok := s.handles[e.Addr]
	if ok {
		delete(s.handles, e.Addr)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	h.cancel()

	if h.serviceName != "" {
		s.discovery.RemoveService(h.serviceName)
	}
	s.emitUI(ctx, GetPeersEvent{Peers: s.peerList()})
}

// onFinishedDownload implements spec.md §4.7.3: broadcast ownership to the
// directory's members, then tell the UI the transfer is complete.
func (s *Supervisor) onFinishedDownload(ctx context.Context, e session.FinishedDownload) {
	dir, ok := s.store.GetDirectory(e.DirID)
	if !ok {
		return
	}

	now := time.Now()
	for _, h := range s.handlesForPeers(dir.Signature.SharedPeers) {
		_ = h.sess.Command(ctx, session.SendDownloadedFile{
			PeerID: s.self, DirID: e.DirID, FileID: e.FileID, DateModified: now.UnixNano(),
		})
	}

	s.emitUI(ctx, UpdateDirectory{DirID: e.DirID})
	s.emitUI(ctx, DownloadUpdate{DownloadID: e.DownloadID, Percent: 100})
}

func (s *Supervisor) nudgeUnknownPeers(ctx context.Context) {
	s.mu.Lock()
	var pending []*handle
	for _, h := range s.handles {
		if h.peerID == nil {
			pending = append(pending, h)
		}
	}
	s.mu.Unlock()

	for _, h := range pending {
		_ = h.sess.Command(ctx, session.InitiateHandshake{})
	}
}

// handlesForPeers returns the live handles whose known PeerId is among ids.
func (s *Supervisor) handlesForPeers(ids []peerid.ID) []*handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*handle
	for _, h := range s.handles {
		if h.peerID == nil {
			continue
		}
		if lo.ContainsBy(ids, func(p peerid.ID) bool { return p.Equal(*h.peerID) }) {
			out = append(out, h)
		}
	}
	return out
}

func (s *Supervisor) handleForPeer(id peerid.ID) (*handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.handles {
		if h.peerID != nil && h.peerID.Equal(id) {
			return h, true
		}
	}
	return nil, false
}

func (s *Supervisor) peerList() []PeerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PeerInfo, 0, len(s.handles))
	for _, h := range s.handles {
		if h.peerID == nil {
			continue
		}
		out = append(out, PeerInfo{PeerID: *h.peerID, Addr: h.addr.String()})
	}
	return out
}

func (s *Supervisor) emitUI(ctx context.Context, ev UIEvent) {
	select {
	case s.uiEvents <- ev:
	case <-ctx.Done():
	}
}

func (s *Supervisor) reportError(ctx context.Context, title string, err error) {
	s.log.Warn("supervisor: "+title, "error", err)
	s.emitUI(ctx, Error{Title: title, Error: err.Error()})
}

// hashFile computes a CRC64/ISO content hash and size for a local path
// (spec.md §4.7.2 "compute SharedFile (CRC64, size, uuid)"); grounded on
// other_examples' zstore file_service.go use of
// crc64.MakeTable(crc64.ISO)+crc64.Checksum for shard integrity.
func hashFile(path string) (uint64, uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	return crc64.Checksum(data, crc64Table), uint64(len(data)), nil
}
