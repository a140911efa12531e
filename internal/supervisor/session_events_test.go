package supervisor

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ktu-dev/fileshare/internal/config"
	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
	"github.com/ktu-dev/fileshare/internal/session"
	"github.com/ktu-dev/fileshare/internal/store"
)

// stubHandle builds a handle around a real, un-run Session so
// session.Command can enqueue without a live peer on the other end of the
// connection (its commands channel is simply never drained in these
// tests).
func stubHandle(t *testing.T, st *store.Store, self peerid.ID) (*handle, netip.Addr) {
	t.Helper()
	conn, other := net.Pipe()
	t.Cleanup(func() { conn.Close(); other.Close() })

	sess := session.New(session.Opts{
		Log:   testLogger(),
		Conn:  conn,
		Cfg:   &config.Config{SupervisorSessionChanCap: 16, MaxFrameSize: 1 << 20, ChunkSize: 8},
		Store: st,
		Self:  self,
	})

	ip := netip.MustParseAddr("10.0.0.5")
	return &handle{sess: sess, addr: ip, cancel: func() {}}, ip
}

func TestOnSetPeerIDEmitsPeerList(t *testing.T) {
	s, events := newTestSupervisor(t)
	ctx := context.Background()

	h, ip := stubHandle(t, s.store, s.self)
	s.mu.Lock()
	s.handles[ip] = h
	s.mu.Unlock()

	other := peerid.ID{Hostname: "other", UUID: uuid.New()}
	s.onSetPeerID(ctx, session.SetPeerId{Addr: ip, PeerID: other})

	ev := waitUI[GetPeersEvent](t, events, time.Second)
	if len(ev.Peers) != 1 || !ev.Peers[0].PeerID.Equal(other) {
		t.Fatalf("unexpected peer list: %+v", ev.Peers)
	}
	// SendSynchronize was enqueued on h.sess's buffered command channel
	// without blocking; the full round trip through a live Session is
	// covered by internal/session's own handshake test.
}

func TestOnKillClientRemovesHandleAndEmitsPeerList(t *testing.T) {
	s, events := newTestSupervisor(t)
	ctx := context.Background()

	h, ip := stubHandle(t, s.store, s.self)
	id := peerid.ID{Hostname: "other", UUID: uuid.New()}
	h.peerID = &id
	s.mu.Lock()
	s.handles[ip] = h
	s.mu.Unlock()

	s.onKillClient(ctx, session.KillClient{Addr: ip})

	waitUI[GetPeersEvent](t, events, time.Second)

	s.mu.Lock()
	_, exists := s.handles[ip]
	s.mu.Unlock()
	if exists {
		t.Fatal("expected handle removed")
	}
}

func TestOnFinishedDownloadBroadcastsAndUpdatesUI(t *testing.T) {
	s, events := newTestSupervisor(t)
	ctx := context.Background()

	owner := peerid.ID{Hostname: "other", UUID: uuid.New()}
	h, ip := stubHandle(t, s.store, s.self)
	h.peerID = &owner
	s.mu.Lock()
	s.handles[ip] = h
	s.mu.Unlock()

	d := directory.New("docs", s.self, time.Now())
	d.AddPeers([]peerid.ID{owner}, time.Now())
	s.store.AddDirectory(d)

	fileID := uuid.New()
	downloadID := uuid.New()
	s.onFinishedDownload(ctx, session.FinishedDownload{
		DownloadID: downloadID, DirID: d.Signature.ID, FileID: fileID,
	})

	waitUI[UpdateDirectory](t, events, time.Second)
	update := waitUI[DownloadUpdate](t, events, time.Second)
	if update.DownloadID != downloadID || update.Percent != 100 {
		t.Fatalf("unexpected download update: %+v", update)
	}
}
