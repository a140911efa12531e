// Package session implements the Session Actor (spec.md §4.6): one task
// per connected peer, driving the handshake, mutation propagation, and
// file-transfer subprotocol over a single framed TCP connection.
//
// Grounded on the teacher's internal/peer/peer.go: a small set of
// cooperating loops wired together with golang.org/x/sync/errgroup, state
// guarded by a mutex, and a channel-based outbox that serializes writes.
package session

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ktu-dev/fileshare/internal/codec"
	"github.com/ktu-dev/fileshare/internal/config"
	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
	"github.com/ktu-dev/fileshare/internal/store"
)

// Opts configures a new Session.
type Opts struct {
	Log    *slog.Logger
	Conn   net.Conn
	Addr   netip.AddrPort
	Cfg    *config.Config
	Store  *store.Store
	Self   peerid.ID
	Events chan<- Event

	// RemotePeerID is non-nil when the remote identity is already known
	// from discovery (the service's canonical name).
	RemotePeerID *peerid.ID
}

// Session is one task per connected peer: framed reader, framed writer,
// and the download/upload tables for in-flight transfers. Its three
// cooperating loops are read (which also dispatches each inbound frame),
// write, and the main loop that arbitrates supervisor commands against
// upload pump steps. The loops run concurrently; shared state is guarded
// by mu.
type Session struct {
	log   *slog.Logger
	conn  net.Conn
	addr  netip.AddrPort
	cfg   *config.Config
	store *store.Store
	self  peerid.ID
	events chan<- Event

	commands chan Command
	outbox   chan codec.Message

	mu           sync.Mutex
	remotePeerID *peerid.ID
	downloads    map[uuid.UUID]*downloadHandle
	uploads      map[uuid.UUID]*uploadHandle
	lastUpload   uuid.UUID

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New constructs a Session ready to Run.
func New(opts Opts) *Session {
	return &Session{
		log:          opts.Log.With("component", "session", "addr", opts.Addr),
		conn:         opts.Conn,
		addr:         opts.Addr,
		cfg:          opts.Cfg,
		store:        opts.Store,
		self:         opts.Self,
		events:       opts.Events,
		commands:     make(chan Command, opts.Cfg.SupervisorSessionChanCap),
		outbox:       make(chan codec.Message, opts.Cfg.SupervisorSessionChanCap),
		remotePeerID: opts.RemotePeerID,
		downloads:    make(map[uuid.UUID]*downloadHandle),
		uploads:      make(map[uuid.UUID]*uploadHandle),
	}
}

// Command enqueues a supervisor instruction, blocking until accepted or ctx
// is done. A slow session back-pressures its own command queue without
// blocking other peers (spec.md §9).
func (s *Session) Command(ctx context.Context, cmd Command) error {
	select {
	case s.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemotePeerID returns the remote identity, if known yet.
func (s *Session) RemotePeerID() (peerid.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remotePeerID == nil {
		return peerid.ID{}, false
	}
	return *s.remotePeerID, true
}

// Run drives the session until a fatal error, peer close, or ctx
// cancellation. It always reports KillClient before returning
// (spec.md §4.6.4).
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer s.cleanup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readPump(gctx) })
	g.Go(func() error { return s.writePump(gctx) })
	g.Go(func() error { return s.mainLoop(gctx) })

	return g.Wait()
}

// Close aborts the session's loops by canceling the context Run derived.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) cleanup() {
	s.closeOnce.Do(func() {
		s.conn.Close()

		s.mu.Lock()
		for _, h := range s.downloads {
			h.abort()
		}
		for _, h := range s.uploads {
			h.abort()
		}
		s.downloads = make(map[uuid.UUID]*downloadHandle)
		s.uploads = make(map[uuid.UUID]*uploadHandle)
		s.mu.Unlock()

		s.emit(context.Background(), KillClient{Addr: s.addr.Addr()})
		s.log.Debug("session closed")
	})
}

type inboundFrame struct {
	msg codec.Message
	err error
}

// readPump decodes frames off the wire and dispatches each one through
// dispatchInbound on its own goroutine, concurrently with mainLoop.
func (s *Session) readPump(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	inbound := make(chan inboundFrame)
	go func() {
		for {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			payload, err := codec.ReadFrameLimited(s.conn, s.cfg.MaxFrameSize)
			s.conn.SetReadDeadline(time.Time{})
			if err != nil {
				select {
				case inbound <- inboundFrame{err: err}:
				case <-ctx.Done():
				}
				return
			}
			msg, err := codec.Decode(payload)
			if err != nil {
				select {
				case inbound <- inboundFrame{err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case inbound <- inboundFrame{msg: msg}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-inbound:
			if f.err != nil {
				s.log.Warn("session: fatal read error", "error", f.err)
				return f.err
			}
			if err := s.dispatchInbound(ctx, f.msg); err != nil {
				s.log.Warn("session: fatal protocol error", "error", err)
				return err
			}
		}
	}
}

// writePump is the single writer of the socket, draining outbox in order
// (spec.md §5: "within a single Session's outbound stream, messages are
// delivered in send order").
func (s *Session) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-s.outbox:
			if !ok {
				return nil
			}
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := codec.WriteMessage(s.conn, msg); err != nil {
				s.log.Warn("session: write failed", "error", err)
				return err
			}
		}
	}
}

// mainLoop arbitrates supervisor commands against the upload pump. It runs
// concurrently with readPump's dispatchInbound, so the state they share
// (downloads, uploads, remotePeerID) is guarded by s.mu in every accessor,
// not owned by a single goroutine.
func (s *Session) mainLoop(ctx context.Context) error {
	for {
		if s.isUploading() {
			select {
			case <-ctx.Done():
				return nil
			case cmd, ok := <-s.commands:
				if !ok {
					return nil
				}
				if err := s.handleCommand(ctx, cmd); err != nil {
					return err
				}
			default:
				s.uploadStep(ctx)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-s.commands:
			if !ok {
				return nil
			}
			if err := s.handleCommand(ctx, cmd); err != nil {
				return err
			}
		case <-time.After(50 * time.Millisecond):
			// Uploads are registered from readPump's goroutine; wake up
			// periodically so a newly started upload gets pumped.
		}
	}
}

func (s *Session) dispatchInbound(ctx context.Context, msg codec.Message) error {
	switch m := msg.(type) {
	case codec.RequestPeerId:
		return s.send(ctx, codec.ReceivePeerId{PeerID: s.self})

	case codec.ReceivePeerId:
		s.mu.Lock()
		s.remotePeerID = &m.PeerID
		s.mu.Unlock()
		s.emit(ctx, SetPeerId{Addr: s.addr.Addr(), PeerID: m.PeerID})
		return s.send(ctx, codec.Synchronize{})

	case codec.Synchronize:
		remote, ok := s.RemotePeerID()
		if !ok {
			return nil
		}
		var dirs []directory.ShareDirectory
		for _, d := range s.store.GetDirectories() {
			if d.Signature.HasPeer(remote) {
				dirs = append(dirs, d.WireClone())
			}
		}
		return s.send(ctx, codec.ReceiveDirectories{Directories: dirs})

	case codec.ReceiveDirectories:
		remote, ok := s.RemotePeerID()
		if !ok {
			return nil
		}
		merged := s.store.Synchronize(m.Directories, remote)
		s.emit(ctx, ReceivedDirectories{Directories: merged})
		return nil

	case codec.SharedDirectory:
		s.emit(ctx, SharedDirectoryReceived{Directory: m.Directory})
		return nil

	case codec.AddedFiles:
		if s.store.MutateDir(m.Signature.ID, func(d *directory.ShareDirectory) {
			_ = d.AddFiles(m.Files, m.Signature.LastModified)
		}) {
			s.emit(ctx, UpdatedDirectory{DirID: m.Signature.ID})
		}
		return nil

	case codec.DeleteFile:
		if s.store.MutateDir(m.Signature.ID, func(d *directory.ShareDirectory) {
			d.RemoveFiles(m.PeerID, m.Signature.LastModified, []uuid.UUID{m.FileID})
		}) {
			s.emit(ctx, UpdatedDirectory{DirID: m.Signature.ID})
		}
		return nil

	case codec.LeftDirectory:
		remote, ok := s.RemotePeerID()
		if !ok {
			return nil
		}
		if s.store.MutateDir(m.DirID, func(d *directory.ShareDirectory) {
			d.RemovePeer(remote, m.DateModified)
		}) {
			s.emit(ctx, UpdatedDirectory{DirID: m.DirID})
		}
		return nil

	case codec.DownloadedFile:
		if s.store.MutateDir(m.DirID, func(d *directory.ShareDirectory) {
			d.AddOwner(m.PeerID, m.DateModified, []uuid.UUID{m.FileID}, nil)
		}) {
			s.emit(ctx, UpdatedDirectory{DirID: m.DirID})
		}
		return nil

	case codec.StartDownload:
		s.startUpload(ctx, m)
		return nil

	case codec.CancelDownload:
		s.cancelUpload(m.DownloadID)
		return nil

	case codec.ReceiveFilePart:
		s.handleFilePart(ctx, m)
		return nil

	case codec.ReceiveFileEnd:
		s.handleFileEnd(ctx, m.DownloadID)
		return nil

	case codec.DownloadError:
		s.handleDownloadError(ctx, m)
		return nil

	default:
		return nil
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case InitiateHandshake:
		return s.send(ctx, codec.RequestPeerId{})

	case SendSynchronize:
		return s.send(ctx, codec.Synchronize{})

	case SendSharedDirectory:
		return s.send(ctx, codec.SharedDirectory{Directory: c.Directory.WireClone()})

	case SendAddedFiles:
		wire := make([]directory.SharedFile, len(c.Files))
		for i, f := range c.Files {
			wire[i] = f.WireClone()
		}
		return s.send(ctx, codec.AddedFiles{Signature: c.Signature, Files: wire})

	case SendDeleteFile:
		return s.send(ctx, codec.DeleteFile{PeerID: c.PeerID, Signature: c.Signature, FileID: c.FileID})

	case SendLeftDirectory:
		return s.send(ctx, codec.LeftDirectory{DirID: c.DirID, DateModified: time.Unix(0, c.DateModified)})

	case SendDownloadedFile:
		return s.send(ctx, codec.DownloadedFile{
			PeerID: c.PeerID, DirID: c.DirID, FileID: c.FileID,
			DateModified: time.Unix(0, c.DateModified),
		})

	case StartDownloadCmd:
		return s.beginDownload(ctx, c)

	case CancelDownloadCmd:
		s.cancelDownload(ctx, c.DownloadID)
		return nil

	default:
		return nil
	}
}

func (s *Session) send(ctx context.Context, msg codec.Message) error {
	select {
	case s.outbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
