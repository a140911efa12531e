package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ktu-dev/fileshare/internal/config"
	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
	"github.com/ktu-dev/fileshare/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSupervisor(t *testing.T) (*Supervisor, chan UIEvent) {
	t.Helper()
	uiEvents := make(chan UIEvent, 32)
	s := New(Opts{
		Log: testLogger(),
		Cfg: &config.Config{
			DialTimeout:              time.Second,
			SupervisorSessionChanCap: 16,
			PeerIDNudgeInterval:      time.Second,
			DownloadDirectory:        t.TempDir(),
		},
		Store:    store.New(),
		Self:     peerid.ID{Hostname: "me", UUID: uuid.New()},
		UIEvents: uiEvents,
	})
	return s, uiEvents
}

func waitUI[T UIEvent](t *testing.T, ch chan UIEvent, timeout time.Duration) T {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for UI event of type %T", zero)
			return zero
		}
	}
}

func TestCreateShareDirectoryEmitsNewShareDirectory(t *testing.T) {
	s, events := newTestSupervisor(t)
	ctx := context.Background()

	s.handleCommand(ctx, CreateShareDirectory{Name: "docs"})

	ev := waitUI[NewShareDirectory](t, events, time.Second)
	if ev.Directory.Signature.Name != "docs" {
		t.Fatalf("unexpected directory name: %q", ev.Directory.Signature.Name)
	}

	dirs := s.store.GetDirectories()
	if len(dirs) != 1 {
		t.Fatalf("expected 1 directory in store, got %d", len(dirs))
	}
}

func TestAddFilesHashesAndUpdatesStore(t *testing.T) {
	s, events := newTestSupervisor(t)
	ctx := context.Background()

	s.handleCommand(ctx, CreateShareDirectory{Name: "docs"})
	created := waitUI[NewShareDirectory](t, events, time.Second)
	dirID := created.Directory.Signature.ID

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	wantHash, wantSize, err := hashFile(path)
	if err != nil {
		t.Fatal(err)
	}

	s.handleCommand(ctx, AddFiles{DirID: dirID, Paths: []string{path}})
	waitUI[UpdateDirectory](t, events, time.Second)

	got, ok := s.store.GetDirectory(dirID)
	if !ok {
		t.Fatal("expected directory present")
	}
	if len(got.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(got.Files))
	}
	for _, f := range got.Files {
		if f.ContentHash != wantHash || f.Size != wantSize {
			t.Fatalf("hash/size mismatch: got (%d,%d) want (%d,%d)", f.ContentHash, f.Size, wantHash, wantSize)
		}
		if f.ContentLocation.Kind != directory.LocalPath || f.ContentLocation.Path != path {
			t.Fatalf("expected local path tracked, got %+v", f.ContentLocation)
		}
	}
}

func TestDeleteFileRemovesLocalCopyAndOwnership(t *testing.T) {
	s, events := newTestSupervisor(t)
	ctx := context.Background()

	s.handleCommand(ctx, CreateShareDirectory{Name: "docs"})
	created := waitUI[NewShareDirectory](t, events, time.Second)
	dirID := created.Directory.Signature.ID

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.handleCommand(ctx, AddFiles{DirID: dirID, Paths: []string{path}})
	waitUI[UpdateDirectory](t, events, time.Second)

	got, _ := s.store.GetDirectory(dirID)
	var fileID uuid.UUID
	for id := range got.Files {
		fileID = id
	}

	s.handleCommand(ctx, DeleteFile{DirID: dirID, FileID: fileID})
	waitUI[UpdateDirectory](t, events, time.Second)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected local file removed, stat err: %v", err)
	}

	final, _ := s.store.GetDirectory(dirID)
	if _, ok := final.Files[fileID]; ok {
		t.Fatal("expected file entry removed once self was the sole owner")
	}
}

func TestDownloadFileNoConnectedOwnerReportsError(t *testing.T) {
	s, events := newTestSupervisor(t)
	ctx := context.Background()

	other := peerid.ID{Hostname: "other", UUID: uuid.New()}
	d := directory.New("docs", s.self, time.Now())
	fileID := uuid.New()
	if err := d.AddFiles([]directory.SharedFile{{
		Name: "x.txt", ID: fileID, ContentHash: 1, OwnedPeers: []peerid.ID{other},
	}}, time.Now()); err != nil {
		t.Fatal(err)
	}
	s.store.AddDirectory(d)

	s.handleCommand(ctx, DownloadFile{DirID: d.Signature.ID, FileID: fileID})

	ev := waitUI[Error](t, events, time.Second)
	if ev.Title != "DownloadFile" {
		t.Fatalf("unexpected error title: %q", ev.Title)
	}
}

func TestCancelDownloadUnknownPeerEmitsDisconnected(t *testing.T) {
	s, events := newTestSupervisor(t)
	ctx := context.Background()

	downloadID := uuid.New()
	s.handleCommand(ctx, CancelDownload{PeerID: peerid.ID{Hostname: "ghost", UUID: uuid.New()}, DownloadID: downloadID})

	ev := waitUI[DownloadCanceled](t, events, time.Second)
	if ev.DownloadID != downloadID || ev.Reason != "disconnected" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestLeaveDirectoryRemovesFromStore(t *testing.T) {
	s, events := newTestSupervisor(t)
	ctx := context.Background()

	s.handleCommand(ctx, CreateShareDirectory{Name: "docs"})
	created := waitUI[NewShareDirectory](t, events, time.Second)
	dirID := created.Directory.Signature.ID

	s.handleCommand(ctx, LeaveDirectory{DirID: dirID})
	waitUI[UpdateShareDirectories](t, events, time.Second)

	if _, ok := s.store.GetDirectory(dirID); ok {
		t.Fatal("expected directory removed from store")
	}
}
