package session

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
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

func testConfig() *config.Config {
	return &config.Config{
		MaxFrameSize:             100 * 1024 * 1024,
		ChunkSize:                8,
		ReadTimeout:              30 * time.Second,
		WriteTimeout:             2 * time.Second,
		SupervisorSessionChanCap: 16,
	}
}

func testPeer(host string) peerid.ID {
	return peerid.ID{Hostname: host, UUID: uuid.New()}
}

type harness struct {
	a, b       *Session
	eventsA    chan Event
	eventsB    chan Event
	selfA      peerid.ID
	selfB      peerid.ID
	storeA     *store.Store
	storeB     *store.Store
	cancel     context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	connA, connB := net.Pipe()
	selfA, selfB := testPeer("alice"), testPeer("bob")
	eventsA := make(chan Event, 32)
	eventsB := make(chan Event, 32)
	storeA, storeB := store.New(), store.New()

	a := New(Opts{
		Log: testLogger(), Conn: connA, Addr: netip.MustParseAddrPort("127.0.0.1:1"),
		Cfg: testConfig(), Store: storeA, Self: selfA, Events: eventsA,
	})
	b := New(Opts{
		Log: testLogger(), Conn: connB, Addr: netip.MustParseAddrPort("127.0.0.1:2"),
		Cfg: testConfig(), Store: storeB, Self: selfB, Events: eventsB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	go b.Run(ctx)

	h := &harness{a: a, b: b, eventsA: eventsA, eventsB: eventsB, selfA: selfA, selfB: selfB, storeA: storeA, storeB: storeB, cancel: cancel}
	t.Cleanup(cancel)
	return h
}

func waitForEvent[T Event](t *testing.T, ch chan Event, timeout time.Duration) T {
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
			t.Fatalf("timed out waiting for event of type %T", zero)
			return zero
		}
	}
}

func TestHandshakeAndSynchronize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.a.Command(ctx, InitiateHandshake{}); err != nil {
		t.Fatalf("a handshake: %v", err)
	}
	if err := h.b.Command(ctx, InitiateHandshake{}); err != nil {
		t.Fatalf("b handshake: %v", err)
	}

	setA := waitForEvent[SetPeerId](t, h.eventsA, 2*time.Second)
	if !setA.PeerID.Equal(h.selfB) {
		t.Fatalf("a learned wrong peer id: %v", setA.PeerID)
	}
	setB := waitForEvent[SetPeerId](t, h.eventsB, 2*time.Second)
	if !setB.PeerID.Equal(h.selfA) {
		t.Fatalf("b learned wrong peer id: %v", setB.PeerID)
	}

	waitForEvent[ReceivedDirectories](t, h.eventsA, 2*time.Second)
	waitForEvent[ReceivedDirectories](t, h.eventsB, 2*time.Second)
}

func TestMutationPropagationAddedFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.a.Command(ctx, InitiateHandshake{}); err != nil {
		t.Fatal(err)
	}
	if err := h.b.Command(ctx, InitiateHandshake{}); err != nil {
		t.Fatal(err)
	}
	waitForEvent[SetPeerId](t, h.eventsA, 2*time.Second)
	waitForEvent[SetPeerId](t, h.eventsB, 2*time.Second)

	t0 := time.Now()
	dir := directory.New("docs", h.selfA, t0)
	dir.AddPeers([]peerid.ID{h.selfB}, t0)
	h.storeA.AddDirectory(dir)
	h.storeB.AddDirectory(dir)

	fileID := uuid.New()
	sig := dir.Signature
	files := []directory.SharedFile{{
		Name: "report.txt", ID: fileID, ContentHash: 42, OwnedPeers: []peerid.ID{h.selfA},
		ContentLocation: directory.ContentLocation{Kind: directory.LocalPath, Path: "/tmp/report.txt"},
	}}

	if err := h.a.Command(ctx, SendAddedFiles{Signature: sig, Files: files}); err != nil {
		t.Fatal(err)
	}

	updated := waitForEvent[UpdatedDirectory](t, h.eventsB, 2*time.Second)
	if updated.DirID != dir.Signature.ID {
		t.Fatalf("unexpected dir id: %v", updated.DirID)
	}

	got, ok := h.storeB.GetDirectory(dir.Signature.ID)
	if !ok {
		t.Fatal("expected directory present on b")
	}
	if _, ok := got.Files[fileID]; !ok {
		t.Fatal("expected file propagated to b's store")
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.a.Command(ctx, InitiateHandshake{}); err != nil {
		t.Fatal(err)
	}
	if err := h.b.Command(ctx, InitiateHandshake{}); err != nil {
		t.Fatal(err)
	}
	waitForEvent[SetPeerId](t, h.eventsA, 2*time.Second)
	waitForEvent[SetPeerId](t, h.eventsB, 2*time.Second)

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "payload.bin")
	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := os.WriteFile(srcPath, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	t0 := time.Now()
	dir := directory.New("docs", h.selfB, t0)
	dir.AddPeers([]peerid.ID{h.selfA}, t0)
	fileID := uuid.New()
	if err := dir.AddFiles([]directory.SharedFile{{
		Name: "payload.bin", ID: fileID, ContentHash: 7, Size: uint64(len(payload)),
		OwnedPeers:      []peerid.ID{h.selfB},
		ContentLocation: directory.ContentLocation{Kind: directory.LocalPath, Path: srcPath},
	}}, t0); err != nil {
		t.Fatal(err)
	}
	h.storeB.AddDirectory(dir)
	h.storeA.AddDirectory(dir)

	downloadID := uuid.New()
	destDir := t.TempDir()
	destPath := filepath.Join(destDir, "payload.bin")

	if err := h.a.Command(ctx, StartDownloadCmd{
		DownloadID: downloadID, DirID: dir.Signature.ID, FileID: fileID,
		DestPath: destPath, BytesTotal: uint64(len(payload)),
	}); err != nil {
		t.Fatal(err)
	}

	finished := waitForEvent[FinishedDownload](t, h.eventsA, 3*time.Second)
	if finished.DownloadID != downloadID {
		t.Fatalf("unexpected download id: %v", finished.DownloadID)
	}

	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("downloaded file size mismatch: got %d want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("downloaded byte %d mismatch: got %d want %d", i, got[i], payload[i])
		}
	}
}

func TestCancelDownloadRemovesPartialFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.a.Command(ctx, InitiateHandshake{}); err != nil {
		t.Fatal(err)
	}
	if err := h.b.Command(ctx, InitiateHandshake{}); err != nil {
		t.Fatal(err)
	}
	waitForEvent[SetPeerId](t, h.eventsA, 2*time.Second)
	waitForEvent[SetPeerId](t, h.eventsB, 2*time.Second)

	downloadID := uuid.New()
	destDir := t.TempDir()
	destPath := filepath.Join(destDir, "partial.bin")

	if err := h.a.Command(ctx, StartDownloadCmd{
		DownloadID: downloadID, DirID: uuid.New(), FileID: uuid.New(),
		DestPath: destPath, BytesTotal: 100,
	}); err != nil {
		t.Fatal(err)
	}

	if err := h.a.Command(ctx, CancelDownloadCmd{DownloadID: downloadID}); err != nil {
		t.Fatal(err)
	}

	canceled := waitForEvent[DownloadCanceled](t, h.eventsA, 2*time.Second)
	if canceled.DownloadID != downloadID {
		t.Fatalf("unexpected download id: %v", canceled.DownloadID)
	}

	if _, err := os.Stat(destPath); !os.IsNotExist(err) {
		t.Fatalf("expected partial file removed, stat err: %v", err)
	}
}
