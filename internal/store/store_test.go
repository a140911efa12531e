package store

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
)

func writeFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0o644)
}

func peer(host string) peerid.ID {
	return peerid.ID{Hostname: host, UUID: uuid.New()}
}

func TestSharedDirectoryAlreadyShared(t *testing.T) {
	s := New()
	a := peer("a")
	d := directory.New("docs", a, time.Now())

	if err := s.SharedDirectory(d); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.SharedDirectory(d); err == nil {
		t.Fatal("expected AlreadyShared error")
	}
}

func TestSynchronizeInsertsNewDirectory(t *testing.T) {
	s := New()
	a, b := peer("a"), peer("b")
	d := directory.New("docs", a, time.Now())

	out := s.Synchronize([]directory.ShareDirectory{d}, b)
	if len(out) != 1 {
		t.Fatalf("expected 1 directory, got %d", len(out))
	}
	if !out[0].Signature.HasPeer(b) {
		t.Fatal("expected sender to be added as a member")
	}
}

func TestSynchronizeIgnoresStaleIncoming(t *testing.T) {
	s := New()
	a := peer("a")
	d := directory.New("docs", a, time.Now())
	s.AddDirectory(d)

	stale := d.Clone()
	stale.Signature.LastModified = d.Signature.LastModified.Add(-time.Hour)
	stale.Signature.Name = "renamed"

	s.Synchronize([]directory.ShareDirectory{stale}, a)

	got, _ := s.GetDirectory(d.Signature.ID)
	if got.Signature.Name != "docs" {
		t.Fatalf("expected local to be unchanged, got name %q", got.Signature.Name)
	}
}

func TestSynchronizePreservesUnpropagatedLocalFile(t *testing.T) {
	s := New()
	a, b := peer("a"), peer("b")
	base := directory.New("docs", a, time.Now())
	base.AddPeers([]peerid.ID{b}, time.Now())
	s.AddDirectory(base)

	// Locally add a file that b does not know about yet.
	fid := uuid.New()
	path := "/tmp/local.txt"
	local, _ := s.GetDirectory(base.Signature.ID)
	local.AddFiles([]directory.SharedFile{{
		Name: "local.txt", ID: fid, ContentHash: 1, OwnedPeers: []peerid.ID{a},
		ContentLocation: directory.ContentLocation{Kind: directory.LocalPath, Path: path},
	}}, time.Now())
	s.MutateDir(base.Signature.ID, func(d *directory.ShareDirectory) { *d = local })

	// b's synchronize reply does not know about fid but is newer.
	incoming := local.Clone()
	delete(incoming.Files, fid)
	incoming.Signature.LastModified = local.Signature.LastModified.Add(time.Second)

	s.Synchronize([]directory.ShareDirectory{incoming}, b)

	got, _ := s.GetDirectory(base.Signature.ID)
	if _, ok := got.Files[fid]; !ok {
		t.Fatal("expected locally-owned file to survive merge despite sender not knowing about it")
	}
}

func TestSynchronizeConvergence(t *testing.T) {
	a, b := peer("a"), peer("b")
	t0 := time.Now()

	initial := directory.New("docs", a, t0)
	initial.AddPeers([]peerid.ID{b}, t0)

	storeA := New()
	storeA.AddDirectory(initial)
	storeB := New()
	storeB.AddDirectory(initial)

	// A adds a file.
	fid := uuid.New()
	t1 := t0.Add(time.Second)
	dirA, _ := storeA.GetDirectory(initial.Signature.ID)
	if err := dirA.AddFiles([]directory.SharedFile{{
		Name: "x.txt", ID: fid, ContentHash: 7, OwnedPeers: []peerid.ID{a},
	}}, t1); err != nil {
		t.Fatal(err)
	}
	storeA.MutateDir(initial.Signature.ID, func(d *directory.ShareDirectory) { *d = dirA })

	// Bidirectional synchronize: A -> B, then B -> A.
	aSnapshot, _ := storeA.GetDirectory(initial.Signature.ID)
	storeB.Synchronize([]directory.ShareDirectory{aSnapshot.WireClone()}, a)

	bSnapshot, _ := storeB.GetDirectory(initial.Signature.ID)
	storeA.Synchronize([]directory.ShareDirectory{bSnapshot.WireClone()}, b)

	finalA, _ := storeA.GetDirectory(initial.Signature.ID)
	finalB, _ := storeB.GetDirectory(initial.Signature.ID)

	if len(finalA.Files) != len(finalB.Files) {
		t.Fatalf("file count diverged: A=%d B=%d", len(finalA.Files), len(finalB.Files))
	}
	fa, okA := finalA.Files[fid]
	fb, okB := finalB.Files[fid]
	if !okA || !okB {
		t.Fatal("file should be present on both peers after convergence")
	}
	if len(fa.OwnedPeers) != len(fb.OwnedPeers) {
		t.Fatalf("owner sets diverged: A=%v B=%v", fa.OwnedPeers, fb.OwnedPeers)
	}
}

func TestSynchronizePreservesLocalContentLocationOnOwnedFile(t *testing.T) {
	s := New()
	a, b := peer("a"), peer("b")
	base := directory.New("docs", a, time.Now())
	base.AddPeers([]peerid.ID{b}, time.Now())
	s.AddDirectory(base)

	fid := uuid.New()
	path := "/tmp/owned.txt"
	local, _ := s.GetDirectory(base.Signature.ID)
	if err := local.AddFiles([]directory.SharedFile{{
		Name: "owned.txt", ID: fid, ContentHash: 1, OwnedPeers: []peerid.ID{a},
		ContentLocation: directory.ContentLocation{Kind: directory.LocalPath, Path: path},
	}}, time.Now()); err != nil {
		t.Fatal(err)
	}
	s.MutateDir(base.Signature.ID, func(d *directory.ShareDirectory) { *d = local })

	// b echoes back the same file (still present, still owned by a), but as
	// a newer, wire-scrubbed copy: ContentLocation is NetworkOnly because
	// WireClone always scrubs it before transmission.
	beforeSync, _ := s.GetDirectory(base.Signature.ID)
	incoming := beforeSync.WireClone()
	incoming.Signature.LastModified = beforeSync.Signature.LastModified.Add(time.Second)

	s.Synchronize([]directory.ShareDirectory{incoming}, b)

	got, _ := s.GetDirectory(base.Signature.ID)
	f, ok := got.Files[fid]
	if !ok {
		t.Fatal("expected file to survive merge")
	}
	if f.ContentLocation.Kind != directory.LocalPath || f.ContentLocation.Path != path {
		t.Fatalf("expected local ContentLocation to survive merge, got %+v", f.ContentLocation)
	}
	if len(f.OwnedPeers) != 1 || !f.OwnedPeers[0].Equal(a) {
		t.Fatalf("expected owner set from incoming, got %v", f.OwnedPeers)
	}
}

func TestGenerateFilepathCollisionFallback(t *testing.T) {
	s := New()
	a := peer("a")
	d := directory.New("docs", a, time.Now())
	fid := uuid.New()
	if err := d.AddFiles([]directory.SharedFile{{Name: "x.txt", ID: fid, ContentHash: 1, OwnedPeers: []peerid.ID{a}}}, time.Now()); err != nil {
		t.Fatal(err)
	}
	s.AddDirectory(d)

	dir := t.TempDir()
	p1, ok := s.GenerateFilepath(dir, d.Signature.ID, fid, uuid.New())
	if !ok {
		t.Fatal("expected ok")
	}

	if err := writeFile(p1); err != nil {
		t.Fatal(err)
	}

	downloadID := uuid.New()
	p2, ok := s.GenerateFilepath(dir, d.Signature.ID, fid, downloadID)
	if !ok {
		t.Fatal("expected ok")
	}
	if p1 == p2 {
		t.Fatal("expected fallback path on collision")
	}
}
