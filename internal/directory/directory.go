// Package directory implements the replicated directory/file aggregate:
// entities, invariants, and the pure mutation primitives that advance them.
// Primitives here perform no I/O; the Directory Store (internal/store)
// wraps them with locking and the convergent merge procedure.
package directory

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/ktu-dev/fileshare/internal/peerid"
)

var (
	// ErrDuplicateFile is returned by AddFiles when an incoming file's
	// identifier or content hash already exists in the directory.
	ErrDuplicateFile = errors.New("directory: duplicate file")
)

// LocationKind distinguishes a locally-held payload from one known only
// to exist somewhere on the network.
type LocationKind uint8

const (
	// NetworkOnly means the local peer does not hold a copy of the file's
	// payload. This is the only variant ever transmitted on the wire.
	NetworkOnly LocationKind = iota
	// LocalPath means the local peer holds the payload at Path.
	LocalPath
)

// ContentLocation records where (if anywhere) the local peer's copy of a
// file's payload lives on disk. Invariant 3 (spec.md §3): Kind is LocalPath
// iff the local peer is in the file's OwnedPeers.
type ContentLocation struct {
	Kind LocationKind
	Path string
}

// Scrub returns the NetworkOnly location, used before encoding a file for
// the wire (spec.md §4.1: transmitted copies always carry NetworkOnly).
func (c ContentLocation) Scrub() ContentLocation {
	return ContentLocation{Kind: NetworkOnly}
}

// ShareDirectorySignature is the replicated metadata portion of a directory:
// membership, name, identifier, and the wall-clock timestamp that breaks
// merge ties (spec.md §4.3).
type ShareDirectorySignature struct {
	Name         string
	ID           uuid.UUID
	LastModified time.Time
	SharedPeers  []peerid.ID
}

// Clone returns a deep copy of the signature.
func (s ShareDirectorySignature) Clone() ShareDirectorySignature {
	s.SharedPeers = append([]peerid.ID(nil), s.SharedPeers...)
	return s
}

// HasPeer reports whether p is a member.
func (s ShareDirectorySignature) HasPeer(p peerid.ID) bool {
	return lo.ContainsBy(s.SharedPeers, func(other peerid.ID) bool { return other.Equal(p) })
}

// SharedFile is a logical file entry within a directory. ContentHash is
// immutable after creation (invariant 5); OwnedPeers is never empty while
// the entry exists (invariant 1).
type SharedFile struct {
	Name            string
	ID              uuid.UUID
	ContentHash     uint64
	LastModified    time.Time
	Size            uint64
	OwnedPeers      []peerid.ID
	ContentLocation ContentLocation
}

// Clone returns a deep copy of the file entry.
func (f SharedFile) Clone() SharedFile {
	f.OwnedPeers = append([]peerid.ID(nil), f.OwnedPeers...)
	return f
}

// WireClone returns a deep copy scrubbed of any LocalPath, safe to encode
// onto the wire (spec.md §4.1).
func (f SharedFile) WireClone() SharedFile {
	cp := f.Clone()
	cp.ContentLocation = cp.ContentLocation.Scrub()
	return cp
}

func (f SharedFile) hasOwner(p peerid.ID) bool {
	return lo.ContainsBy(f.OwnedPeers, func(other peerid.ID) bool { return other.Equal(p) })
}

// ShareDirectory is the aggregate: a signature plus its file map, keyed by
// file identifier.
type ShareDirectory struct {
	Signature ShareDirectorySignature
	Files     map[uuid.UUID]SharedFile
}

// New builds an empty directory owned initially by creator.
func New(name string, creator peerid.ID, t time.Time) ShareDirectory {
	return ShareDirectory{
		Signature: ShareDirectorySignature{
			Name:         name,
			ID:           uuid.New(),
			LastModified: t,
			SharedPeers:  []peerid.ID{creator},
		},
		Files: make(map[uuid.UUID]SharedFile),
	}
}

// Clone returns a deep copy of the directory, suitable for storing,
// returning as a snapshot, or merging against.
func (d ShareDirectory) Clone() ShareDirectory {
	files := make(map[uuid.UUID]SharedFile, len(d.Files))
	for id, f := range d.Files {
		files[id] = f.Clone()
	}
	return ShareDirectory{Signature: d.Signature.Clone(), Files: files}
}

// WireClone returns a deep copy with every file's ContentLocation scrubbed,
// ready for SharedDirectory/ReceiveDirectories encoding.
func (d ShareDirectory) WireClone() ShareDirectory {
	files := make(map[uuid.UUID]SharedFile, len(d.Files))
	for id, f := range d.Files {
		files[id] = f.WireClone()
	}
	return ShareDirectory{Signature: d.Signature.Clone(), Files: files}
}

// AddFiles inserts files into the directory, failing wholesale with
// ErrDuplicateFile if any incoming file's identifier or content hash
// collides with an existing entry (spec.md §4.2).
func (d *ShareDirectory) AddFiles(files []SharedFile, t time.Time) error {
	for _, f := range files {
		if _, exists := d.Files[f.ID]; exists {
			return errors.Wrapf(ErrDuplicateFile, "file id %s", f.ID)
		}
		for _, existing := range d.Files {
			if existing.ContentHash == f.ContentHash {
				return errors.Wrapf(ErrDuplicateFile, "content hash %d", f.ContentHash)
			}
		}
	}

	for _, f := range files {
		d.Files[f.ID] = f.Clone()
	}
	d.Signature.LastModified = t
	return nil
}

// RemoveFiles drops peer from each listed file's owners; a file entry is
// deleted once its owner set becomes empty (invariant 1).
func (d *ShareDirectory) RemoveFiles(peer peerid.ID, t time.Time, fileIDs []uuid.UUID) {
	for _, id := range fileIDs {
		f, ok := d.Files[id]
		if !ok {
			continue
		}
		f.OwnedPeers = lo.Filter(f.OwnedPeers, func(p peerid.ID, _ int) bool { return !p.Equal(peer) })
		if len(f.OwnedPeers) == 0 {
			delete(d.Files, id)
		} else {
			d.Files[id] = f
		}
	}
	d.Signature.LastModified = t
}

// RemovePeer removes peer from directory membership and from every file's
// owners, cascading file removal when a file's owners becomes empty
// (spec.md §3 lifecycle: LeftDirectory).
func (d *ShareDirectory) RemovePeer(peer peerid.ID, t time.Time) {
	d.Signature.SharedPeers = lo.Filter(d.Signature.SharedPeers, func(p peerid.ID, _ int) bool {
		return !p.Equal(peer)
	})

	for id, f := range d.Files {
		if !f.hasOwner(peer) {
			continue
		}
		f.OwnedPeers = lo.Filter(f.OwnedPeers, func(p peerid.ID, _ int) bool { return !p.Equal(peer) })
		if len(f.OwnedPeers) == 0 {
			delete(d.Files, id)
		} else {
			d.Files[id] = f
		}
	}
	d.Signature.LastModified = t
}

// AddPeers appends peers to directory membership; re-adding an existing
// member is a no-op (idempotent membership law, spec.md §8).
func (d *ShareDirectory) AddPeers(peers []peerid.ID, t time.Time) {
	for _, p := range peers {
		if !d.Signature.HasPeer(p) {
			d.Signature.SharedPeers = append(d.Signature.SharedPeers, p)
		}
	}
	d.Signature.LastModified = t
}

// AddOwner appends peer to the owners of each listed file (no-op if
// already present); if path is non-nil it also sets that file's
// ContentLocation to LocalPath(path) — used when the local peer is the one
// becoming an owner (spec.md §4.2).
func (d *ShareDirectory) AddOwner(peer peerid.ID, t time.Time, fileIDs []uuid.UUID, path *string) {
	for _, id := range fileIDs {
		f, ok := d.Files[id]
		if !ok {
			continue
		}
		if !f.hasOwner(peer) {
			f.OwnedPeers = append(f.OwnedPeers, peer)
		}
		if path != nil {
			f.ContentLocation = ContentLocation{Kind: LocalPath, Path: *path}
		}
		d.Files[id] = f
	}
	d.Signature.LastModified = t
}
