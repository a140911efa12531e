// Package store implements the Directory Store: the single process-wide
// map of share directories behind one mutex, plus the convergent
// synchronize merge that makes replication eventually consistent
// (spec.md §4.3). Grounded on the teacher's single-struct-behind-one-mutex
// shape (internal/storage/storage.go) and the RWMutex-guarded registry
// pattern of internal/peer/swarm.go.
package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
)

// ErrAlreadyShared is returned by SharedDirectory when a directory with the
// same identifier is already present.
var ErrAlreadyShared = errors.New("store: directory already shared")

// Store is the single process-wide mapping dir_id -> ShareDirectory
// (spec.md §4.3). All exported methods acquire the lock for their
// duration, except GenerateFilepath, which releases it before touching
// the filesystem; callers must not hold a reference to returned values across a
// suspension point (spec.md §5 shared-resource policy) — every accessor
// below returns an owned clone.
type Store struct {
	mu   sync.Mutex
	dirs map[uuid.UUID]directory.ShareDirectory
}

// New returns an empty Store.
func New() *Store {
	return &Store{dirs: make(map[uuid.UUID]directory.ShareDirectory)}
}

// GetDirectories returns an owned clone of every directory currently held.
func (s *Store) GetDirectories() []directory.ShareDirectory {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]directory.ShareDirectory, 0, len(s.dirs))
	for _, d := range s.dirs {
		out = append(out, d.Clone())
	}
	return out
}

// GetDirectory returns an owned clone of the directory with the given id.
func (s *Store) GetDirectory(id uuid.UUID) (directory.ShareDirectory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[id]
	if !ok {
		return directory.ShareDirectory{}, false
	}
	return d.Clone(), true
}

// GetFilepath returns the local on-disk path for a file, if the local peer
// holds one.
func (s *Store) GetFilepath(dirID, fileID uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[dirID]
	if !ok {
		return "", false
	}
	f, ok := d.Files[fileID]
	if !ok || f.ContentLocation.Kind != directory.LocalPath {
		return "", false
	}
	return f.ContentLocation.Path, true
}

// GetOwners returns the owner set of a file.
func (s *Store) GetOwners(dirID, fileID uuid.UUID) ([]peerid.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[dirID]
	if !ok {
		return nil, false
	}
	f, ok := d.Files[fileID]
	if !ok {
		return nil, false
	}
	return append([]peerid.ID(nil), f.OwnedPeers...), true
}

// AddDirectory inserts d unconditionally, overwriting any existing entry
// with the same id. Used for locally-created directories, which are known
// fresh.
func (s *Store) AddDirectory(d directory.ShareDirectory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[d.Signature.ID] = d.Clone()
}

// SharedDirectory inserts d, failing with ErrAlreadyShared if a directory
// with the same id is already present (spec.md §4.3).
func (s *Store) SharedDirectory(d directory.ShareDirectory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dirs[d.Signature.ID]; exists {
		return errors.Wrapf(ErrAlreadyShared, "dir id %s", d.Signature.ID)
	}
	s.dirs[d.Signature.ID] = d.Clone()
	return nil
}

// RemoveDirectory removes and returns the directory with the given id.
func (s *Store) RemoveDirectory(id uuid.UUID) (directory.ShareDirectory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[id]
	if ok {
		delete(s.dirs, id)
	}
	return d, ok
}

// MutateDir applies f to the directory under the lock; it is a no-op if
// the directory does not exist. Returns whether the directory was found.
func (s *Store) MutateDir(id uuid.UUID, f func(*directory.ShareDirectory)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[id]
	if !ok {
		return false
	}
	f(&d)
	s.dirs[id] = d
	return true
}

// MutateFile applies f to a single file entry under the lock; a no-op if
// either the directory or the file is missing.
func (s *Store) MutateFile(dirID, fileID uuid.UUID, f func(*directory.SharedFile)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[dirID]
	if !ok {
		return false
	}
	file, ok := d.Files[fileID]
	if !ok {
		return false
	}
	f(&file)
	d.Files[fileID] = file
	return true
}

// GenerateFilepath computes a destination path for a download under
// downloadsDir. It prefers downloadsDir/<file.name>; on collision it falls
// back to downloadsDir/<file.name>/<download_id>, preserved verbatim per
// spec.md §9 (an implementer may instead choose <name>.<id>, but this
// repo keeps the source behavior as specified).
func (s *Store) GenerateFilepath(downloadsDir string, dirID, fileID, downloadID uuid.UUID) (string, bool) {
	s.mu.Lock()
	name, ok := func() (string, bool) {
		d, ok := s.dirs[dirID]
		if !ok {
			return "", false
		}
		f, ok := d.Files[fileID]
		if !ok {
			return "", false
		}
		return f.Name, true
	}()
	s.mu.Unlock()
	if !ok {
		return "", false
	}

	preferred := filepath.Join(downloadsDir, name)
	if _, err := os.Stat(preferred); os.IsNotExist(err) {
		return preferred, true
	}
	return filepath.Join(downloadsDir, name, downloadID.String()), true
}

// Synchronize is the convergent merge procedure (spec.md §4.3): for each
// incoming directory it either inserts it when unknown locally, merges it
// when strictly newer, or ignores it when the local copy is at least as
// new. In both the insert and the merge case sender is appended to the
// membership if absent, since the sender is always a member of what it
// sent. Returns the full post-merge
// directory list for UI broadcast.
func (s *Store) Synchronize(incoming []directory.ShareDirectory, sender peerid.ID) []directory.ShareDirectory {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, incomingDir := range incoming {
		local, exists := s.dirs[incomingDir.Signature.ID]
		if !exists {
			cloned := incomingDir.Clone()
			if !cloned.Signature.HasPeer(sender) {
				cloned.Signature.SharedPeers = append(cloned.Signature.SharedPeers, sender)
			}
			s.dirs[incomingDir.Signature.ID] = cloned
			continue
		}

		if !incomingDir.Signature.LastModified.After(local.Signature.LastModified) {
			continue
		}

		merged := mergeDirectory(local, incomingDir, sender)
		s.dirs[incomingDir.Signature.ID] = merged
	}

	out := make([]directory.ShareDirectory, 0, len(s.dirs))
	for _, d := range s.dirs {
		out = append(out, d.Clone())
	}
	return out
}

// mergeDirectory applies steps 1-4 of spec.md §4.3's synchronize merge. It
// assumes incoming.Signature.LastModified is already known to be newer
// than local's.
func mergeDirectory(local, incoming directory.ShareDirectory, sender peerid.ID) directory.ShareDirectory {
	result := incoming.Clone()

	// Step 1: replace membership with the incoming set; ensure the sender
	// is present (it is always a member of what it sent).
	if !result.Signature.HasPeer(sender) {
		result.Signature.SharedPeers = append(result.Signature.SharedPeers, sender)
	}

	// Step 2: files present locally but absent from the incoming set are
	// dropped, except ones the local peer still has a reason to keep
	// (locally-owned additions the sender has not yet heard about). Since
	// the merge runs from the local peer's own perspective, "local peer
	// owns it" is approximated by checking whether the file already
	// carries a local payload (ContentLocation == LocalPath): such files
	// represent local additions, not yet propagated, and must survive.
	//
	// Step 3: for files present in both, only OwnedPeers is overwritten
	// with the incoming value; the rest of the entry — in particular
	// ContentLocation — stays the local peer's own (spec.md §4.3 step 3;
	// original_source server.rs:395-397 assigns only owned_peers). Taking
	// incoming's clone wholesale would stamp every such file back to
	// NetworkOnly, making the local peer unable to serve a file it still
	// holds.
	for id, localFile := range local.Files {
		incomingFile, stillPresent := result.Files[id]
		if !stillPresent {
			if localFile.ContentLocation.Kind == directory.LocalPath {
				result.Files[id] = localFile.Clone()
			}
			continue
		}
		merged := localFile.Clone()
		merged.OwnedPeers = append([]peerid.ID(nil), incomingFile.OwnedPeers...)
		result.Files[id] = merged
	}

	// Step 4: files present in incoming but absent locally are already in
	// result (it started life as incoming's clone).

	return result
}
