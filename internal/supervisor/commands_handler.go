package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
	"github.com/ktu-dev/fileshare/internal/session"
)

// handleCommand is the fan-out table of spec.md §4.7.2.
func (s *Supervisor) handleCommand(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case CreateShareDirectory:
		s.handleCreateShareDirectory(ctx, c)
	case GetAllShareDirectoryData:
		s.handleGetAllShareDirectoryData(ctx)
	case GetPeers:
		s.handleGetPeers(ctx)
	case AddFiles:
		s.handleAddFiles(ctx, c)
	case ShareDirectoryToPeers:
		s.handleShareDirectoryToPeers(ctx, c)
	case DeleteFile:
		s.handleDeleteFile(ctx, c)
	case DownloadFile:
		s.handleDownloadFile(ctx, c)
	case CancelDownload:
		s.handleCancelDownload(ctx, c)
	case LeaveDirectory:
		s.handleLeaveDirectory(ctx, c)
	}
}

func (s *Supervisor) handleCreateShareDirectory(ctx context.Context, c CreateShareDirectory) {
	d := directory.New(c.Name, s.self, time.Now())
	s.store.AddDirectory(d)
	s.emitUI(ctx, NewShareDirectory{Directory: d})
}

func (s *Supervisor) handleGetAllShareDirectoryData(ctx context.Context) {
	s.emitUI(ctx, UpdateShareDirectories{Directories: s.store.GetDirectories()})
}

func (s *Supervisor) handleGetPeers(ctx context.Context) {
	s.emitUI(ctx, GetPeersEvent{Peers: s.peerList()})
}

// handleAddFiles computes a SharedFile per path (CRC64 content hash, size,
// fresh uuid), mutates the directory, and broadcasts AddedFiles to its
// members (spec.md §4.7.2).
func (s *Supervisor) handleAddFiles(ctx context.Context, c AddFiles) {
	files := make([]directory.SharedFile, 0, len(c.Paths))
	for _, path := range c.Paths {
		hash, size, err := hashFile(path)
		if err != nil {
			s.reportError(ctx, "AddFiles", errors.Wrapf(err, "hash %s", path))
			continue
		}
		files = append(files, directory.SharedFile{
			Name:            filepath.Base(path),
			ID:              uuid.New(),
			ContentHash:     hash,
			Size:            size,
			LastModified:    time.Now(),
			OwnedPeers:      []peerid.ID{s.self},
			ContentLocation: directory.ContentLocation{Kind: directory.LocalPath, Path: path},
		})
	}
	if len(files) == 0 {
		return
	}

	var addErr error
	now := time.Now()
	found := s.store.MutateDir(c.DirID, func(d *directory.ShareDirectory) {
		addErr = d.AddFiles(files, now)
	})
	if !found {
		s.reportError(ctx, "AddFiles", errors.Errorf("directory %s not found", c.DirID))
		return
	}
	if addErr != nil {
		s.reportError(ctx, "AddFiles", addErr)
		return
	}

	dir, _ := s.store.GetDirectory(c.DirID)
	wireFiles := make([]directory.SharedFile, len(files))
	for i, f := range files {
		wireFiles[i] = f.WireClone()
	}
	for _, h := range s.handlesForPeers(dir.Signature.SharedPeers) {
		_ = h.sess.Command(ctx, session.SendAddedFiles{Signature: dir.Signature, Files: wireFiles})
	}

	s.emitUI(ctx, UpdateDirectory{DirID: c.DirID})
}

func (s *Supervisor) handleShareDirectoryToPeers(ctx context.Context, c ShareDirectoryToPeers) {
	now := time.Now()
	if !s.store.MutateDir(c.DirID, func(d *directory.ShareDirectory) {
		d.AddPeers(c.PeerIDs, now)
	}) {
		s.reportError(ctx, "ShareDirectoryToPeers", errors.Errorf("directory %s not found", c.DirID))
		return
	}

	dir, _ := s.store.GetDirectory(c.DirID)
	for _, h := range s.handlesForPeers(c.PeerIDs) {
		_ = h.sess.Command(ctx, session.SendSharedDirectory{Directory: dir})
	}
	s.emitUI(ctx, UpdateDirectory{DirID: c.DirID})
}

// handleDeleteFile implements spec.md §4.7.2: drop the local on-disk copy
// if owned, mark the local entry NetworkOnly, remove self from the file's
// owners, then broadcast the deletion.
func (s *Supervisor) handleDeleteFile(ctx context.Context, c DeleteFile) {
	dir, ok := s.store.GetDirectory(c.DirID)
	if !ok {
		s.reportError(ctx, "DeleteFile", errors.Errorf("directory %s not found", c.DirID))
		return
	}
	file, ok := dir.Files[c.FileID]
	if !ok {
		s.reportError(ctx, "DeleteFile", errors.Errorf("file %s not found", c.FileID))
		return
	}

	if file.ContentLocation.Kind == directory.LocalPath {
		if err := os.Remove(file.ContentLocation.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("supervisor: delete local file failed", "path", file.ContentLocation.Path, "error", err)
		}
	}

	s.store.MutateFile(c.DirID, c.FileID, func(f *directory.SharedFile) {
		f.ContentLocation = directory.ContentLocation{Kind: directory.NetworkOnly}
	})

	now := time.Now()
	s.store.MutateDir(c.DirID, func(d *directory.ShareDirectory) {
		d.RemoveFiles(s.self, now, []uuid.UUID{c.FileID})
	})

	dir, _ = s.store.GetDirectory(c.DirID)
	for _, h := range s.handlesForPeers(dir.Signature.SharedPeers) {
		_ = h.sess.Command(ctx, session.SendDeleteFile{PeerID: s.self, Signature: dir.Signature, FileID: c.FileID})
	}
	s.emitUI(ctx, UpdateDirectory{DirID: c.DirID})
}

// handleDownloadFile picks any connected owner, allocates a destination
// path, and starts the transfer (spec.md §4.7.2).
func (s *Supervisor) handleDownloadFile(ctx context.Context, c DownloadFile) {
	owners, ok := s.store.GetOwners(c.DirID, c.FileID)
	if !ok {
		s.reportError(ctx, "DownloadFile", errors.Errorf("file %s not found", c.FileID))
		return
	}

	var chosen *handle
	for _, owner := range owners {
		if owner.Equal(s.self) {
			continue
		}
		if h, ok := s.handleForPeer(owner); ok {
			chosen = h
			break
		}
	}
	if chosen == nil {
		s.reportError(ctx, "DownloadFile", errors.Errorf("no connected owner for file %s", c.FileID))
		return
	}

	dir, _ := s.store.GetDirectory(c.DirID)
	file := dir.Files[c.FileID]

	downloadID := uuid.New()
	destPath, ok := s.store.GenerateFilepath(s.cfg.DownloadDirectory, c.DirID, c.FileID, downloadID)
	if !ok {
		s.reportError(ctx, "DownloadFile", errors.Errorf("could not compute destination path for %s", c.FileID))
		return
	}

	if err := chosen.sess.Command(ctx, session.StartDownloadCmd{
		DownloadID: downloadID, DirID: c.DirID, FileID: c.FileID,
		DestPath: destPath, BytesTotal: file.Size,
	}); err != nil {
		s.reportError(ctx, "DownloadFile", err)
		return
	}

	s.emitUI(ctx, DownloadStarted{DownloadID: downloadID, DirID: c.DirID, FileID: c.FileID})
}

func (s *Supervisor) handleCancelDownload(ctx context.Context, c CancelDownload) {
	h, ok := s.handleForPeer(c.PeerID)
	if !ok {
		s.emitUI(ctx, DownloadCanceled{DownloadID: c.DownloadID, Reason: "disconnected"})
		return
	}
	_ = h.sess.Command(ctx, session.CancelDownloadCmd{DownloadID: c.DownloadID})
}

func (s *Supervisor) handleLeaveDirectory(ctx context.Context, c LeaveDirectory) {
	dir, ok := s.store.RemoveDirectory(c.DirID)
	if !ok {
		s.reportError(ctx, "LeaveDirectory", errors.Errorf("directory %s not found", c.DirID))
		return
	}

	now := time.Now()
	for _, h := range s.handlesForPeers(dir.Signature.SharedPeers) {
		_ = h.sess.Command(ctx, session.SendLeftDirectory{DirID: c.DirID, DateModified: now.UnixNano()})
	}

	s.emitUI(ctx, UpdateShareDirectories{Directories: s.store.GetDirectories()})
}
