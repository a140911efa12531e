package supervisor

import (
	"github.com/google/uuid"

	"github.com/ktu-dev/fileshare/internal/peerid"
)

// Command is implemented by every UI-originated instruction the Supervisor
// fans out (spec.md §4.7.2).
type Command interface{ isSupervisorCommand() }

// CreateShareDirectory creates a new, locally-owned directory.
type CreateShareDirectory struct {
	Name string
}

func (CreateShareDirectory) isSupervisorCommand() {}

// GetAllShareDirectoryData requests the full directory list.
type GetAllShareDirectoryData struct{}

func (GetAllShareDirectoryData) isSupervisorCommand() {}

// GetPeers requests the current connected-peer list.
type GetPeers struct{}

func (GetPeers) isSupervisorCommand() {}

// AddFiles shares local filesystem paths into an existing directory.
type AddFiles struct {
	DirID uuid.UUID
	Paths []string
}

func (AddFiles) isSupervisorCommand() {}

// ShareDirectoryToPeers extends a directory's membership to additional
// peers.
type ShareDirectoryToPeers struct {
	DirID   uuid.UUID
	PeerIDs []peerid.ID
}

func (ShareDirectoryToPeers) isSupervisorCommand() {}

// DeleteFile removes the local peer's ownership of a file, deleting the
// local copy if held.
type DeleteFile struct {
	DirID  uuid.UUID
	FileID uuid.UUID
}

func (DeleteFile) isSupervisorCommand() {}

// DownloadFile starts a download of a file from any connected owner.
type DownloadFile struct {
	DirID  uuid.UUID
	FileID uuid.UUID
}

func (DownloadFile) isSupervisorCommand() {}

// CancelDownload cancels an in-flight download, identified by the peer it
// was requested from and its download id.
type CancelDownload struct {
	PeerID     peerid.ID
	DownloadID uuid.UUID
}

func (CancelDownload) isSupervisorCommand() {}

// LeaveDirectory removes a directory the local peer no longer wants to
// share or receive.
type LeaveDirectory struct {
	DirID uuid.UUID
}

func (LeaveDirectory) isSupervisorCommand() {}
