package supervisor

import (
	"github.com/google/uuid"

	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
)

// UIEvent is implemented by every value the Supervisor emits toward the UI
// Adapter (spec.md §6 "UI surface").
type UIEvent interface{ isUIEvent() }

// UpdateDirectory reports that a single directory changed.
type UpdateDirectory struct {
	DirID uuid.UUID
}

func (UpdateDirectory) isUIEvent() {}

// UpdateShareDirectories reports the full directory list, e.g. after
// GetAllShareDirectoryData or a LeaveDirectory.
type UpdateShareDirectories struct {
	Directories []directory.ShareDirectory
}

func (UpdateShareDirectories) isUIEvent() {}

// GetPeersEvent reports the current connected-peer list (emitted to the
// frontend under the name "GetPeers").
type GetPeersEvent struct {
	Peers []PeerInfo
}

func (GetPeersEvent) isUIEvent() {}

// PeerInfo is a UI-facing summary of one connected peer.
type PeerInfo struct {
	PeerID peerid.ID
	Addr   string
}

// NewShareDirectory reports a freshly created local directory.
type NewShareDirectory struct {
	Directory directory.ShareDirectory
}

func (NewShareDirectory) isUIEvent() {}

// Error reports a state error with no wire traffic (spec.md §7).
type Error struct {
	Title string
	Error string
}

func (Error) isUIEvent() {}

// DownloadStarted reports that a DownloadFile command was accepted and a
// transfer has begun.
type DownloadStarted struct {
	DownloadID uuid.UUID
	DirID      uuid.UUID
	FileID     uuid.UUID
}

func (DownloadStarted) isUIEvent() {}

// DownloadUpdate reports transfer progress.
type DownloadUpdate struct {
	DownloadID uuid.UUID
	Percent    int
}

func (DownloadUpdate) isUIEvent() {}

// DownloadCanceled reports that a download ended without completing.
type DownloadCanceled struct {
	DownloadID uuid.UUID
	Reason     string
}

func (DownloadCanceled) isUIEvent() {}
