package session

import (
	"net/netip"

	"github.com/google/uuid"

	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
)

// Event is implemented by every value a Session reports to the Server
// Supervisor (spec.md §4.6/§4.7).
type Event interface{ isSessionEvent() }

// SetPeerId reports that the remote peer's identity has just become known
// (spec.md §4.6.1).
type SetPeerId struct {
	Addr   netip.Addr
	PeerID peerid.ID
}

func (SetPeerId) isSessionEvent() {}

// KillClient reports that the session has terminated; the supervisor
// removes its handle and notifies Discovery (spec.md §4.6.4, §4.7.1).
type KillClient struct {
	Addr netip.Addr
}

func (KillClient) isSessionEvent() {}

// UpdatedDirectory reports that a local mutation-propagation message
// changed a directory the supervisor should re-broadcast to the UI
// (spec.md §4.6.2).
type UpdatedDirectory struct {
	DirID uuid.UUID
}

func (UpdatedDirectory) isSessionEvent() {}

// ReceivedDirectories reports the supervisor-visible outcome of a
// Synchronize round trip: the full post-merge directory list
// (spec.md §4.3).
type ReceivedDirectories struct {
	Directories []directory.ShareDirectory
}

func (ReceivedDirectories) isSessionEvent() {}

// SharedDirectoryReceived forwards an inbound SharedDirectory message; the
// supervisor inserts it if new (spec.md §4.6.2).
type SharedDirectoryReceived struct {
	Directory directory.ShareDirectory
}

func (SharedDirectoryReceived) isSessionEvent() {}

// DownloadUpdate reports download progress, forwarded to the UI
// (spec.md §4.6.3).
type DownloadUpdate struct {
	DownloadID uuid.UUID
	Percent    int
}

func (DownloadUpdate) isSessionEvent() {}

// DownloadCanceled reports that a download ended without completing
// (cancel, error, or disconnect) — spec.md §4.6.3/§7.
type DownloadCanceled struct {
	DownloadID uuid.UUID
	Reason     string
}

func (DownloadCanceled) isSessionEvent() {}

// FinishedDownload reports a completed download; the supervisor propagates
// ownership to the directory's other members (spec.md §4.7.3).
type FinishedDownload struct {
	DownloadID uuid.UUID
	DirID      uuid.UUID
	FileID     uuid.UUID
}

func (FinishedDownload) isSessionEvent() {}

// Command is implemented by every instruction the Server Supervisor sends
// into a Session (spec.md §4.7.2).
type Command interface{ isSessionCommand() }

// InitiateHandshake tells a newly-dialed (outbound) session to send the
// first RequestPeerId (spec.md §4.6.1: "the connector sends RequestPeerId").
type InitiateHandshake struct{}

func (InitiateHandshake) isSessionCommand() {}

// SendSynchronize asks the session to (re-)send Synchronize, e.g. right
// after SetPeerId is learned (spec.md §4.6.1).
type SendSynchronize struct{}

func (SendSynchronize) isSessionCommand() {}

// SendSharedDirectory asks the session to announce a newly-shared
// directory to this peer (fan-out table, spec.md §4.7.2).
type SendSharedDirectory struct {
	Directory directory.ShareDirectory
}

func (SendSharedDirectory) isSessionCommand() {}

// SendAddedFiles asks the session to propagate newly-added files
// (spec.md §4.7.2).
type SendAddedFiles struct {
	Signature directory.ShareDirectorySignature
	Files     []directory.SharedFile
}

func (SendAddedFiles) isSessionCommand() {}

// SendDeleteFile asks the session to propagate a local file deletion
// (spec.md §4.7.2).
type SendDeleteFile struct {
	PeerID    peerid.ID
	Signature directory.ShareDirectorySignature
	FileID    uuid.UUID
}

func (SendDeleteFile) isSessionCommand() {}

// SendLeftDirectory asks the session to propagate a local leave
// (spec.md §4.7.2).
type SendLeftDirectory struct {
	DirID        uuid.UUID
	DateModified int64 // unix nanos, avoids importing time for a single field
}

func (SendLeftDirectory) isSessionCommand() {}

// SendDownloadedFile asks the session to announce that the local peer has
// just become an owner of a file, so the remote peer can update its own
// copy of the directory (spec.md §4.7.3 "UpdateOwners").
type SendDownloadedFile struct {
	PeerID       peerid.ID
	DirID        uuid.UUID
	FileID       uuid.UUID
	DateModified int64 // unix nanos, see SendLeftDirectory
}

func (SendDownloadedFile) isSessionCommand() {}

// StartDownloadCmd asks the session (acting as downloader) to begin
// pulling a file from this peer (spec.md §4.6.3 downloader state machine).
type StartDownloadCmd struct {
	DownloadID uuid.UUID
	DirID      uuid.UUID
	FileID     uuid.UUID
	DestPath   string
	BytesTotal uint64
}

func (StartDownloadCmd) isSessionCommand() {}

// CancelDownloadCmd asks the session to cancel a download it initiated
// (spec.md §4.6.3, §7).
type CancelDownloadCmd struct {
	DownloadID uuid.UUID
}

func (CancelDownloadCmd) isSessionCommand() {}
