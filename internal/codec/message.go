package codec

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
)

// Kind tags the discriminated union described in spec.md §4.1.
type Kind uint8

const (
	KindRequestPeerId Kind = iota
	KindReceivePeerId
	KindSynchronize
	KindReceiveDirectories
	KindSharedDirectory
	KindLeftDirectory
	KindAddedFiles
	KindDeleteFile
	KindStartDownload
	KindCancelDownload
	KindReceiveFilePart
	KindReceiveFileEnd
	KindDownloadError
	KindDownloadedFile
)

func (k Kind) String() string {
	switch k {
	case KindRequestPeerId:
		return "RequestPeerId"
	case KindReceivePeerId:
		return "ReceivePeerId"
	case KindSynchronize:
		return "Synchronize"
	case KindReceiveDirectories:
		return "ReceiveDirectories"
	case KindSharedDirectory:
		return "SharedDirectory"
	case KindLeftDirectory:
		return "LeftDirectory"
	case KindAddedFiles:
		return "AddedFiles"
	case KindDeleteFile:
		return "DeleteFile"
	case KindStartDownload:
		return "StartDownload"
	case KindCancelDownload:
		return "CancelDownload"
	case KindReceiveFilePart:
		return "ReceiveFilePart"
	case KindReceiveFileEnd:
		return "ReceiveFileEnd"
	case KindDownloadError:
		return "DownloadError"
	case KindDownloadedFile:
		return "DownloadedFile"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// ErrorCode enumerates the DownloadError codes of spec.md §7.
type ErrorCode uint8

const (
	ErrNoClientsConnected ErrorCode = iota
	ErrDirectoryMissing
	ErrFileMissing
	ErrFileNotOwned
	ErrFileTooLarge
	ErrDisconnected
	ErrCanceled
	ErrReadError
	ErrWriteError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNoClientsConnected:
		return "NoClientsConnected"
	case ErrDirectoryMissing:
		return "DirectoryMissing"
	case ErrFileMissing:
		return "FileMissing"
	case ErrFileNotOwned:
		return "FileNotOwned"
	case ErrFileTooLarge:
		return "FileTooLarge"
	case ErrDisconnected:
		return "Disconnected"
	case ErrCanceled:
		return "Canceled"
	case ErrReadError:
		return "ReadError"
	case ErrWriteError:
		return "WriteError"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// Message is implemented by every payload type in the union. Kind reports
// the wire tag used to dispatch Decode.
type Message interface {
	Kind() Kind
}

type RequestPeerId struct{}

func (RequestPeerId) Kind() Kind { return KindRequestPeerId }

type ReceivePeerId struct{ PeerID peerid.ID }

func (ReceivePeerId) Kind() Kind { return KindReceivePeerId }

type Synchronize struct{}

func (Synchronize) Kind() Kind { return KindSynchronize }

type ReceiveDirectories struct{ Directories []directory.ShareDirectory }

func (ReceiveDirectories) Kind() Kind { return KindReceiveDirectories }

type SharedDirectory struct{ Directory directory.ShareDirectory }

func (SharedDirectory) Kind() Kind { return KindSharedDirectory }

type LeftDirectory struct {
	DirID        uuid.UUID
	DateModified time.Time
}

func (LeftDirectory) Kind() Kind { return KindLeftDirectory }

type AddedFiles struct {
	Signature directory.ShareDirectorySignature
	Files     []directory.SharedFile
}

func (AddedFiles) Kind() Kind { return KindAddedFiles }

type DeleteFile struct {
	PeerID    peerid.ID
	Signature directory.ShareDirectorySignature
	FileID    uuid.UUID
}

func (DeleteFile) Kind() Kind { return KindDeleteFile }

type StartDownload struct {
	DownloadID uuid.UUID
	FileID     uuid.UUID
	DirID      uuid.UUID
}

func (StartDownload) Kind() Kind { return KindStartDownload }

type CancelDownload struct{ DownloadID uuid.UUID }

func (CancelDownload) Kind() Kind { return KindCancelDownload }

// ReceiveFilePart carries one chunk of a file transfer. Bytes should not
// exceed ChunkSize by convention (spec.md §9: a producer-side invariant,
// not receiver-enforced — the wire cap is MaxFrameSize).
type ReceiveFilePart struct {
	DownloadID uuid.UUID
	Bytes      []byte
}

func (ReceiveFilePart) Kind() Kind { return KindReceiveFilePart }

type ReceiveFileEnd struct{ DownloadID uuid.UUID }

func (ReceiveFileEnd) Kind() Kind { return KindReceiveFileEnd }

type DownloadError struct {
	ErrorCode  ErrorCode
	DownloadID uuid.UUID
}

func (DownloadError) Kind() Kind { return KindDownloadError }

type DownloadedFile struct {
	PeerID       peerid.ID
	DirID        uuid.UUID
	FileID       uuid.UUID
	DateModified time.Time
}

func (DownloadedFile) Kind() Kind { return KindDownloadedFile }

// ErrUnknownKind is returned by Decode when a frame's tag byte does not
// match any known Kind (spec.md §4.1: "tag unknown" is a fatal protocol
// error on that session).
var ErrUnknownKind = errors.New("codec: unknown message kind")

// Encode serializes msg as a frame payload (tag + fields) with no length
// prefix; WriteFrame/WriteMessage add the prefix when writing to a socket.
func Encode(msg Message) []byte {
	w := &writer{}
	w.putByte(byte(msg.Kind()))

	switch m := msg.(type) {
	case RequestPeerId:
	case ReceivePeerId:
		w.putPeerID(m.PeerID)
	case Synchronize:
	case ReceiveDirectories:
		w.putDirectories(m.Directories)
	case SharedDirectory:
		w.putDirectory(m.Directory)
	case LeftDirectory:
		w.putUUID(m.DirID)
		w.putTime(m.DateModified)
	case AddedFiles:
		w.putSignature(m.Signature)
		w.putFiles(m.Files)
	case DeleteFile:
		w.putPeerID(m.PeerID)
		w.putSignature(m.Signature)
		w.putUUID(m.FileID)
	case StartDownload:
		w.putUUID(m.DownloadID)
		w.putUUID(m.FileID)
		w.putUUID(m.DirID)
	case CancelDownload:
		w.putUUID(m.DownloadID)
	case ReceiveFilePart:
		w.putUUID(m.DownloadID)
		w.putBytes(m.Bytes)
	case ReceiveFileEnd:
		w.putUUID(m.DownloadID)
	case DownloadError:
		w.putByte(byte(m.ErrorCode))
		w.putUUID(m.DownloadID)
	case DownloadedFile:
		w.putPeerID(m.PeerID)
		w.putUUID(m.DirID)
		w.putUUID(m.FileID)
		w.putTime(m.DateModified)
	default:
		panic(fmt.Sprintf("codec: Encode: unhandled message type %T", msg))
	}

	return w.Bytes()
}

// Decode parses a frame's payload (as produced by ReadFrame) into its
// Message. Truncation or an unknown tag is a fatal protocol error on the
// session that received it.
func Decode(payload []byte) (Message, error) {
	r := newReader(payload)

	tag, err := r.getByte()
	if err != nil {
		return nil, errors.Wrap(err, "codec: decode tag")
	}
	kind := Kind(tag)

	switch kind {
	case KindRequestPeerId:
		return RequestPeerId{}, nil
	case KindReceivePeerId:
		id, err := r.getPeerID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode ReceivePeerId")
		}
		return ReceivePeerId{PeerID: id}, nil
	case KindSynchronize:
		return Synchronize{}, nil
	case KindReceiveDirectories:
		dirs, err := r.getDirectories()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode ReceiveDirectories")
		}
		return ReceiveDirectories{Directories: dirs}, nil
	case KindSharedDirectory:
		d, err := r.getDirectory()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode SharedDirectory")
		}
		return SharedDirectory{Directory: d}, nil
	case KindLeftDirectory:
		id, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode LeftDirectory")
		}
		t, err := r.getTime()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode LeftDirectory")
		}
		return LeftDirectory{DirID: id, DateModified: t}, nil
	case KindAddedFiles:
		sig, err := r.getSignature()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode AddedFiles")
		}
		files, err := r.getFiles()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode AddedFiles")
		}
		return AddedFiles{Signature: sig, Files: files}, nil
	case KindDeleteFile:
		peer, err := r.getPeerID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode DeleteFile")
		}
		sig, err := r.getSignature()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode DeleteFile")
		}
		fid, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode DeleteFile")
		}
		return DeleteFile{PeerID: peer, Signature: sig, FileID: fid}, nil
	case KindStartDownload:
		did, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode StartDownload")
		}
		fid, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode StartDownload")
		}
		dirID, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode StartDownload")
		}
		return StartDownload{DownloadID: did, FileID: fid, DirID: dirID}, nil
	case KindCancelDownload:
		did, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode CancelDownload")
		}
		return CancelDownload{DownloadID: did}, nil
	case KindReceiveFilePart:
		did, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode ReceiveFilePart")
		}
		b, err := r.getBytes()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode ReceiveFilePart")
		}
		return ReceiveFilePart{DownloadID: did, Bytes: append([]byte(nil), b...)}, nil
	case KindReceiveFileEnd:
		did, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode ReceiveFileEnd")
		}
		return ReceiveFileEnd{DownloadID: did}, nil
	case KindDownloadError:
		code, err := r.getByte()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode DownloadError")
		}
		did, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode DownloadError")
		}
		return DownloadError{ErrorCode: ErrorCode(code), DownloadID: did}, nil
	case KindDownloadedFile:
		peer, err := r.getPeerID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode DownloadedFile")
		}
		dirID, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode DownloadedFile")
		}
		fid, err := r.getUUID()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode DownloadedFile")
		}
		t, err := r.getTime()
		if err != nil {
			return nil, errors.Wrap(err, "codec: decode DownloadedFile")
		}
		return DownloadedFile{PeerID: peer, DirID: dirID, FileID: fid, DateModified: t}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "tag %d", tag)
	}
}

// ReadMessage reads one frame from r and decodes it.
func ReadMessage(r interface {
	Read(p []byte) (n int, err error)
}) (Message, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// WriteMessage encodes msg and writes it as one frame to w.
func WriteMessage(w interface {
	Write(p []byte) (n int, err error)
}, msg Message) error {
	return WriteFrame(w, Encode(msg))
}
