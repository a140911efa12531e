package codec

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
)

// ErrTruncated is returned by every reader below when the buffer ends
// before the expected field is fully present; the codec round-trip law
// (spec.md §8) requires this to be distinguishable from a malformed field.
var ErrTruncated = errors.New("codec: truncated payload")

// writer accumulates a message payload. Every method is infallible (it
// never errors), matching bytes.Buffer's own Write contract.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) Bytes() []byte { return w.buf.Bytes() }

func (w *writer) putByte(b byte) { w.buf.WriteByte(b) }

func (w *writer) putUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) putUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) putBytes(b []byte) {
	w.putUint32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *writer) putString(s string) {
	w.putBytes([]byte(s))
}

func (w *writer) putUUID(u uuid.UUID) {
	w.buf.Write(u[:])
}

func (w *writer) putTime(t time.Time) {
	w.putString(t.UTC().Format(time.RFC3339Nano))
}

func (w *writer) putPeerID(id peerid.ID) {
	w.putString(id.Hostname)
	w.putUUID(id.UUID)
}

func (w *writer) putPeerIDs(ids []peerid.ID) {
	w.putUint32(uint32(len(ids)))
	for _, id := range ids {
		w.putPeerID(id)
	}
}

func (w *writer) putLocation(loc directory.ContentLocation) {
	w.putByte(byte(directory.NetworkOnly))
}

func (w *writer) putFile(f directory.SharedFile) {
	w.putString(f.Name)
	w.putUUID(f.ID)
	w.putUint64(f.ContentHash)
	w.putTime(f.LastModified)
	w.putUint64(f.Size)
	w.putPeerIDs(f.OwnedPeers)
	// spec.md §4.1: transmitted SharedFile values always carry NetworkOnly;
	// the codec strips any LocalPath before encoding regardless of the
	// caller-supplied value.
	w.putLocation(f.ContentLocation)
}

func (w *writer) putFiles(files []directory.SharedFile) {
	w.putUint32(uint32(len(files)))
	for _, f := range files {
		w.putFile(f)
	}
}

func (w *writer) putSignature(sig directory.ShareDirectorySignature) {
	w.putString(sig.Name)
	w.putUUID(sig.ID)
	w.putTime(sig.LastModified)
	w.putPeerIDs(sig.SharedPeers)
}

func (w *writer) putDirectory(d directory.ShareDirectory) {
	w.putSignature(d.Signature)
	files := make([]directory.SharedFile, 0, len(d.Files))
	for _, f := range d.Files {
		files = append(files, f)
	}
	w.putFiles(files)
}

func (w *writer) putDirectories(dirs []directory.ShareDirectory) {
	w.putUint32(uint32(len(dirs)))
	for _, d := range dirs {
		w.putDirectory(d)
	}
}

// reader consumes a message payload sequentially, returning ErrTruncated
// (wrapped) the moment a requested field runs past the end of the buffer.
type reader struct {
	buf []byte
	off int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) getByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) getUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *reader) getUint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v, nil
}

func (r *reader) getBytes() ([]byte, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *reader) getString() (string, error) {
	b, err := r.getBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) getUUID() (uuid.UUID, error) {
	if r.remaining() < 16 {
		return uuid.Nil, ErrTruncated
	}
	var u uuid.UUID
	copy(u[:], r.buf[r.off:r.off+16])
	r.off += 16
	return u, nil
}

func (r *reader) getTime() (time.Time, error) {
	s, err := r.getString()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "codec: malformed timestamp")
	}
	return t, nil
}

func (r *reader) getPeerID() (peerid.ID, error) {
	host, err := r.getString()
	if err != nil {
		return peerid.ID{}, err
	}
	u, err := r.getUUID()
	if err != nil {
		return peerid.ID{}, err
	}
	return peerid.ID{Hostname: host, UUID: u}, nil
}

func (r *reader) getPeerIDs() ([]peerid.ID, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	ids := make([]peerid.ID, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := r.getPeerID()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *reader) getLocation() (directory.ContentLocation, error) {
	b, err := r.getByte()
	if err != nil {
		return directory.ContentLocation{}, err
	}
	return directory.ContentLocation{Kind: directory.LocationKind(b)}, nil
}

func (r *reader) getFile() (directory.SharedFile, error) {
	var f directory.SharedFile
	var err error

	if f.Name, err = r.getString(); err != nil {
		return f, err
	}
	if f.ID, err = r.getUUID(); err != nil {
		return f, err
	}
	if f.ContentHash, err = r.getUint64(); err != nil {
		return f, err
	}
	if f.LastModified, err = r.getTime(); err != nil {
		return f, err
	}
	if f.Size, err = r.getUint64(); err != nil {
		return f, err
	}
	if f.OwnedPeers, err = r.getPeerIDs(); err != nil {
		return f, err
	}
	if f.ContentLocation, err = r.getLocation(); err != nil {
		return f, err
	}
	return f, nil
}

func (r *reader) getFiles() ([]directory.SharedFile, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	files := make([]directory.SharedFile, 0, n)
	for i := uint32(0); i < n; i++ {
		f, err := r.getFile()
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (r *reader) getSignature() (directory.ShareDirectorySignature, error) {
	var s directory.ShareDirectorySignature
	var err error

	if s.Name, err = r.getString(); err != nil {
		return s, err
	}
	if s.ID, err = r.getUUID(); err != nil {
		return s, err
	}
	if s.LastModified, err = r.getTime(); err != nil {
		return s, err
	}
	if s.SharedPeers, err = r.getPeerIDs(); err != nil {
		return s, err
	}
	return s, nil
}

func (r *reader) getDirectory() (directory.ShareDirectory, error) {
	sig, err := r.getSignature()
	if err != nil {
		return directory.ShareDirectory{}, err
	}
	files, err := r.getFiles()
	if err != nil {
		return directory.ShareDirectory{}, err
	}

	fileMap := make(map[uuid.UUID]directory.SharedFile, len(files))
	for _, f := range files {
		fileMap[f.ID] = f
	}
	return directory.ShareDirectory{Signature: sig, Files: fileMap}, nil
}

func (r *reader) getDirectories() ([]directory.ShareDirectory, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	dirs := make([]directory.ShareDirectory, 0, n)
	for i := uint32(0); i < n; i++ {
		d, err := r.getDirectory()
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}
	return dirs, nil
}
