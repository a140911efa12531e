package session

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ktu-dev/fileshare/internal/codec"
	"github.com/ktu-dev/fileshare/internal/directory"
)

// downloadHandle is a transient per-transfer record on the downloader
// side (spec.md §3 DownloadHandle).
type downloadHandle struct {
	downloadID uuid.UUID
	dirID      uuid.UUID
	fileID     uuid.UUID
	bytesTotal uint64
	bytesDone  uint64
	dest       *os.File
	destPath   string
	canceled   atomic.Bool
}

func (h *downloadHandle) abort() {
	if h.dest != nil {
		h.dest.Close()
	}
	os.Remove(h.destPath)
}

// uploadHandle is a transient per-transfer record on the source side
// (spec.md §3 UploadHandle).
type uploadHandle struct {
	downloadID uuid.UUID
	src        *os.File
	srcPath    string
	canceled   atomic.Bool
}

func (h *uploadHandle) abort() {
	if h.src != nil {
		h.src.Close()
	}
}

// beginDownload opens the destination file and registers a download
// handle, then sends StartDownload to the owning peer (spec.md §4.6.3
// downloader state machine: Idle -> Requested -> Streaming).
func (s *Session) beginDownload(ctx context.Context, c StartDownloadCmd) error {
	if err := os.MkdirAll(filepath.Dir(c.DestPath), 0o755); err != nil {
		s.emit(ctx, DownloadCanceled{DownloadID: c.DownloadID, Reason: codec.ErrWriteError.String()})
		return nil
	}

	f, err := os.Create(c.DestPath)
	if err != nil {
		s.emit(ctx, DownloadCanceled{DownloadID: c.DownloadID, Reason: codec.ErrWriteError.String()})
		return nil
	}

	s.mu.Lock()
	s.downloads[c.DownloadID] = &downloadHandle{
		downloadID: c.DownloadID,
		dirID:      c.DirID,
		fileID:     c.FileID,
		bytesTotal: c.BytesTotal,
		dest:       f,
		destPath:   c.DestPath,
	}
	s.mu.Unlock()

	return s.send(ctx, codec.StartDownload{DownloadID: c.DownloadID, FileID: c.FileID, DirID: c.DirID})
}

// cancelDownload is the user-initiated cancel path: drop the handle from
// the table, unlink the partial file, and notify the peer (spec.md §4.6.3
// "CancelDownload (in) -> Canceled").
func (s *Session) cancelDownload(ctx context.Context, downloadID uuid.UUID) {
	s.mu.Lock()
	h, ok := s.downloads[downloadID]
	if ok {
		delete(s.downloads, downloadID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	h.abort()
	_ = s.send(ctx, codec.CancelDownload{DownloadID: downloadID})
	s.emit(ctx, DownloadCanceled{DownloadID: downloadID, Reason: "canceled"})
}

// handleFilePart writes one chunk to the destination and reports progress
// (spec.md §4.6.3).
func (s *Session) handleFilePart(ctx context.Context, m codec.ReceiveFilePart) {
	s.mu.Lock()
	h, ok := s.downloads[m.DownloadID]
	s.mu.Unlock()
	if !ok || h.canceled.Load() {
		return
	}

	if _, err := h.dest.Write(m.Bytes); err != nil {
		s.failDownload(ctx, m.DownloadID, codec.ErrWriteError)
		return
	}
	h.bytesDone += uint64(len(m.Bytes))

	percent := 0
	if h.bytesTotal > 0 {
		percent = int(math.Round(float64(h.bytesDone) / float64(h.bytesTotal) * 100))
	}
	if percent > 100 {
		s.failDownload(ctx, m.DownloadID, codec.ErrFileTooLarge)
		return
	}

	s.emit(ctx, DownloadUpdate{DownloadID: m.DownloadID, Percent: percent})
}

// handleFileEnd completes a download: the local peer becomes an owner of
// the file (spec.md §4.6.3 "Completing").
func (s *Session) handleFileEnd(ctx context.Context, downloadID uuid.UUID) {
	s.mu.Lock()
	h, ok := s.downloads[downloadID]
	if ok {
		delete(s.downloads, downloadID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	h.dest.Close()
	path := h.destPath
	s.store.MutateDir(h.dirID, func(d *directory.ShareDirectory) {
		d.AddOwner(s.self, time.Now(), []uuid.UUID{h.fileID}, &path)
	})

	s.emit(ctx, FinishedDownload{DownloadID: downloadID, DirID: h.dirID, FileID: h.fileID})
}

// handleDownloadError tears down a failed download on the downloader side
// (spec.md §7: downloader closes destination, unlinks, emits
// DownloadCanceled).
func (s *Session) handleDownloadError(ctx context.Context, m codec.DownloadError) {
	s.failDownload(ctx, m.DownloadID, m.ErrorCode)
}

func (s *Session) failDownload(ctx context.Context, downloadID uuid.UUID, code codec.ErrorCode) {
	s.mu.Lock()
	h, ok := s.downloads[downloadID]
	if ok {
		delete(s.downloads, downloadID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	h.abort()
	s.emit(ctx, DownloadCanceled{DownloadID: downloadID, Reason: code.String()})
}

// startUpload handles an inbound StartDownload: open the local copy (or
// reply with a DownloadError) and register an upload handle
// (spec.md §4.6.3 source-side state machine).
func (s *Session) startUpload(ctx context.Context, m codec.StartDownload) {
	path, ok := s.store.GetFilepath(m.DirID, m.FileID)
	if !ok {
		_ = s.send(ctx, codec.DownloadError{ErrorCode: codec.ErrFileNotOwned, DownloadID: m.DownloadID})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		_ = s.send(ctx, codec.DownloadError{ErrorCode: codec.ErrFileMissing, DownloadID: m.DownloadID})
		return
	}

	s.mu.Lock()
	s.uploads[m.DownloadID] = &uploadHandle{downloadID: m.DownloadID, src: f, srcPath: path}
	s.mu.Unlock()
}

// cancelUpload marks an upload canceled; the pump observes the flag on its
// next step and exits with DownloadError(Canceled) (spec.md §4.6.3).
func (s *Session) cancelUpload(downloadID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.uploads[downloadID]; ok {
		h.canceled.Store(true)
	}
}

func (s *Session) isUploading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads) > 0
}

// uploadStep performs exactly one read-then-send step of one active
// upload, then returns — it must not monopolize the session (spec.md §5:
// "performs one 50-KiB read-then-send per poll, then yields").
func (s *Session) uploadStep(ctx context.Context) {
	s.mu.Lock()
	var h *uploadHandle
	for _, candidate := range s.uploads {
		h = candidate
		break
	}
	s.mu.Unlock()
	if h == nil {
		return
	}

	if h.canceled.Load() {
		s.finishUpload(ctx, h, codec.ErrCanceled)
		return
	}

	buf := make([]byte, s.cfg.ChunkSize)
	n, err := h.src.Read(buf)
	if n > 0 {
		if sendErr := s.send(ctx, codec.ReceiveFilePart{DownloadID: h.downloadID, Bytes: buf[:n]}); sendErr != nil {
			s.finishUpload(ctx, h, codec.ErrDisconnected)
			return
		}
	}

	switch {
	case err == io.EOF || n == 0:
		h.src.Close()
		_ = s.send(ctx, codec.ReceiveFileEnd{DownloadID: h.downloadID})
		s.removeUpload(h.downloadID)
	case err != nil:
		s.finishUpload(ctx, h, codec.ErrReadError)
	}
}

func (s *Session) finishUpload(ctx context.Context, h *uploadHandle, code codec.ErrorCode) {
	h.abort()
	s.removeUpload(h.downloadID)
	_ = s.send(ctx, codec.DownloadError{ErrorCode: code, DownloadID: h.downloadID})
}

func (s *Session) removeUpload(downloadID uuid.UUID) {
	s.mu.Lock()
	delete(s.uploads, downloadID)
	s.mu.Unlock()
}
