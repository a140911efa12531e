package codec

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
)

func samplePeer() peerid.ID {
	return peerid.ID{Hostname: "alice", UUID: uuid.New()}
}

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	payload := Encode(msg)
	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestRoundTripSimpleMessages(t *testing.T) {
	cases := []Message{
		RequestPeerId{},
		Synchronize{},
		ReceivePeerId{PeerID: samplePeer()},
		CancelDownload{DownloadID: uuid.New()},
		ReceiveFileEnd{DownloadID: uuid.New()},
		DownloadError{ErrorCode: ErrFileTooLarge, DownloadID: uuid.New()},
	}

	for _, c := range cases {
		got := roundTrip(t, c)
		if got.Kind() != c.Kind() {
			t.Errorf("kind mismatch: got %v want %v", got.Kind(), c.Kind())
		}
	}
}

func TestRoundTripReceivePeerId(t *testing.T) {
	want := ReceivePeerId{PeerID: samplePeer()}
	got := roundTrip(t, want).(ReceivePeerId)

	if !got.PeerID.Equal(want.PeerID) {
		t.Fatalf("got %+v want %+v", got.PeerID, want.PeerID)
	}
}

func TestRoundTripStartDownload(t *testing.T) {
	want := StartDownload{DownloadID: uuid.New(), FileID: uuid.New(), DirID: uuid.New()}
	got := roundTrip(t, want).(StartDownload)

	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestRoundTripReceiveFilePart(t *testing.T) {
	want := ReceiveFilePart{DownloadID: uuid.New(), Bytes: bytes.Repeat([]byte{0xAB}, ChunkSize)}
	got := roundTrip(t, want).(ReceiveFilePart)

	if got.DownloadID != want.DownloadID {
		t.Fatalf("download id mismatch")
	}
	if !bytes.Equal(got.Bytes, want.Bytes) {
		t.Fatalf("bytes mismatch: got %d bytes want %d", len(got.Bytes), len(want.Bytes))
	}
}

func TestRoundTripDirectoryScrubsLocalPath(t *testing.T) {
	peer := samplePeer()
	fid := uuid.New()
	path := "/home/alice/secret.txt"

	dir := directory.ShareDirectory{
		Signature: directory.ShareDirectorySignature{
			Name: "docs", ID: uuid.New(), LastModified: time.Now(),
			SharedPeers: []peerid.ID{peer},
		},
		Files: map[uuid.UUID]directory.SharedFile{
			fid: {
				Name: "secret.txt", ID: fid, ContentHash: 99,
				LastModified: time.Now(), Size: 1024,
				OwnedPeers:      []peerid.ID{peer},
				ContentLocation: directory.ContentLocation{Kind: directory.LocalPath, Path: path},
			},
		},
	}

	want := SharedDirectory{Directory: dir}
	got := roundTrip(t, want).(SharedDirectory)

	f, ok := got.Directory.Files[fid]
	if !ok {
		t.Fatal("file missing after round trip")
	}
	if f.ContentLocation.Kind != directory.NetworkOnly {
		t.Fatalf("expected NetworkOnly on the wire, got %+v", f.ContentLocation)
	}
	if f.ContentLocation.Path != "" {
		t.Fatalf("expected no path to survive encoding, got %q", f.ContentLocation.Path)
	}
}

func TestDecodeTruncatedNeedsMoreData(t *testing.T) {
	full := Encode(ReceivePeerId{PeerID: samplePeer()})

	for n := 0; n < len(full); n++ {
		if _, err := Decode(full[:n]); err == nil {
			t.Fatalf("expected truncation error at length %d", n)
		}
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	if _, err := Decode([]byte{0xFF}); err == nil {
		t.Fatal("expected unknown-kind error")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	msg := StartDownload{DownloadID: uuid.New(), FileID: uuid.New(), DirID: uuid.New()}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.(StartDownload) != msg {
		t.Fatalf("got %+v want %+v", got, msg)
	}
}

func TestFrameTooLargeRejected(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, MaxFrameSize+1)
	if err := WriteFrame(&buf, oversized); err == nil {
		t.Fatal("expected WriteFrame to reject oversized payload")
	}
}
