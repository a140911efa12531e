// Package peerid defines the stable identity of a host participating in the
// file-share mesh: a (hostname, uuid-v4) pair generated once per install and
// persisted thereafter.
package peerid

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ID is a stable identity for a host: a hostname paired with a uuid-v4
// generated once at first launch. Equality and the canonical text form both
// depend on both fields.
type ID struct {
	Hostname string
	UUID     uuid.UUID
}

// New generates a fresh ID using the local hostname and a random uuid-v4.
// Callers persist the result so the same ID is reused across restarts.
func New() (ID, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return ID{}, fmt.Errorf("peerid: resolve hostname: %w", err)
	}

	return ID{Hostname: hostname, UUID: uuid.New()}, nil
}

// String renders the canonical textual form "<hostname>;<uuid>", also used
// as the mDNS service instance name.
func (id ID) String() string {
	return id.Hostname + ";" + id.UUID.String()
}

// Equal reports whether two IDs refer to the same peer.
func (id ID) Equal(other ID) bool {
	return id.Hostname == other.Hostname && id.UUID == other.UUID
}

// IsZero reports whether id is the zero value (no identity assigned yet).
func (id ID) IsZero() bool {
	return id.Hostname == "" && id.UUID == uuid.Nil
}

// Parse parses the canonical "<hostname>;<uuid>" textual form produced by
// String, as used for the mDNS service instance name.
func Parse(s string) (ID, error) {
	hostname, uuidPart, ok := strings.Cut(s, ";")
	if !ok {
		return ID{}, fmt.Errorf("peerid: malformed id %q: missing separator", s)
	}

	u, err := uuid.Parse(uuidPart)
	if err != nil {
		return ID{}, fmt.Errorf("peerid: malformed id %q: %w", s, err)
	}

	return ID{Hostname: hostname, UUID: u}, nil
}
