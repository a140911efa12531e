// Package config holds process-wide configuration for the file-share
// engine: the persisted app settings plus protocol/runtime tunables.
package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/ktu-dev/fileshare/internal/peerid"
)

// ServiceType is the mDNS/DNS-SD service type advertised and browsed for
// peer discovery (spec.md §6).
const ServiceType = "_ktu_fileshare._tcp.local."

// Config carries persisted user settings (PeerID, HideOnClose,
// DownloadDirectory, Theme — spec.md §6) plus runtime tunables for the
// protocol and concurrency model (spec.md §4-5).
type Config struct {
	// ========== Persisted settings (app config JSON, spec.md §6) ==========

	PeerID            peerid.ID
	HideOnClose       bool
	DownloadDirectory string
	Theme             string

	// ========== Wire protocol (spec.md §4.1) ==========

	// MaxFrameSize is the hard cap on a single frame's payload length.
	MaxFrameSize uint32

	// ChunkSize is the producer-side size of a ReceiveFilePart payload.
	ChunkSize int

	// ========== Networking (spec.md §4.5-4.6) ==========

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ListenRetryDelay is how long the Listener sleeps after a bind or
	// accept failure before retrying (spec.md §4.5).
	ListenRetryDelay time.Duration

	// ========== Discovery (spec.md §4.4) ==========

	// DiscoveryReconnectTick is the periodic interval at which the
	// Discovery Adapter re-emits ServiceFound for disconnected entries.
	DiscoveryReconnectTick time.Duration

	// DiscoveryDisconnectThreshold is how long a service must have been
	// disconnected before the reconnect tick re-emits it.
	DiscoveryDisconnectThreshold time.Duration

	// DiscoveryReregisterInterval is the heartbeat at which the local
	// service registration is refreshed (spec.md §6).
	DiscoveryReregisterInterval time.Duration

	// ========== Channel capacities (spec.md §9) ==========

	SupervisorDiscoveryChanCap int
	SupervisorSessionChanCap   int
	UIEventChanCap             int

	// ========== Supervisor periodics ==========

	// PeerIDNudgeInterval re-sends RequestPeerId to sessions whose remote
	// PeerId is still unknown (SPEC_FULL.md §4, from original_source).
	PeerIDNudgeInterval time.Duration

	// ========== Persistence (spec.md §6) ==========

	PersistInterval time.Duration
}

func defaultConfig() Config {
	return Config{
		DownloadDirectory:            defaultDownloadDir(),
		Theme:                        "system",
		MaxFrameSize:                 100 * 1024 * 1024,
		ChunkSize:                    50 * 1024,
		DialTimeout:                  7 * time.Second,
		ReadTimeout:                  30 * time.Second,
		WriteTimeout:                 30 * time.Second,
		ListenRetryDelay:             5 * time.Second,
		DiscoveryReconnectTick:       15 * time.Second,
		DiscoveryDisconnectThreshold: 15 * time.Second,
		DiscoveryReregisterInterval:  120 * time.Second,
		SupervisorDiscoveryChanCap:   64,
		SupervisorSessionChanCap:     16,
		UIEventChanCap:               64,
		PeerIDNudgeInterval:          10 * time.Second,
		PersistInterval:              300 * time.Second,
	}
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if cwd, err := os.Getwd(); err == nil {
			return filepath.Join(cwd, "downloads")
		}
		return "./downloads"
	}

	switch runtime.Environment(context.Background()).Platform {
	case "windows":
		return filepath.Join(home, "Downloads", "fileshare")
	case "darwin":
		return filepath.Join(home, "Downloads", "fileshare")
	default: // linux, bsd, etc.
		return filepath.Join(home, ".local", "share", "fileshare", "downloads")
	}
}
