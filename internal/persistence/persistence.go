// Package persistence loads and saves the two on-disk JSON documents the
// engine survives a restart with: the app config and the directory cache
// (spec.md §6). It performs no merging or validation beyond what
// encoding/json gives for free — that is the Directory Store's job.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ktu-dev/fileshare/internal/config"
	"github.com/ktu-dev/fileshare/internal/directory"
	"github.com/ktu-dev/fileshare/internal/peerid"
)

const (
	appConfigFile  = "config.json"
	directoryCache = "directories.json"
)

// Paths resolves the two on-disk document locations under a single
// per-user app data directory.
type Paths struct {
	Dir string
}

// DefaultPaths returns the app data directory ~/.local/share/fileshare on
// every platform (the parent of config.defaultDownloadDir's linux
// default); there is no per-platform split here.
func DefaultPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, errors.Wrap(err, "persistence: resolve home dir")
	}
	return Paths{Dir: filepath.Join(home, ".local", "share", "fileshare")}, nil
}

func (p Paths) configPath() string    { return filepath.Join(p.Dir, appConfigFile) }
func (p Paths) directoryPath() string { return filepath.Join(p.Dir, directoryCache) }

// appConfigDoc is the on-disk shape of the app config file (spec.md §6):
// peer_id, hide_on_close, download_directory, theme.
type appConfigDoc struct {
	PeerID            peerIDDoc `json:"peer_id"`
	HideOnClose       bool      `json:"hide_on_close"`
	DownloadDirectory string    `json:"download_directory"`
	Theme             string    `json:"theme"`
}

type peerIDDoc struct {
	Hostname string `json:"hostname"`
	UUID     string `json:"uuid"`
}

// LoadConfig reads the app config document, if present, and applies it
// onto the process-wide config.Config global via config.Update. A missing
// file is not an error: the caller is expected to have already called
// config.Init for the defaults.
func LoadConfig(p Paths) error {
	data, err := os.ReadFile(p.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "persistence: read app config")
	}

	var doc appConfigDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "persistence: decode app config")
	}

	id, err := peerIDFromDoc(doc.PeerID)
	if err != nil {
		return err
	}

	config.Update(func(cfg *config.Config) {
		cfg.PeerID = id
		cfg.HideOnClose = doc.HideOnClose
		cfg.DownloadDirectory = doc.DownloadDirectory
		cfg.Theme = doc.Theme
	})
	return nil
}

// SaveConfig writes the current process-wide config as the app config
// document, creating the app data directory if necessary.
func SaveConfig(p Paths) error {
	cfg := config.Load()
	doc := appConfigDoc{
		PeerID: peerIDDoc{
			Hostname: cfg.PeerID.Hostname,
			UUID:     cfg.PeerID.UUID.String(),
		},
		HideOnClose:       cfg.HideOnClose,
		DownloadDirectory: cfg.DownloadDirectory,
		Theme:             cfg.Theme,
	}
	return writeJSON(p, p.configPath(), doc)
}

// LoadDirectories reads the directory cache document (keyed by directory
// id), if present, and returns its entries as a slice in no particular
// order. Files with no local copy are
// cached with ContentLocation zero-valued (NetworkOnly), matching what the
// wire protocol transmits.
func LoadDirectories(p Paths) ([]directory.ShareDirectory, error) {
	data, err := os.ReadFile(p.directoryPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "persistence: read directory cache")
	}

	var doc map[string]directory.ShareDirectory
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "persistence: decode directory cache")
	}

	out := make([]directory.ShareDirectory, 0, len(doc))
	for _, d := range doc {
		out = append(out, d)
	}
	return out, nil
}

// SaveDirectories writes dirs as the directory cache document, keyed by
// directory id (spec.md §6).
func SaveDirectories(p Paths, dirs []directory.ShareDirectory) error {
	doc := make(map[string]directory.ShareDirectory, len(dirs))
	for _, d := range dirs {
		doc[d.Signature.ID.String()] = d
	}
	return writeJSON(p, p.directoryPath(), doc)
}

func writeJSON(p Paths, path string, v any) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return errors.Wrapf(err, "persistence: create app data dir %s", p.Dir)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "persistence: encode")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "persistence: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "persistence: rename %s", tmp)
	}
	return nil
}

func peerIDFromDoc(doc peerIDDoc) (peerid.ID, error) {
	if doc.Hostname == "" && doc.UUID == "" {
		return peerid.ID{}, nil
	}
	u, err := uuid.Parse(doc.UUID)
	if err != nil {
		return peerid.ID{}, errors.Wrapf(err, "persistence: decode peer_id %q", doc.UUID)
	}
	return peerid.ID{Hostname: doc.Hostname, UUID: u}, nil
}
