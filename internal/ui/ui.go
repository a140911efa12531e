// Package ui is the Wails-bound façade between the JS frontend and the
// Supervisor (spec.md §4.8). It exposes four request verbs (open_file,
// get_settings, save_settings, network_command) plus a directory-picker
// helper, and relays Supervisor UIEvents to the frontend as named Wails
// runtime events.
package ui

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/ktu-dev/fileshare/internal/config"
	"github.com/ktu-dev/fileshare/internal/supervisor"
)

// Client is bound to the Wails frontend as the sole JS-callable object.
type Client struct {
	log      *slog.Logger
	ctx      context.Context
	commands chan<- supervisor.Command
	events   <-chan supervisor.UIEvent
}

// NewClient wires the Client to the Supervisor's command intake and UI
// event-out channel.
func NewClient(log *slog.Logger, commands chan<- supervisor.Command, events <-chan supervisor.UIEvent) *Client {
	return &Client{
		log:      log,
		ctx:      context.Background(),
		commands: commands,
		events:   events,
	}
}

// Startup is called by the Wails runtime once the frontend is ready. It
// captures the bound context and starts the event relay pump.
func (c *Client) Startup(ctx context.Context) {
	c.ctx = ctx
	go c.pumpEvents()
}

// pumpEvents relays every Supervisor UIEvent to the frontend under its own
// event name (spec.md §6 "Events (Core → UI)") until the channel closes.
func (c *Client) pumpEvents() {
	for ev := range c.events {
		switch e := ev.(type) {
		case supervisor.UpdateDirectory:
			runtime.EventsEmit(c.ctx, "UpdateDirectory", e)
		case supervisor.UpdateShareDirectories:
			runtime.EventsEmit(c.ctx, "UpdateShareDirectories", e)
		case supervisor.GetPeersEvent:
			runtime.EventsEmit(c.ctx, "GetPeers", e)
		case supervisor.NewShareDirectory:
			runtime.EventsEmit(c.ctx, "NewShareDirectory", e)
		case supervisor.Error:
			runtime.EventsEmit(c.ctx, "Error", e)
		case supervisor.DownloadStarted:
			runtime.EventsEmit(c.ctx, "DownloadStarted", e)
		case supervisor.DownloadUpdate:
			runtime.EventsEmit(c.ctx, "DownloadUpdate", e)
		case supervisor.DownloadCanceled:
			runtime.EventsEmit(c.ctx, "DownloadCanceled", e)
		default:
			c.log.Warn("ui: unhandled UIEvent type", "type", e)
		}
	}
}

// OpenFile prompts the user for one or more files to add to a share
// directory (the "open_file" verb).
func (c *Client) OpenFile() ([]string, error) {
	paths, err := runtime.OpenMultipleFilesDialog(c.ctx, runtime.OpenDialogOptions{
		Title: "Select files to share",
	})
	if err != nil {
		c.log.Error("ui: open file dialog failed", "error", err)
		return nil, err
	}
	return paths, nil
}

// SelectDownloadDirectory prompts the user for a download directory.
// Retained from the bound directory-picker the frontend already expects;
// settings persistence of the choice goes through SaveSettings.
func (c *Client) SelectDownloadDirectory() (string, error) {
	path, err := runtime.OpenDirectoryDialog(c.ctx, runtime.OpenDialogOptions{
		Title: "Select Download Directory",
	})
	if err != nil {
		c.log.Error("ui: open directory dialog failed", "error", err)
		return "", err
	}
	return path, nil
}

// Settings is the subset of Config the frontend may read and write (the
// "get_settings"/"save_settings" verbs, spec.md §6 app config shape).
type Settings struct {
	HideOnClose       bool
	DownloadDirectory string
	Theme             string
}

// GetSettings returns the current persisted settings ("get_settings").
func (c *Client) GetSettings() Settings {
	cfg := config.Load()
	return Settings{
		HideOnClose:       cfg.HideOnClose,
		DownloadDirectory: cfg.DownloadDirectory,
		Theme:             cfg.Theme,
	}
}

// SaveSettings applies a settings change from the frontend
// ("save_settings"). Persisting the updated config to disk is the
// periodic saver's job, not this call's.
func (c *Client) SaveSettings(s Settings) {
	config.Update(func(cfg *config.Config) {
		cfg.HideOnClose = s.HideOnClose
		cfg.DownloadDirectory = s.DownloadDirectory
		cfg.Theme = s.Theme
	})
}

// NetworkCommand decodes a named payload into the matching
// supervisor.Command and forwards it onto the Supervisor's command
// channel (the "network_command" verb, spec.md §4.7.2's fan-out table).
func (c *Client) NetworkCommand(name string, payload json.RawMessage) error {
	cmd, err := decodeCommand(name, payload)
	if err != nil {
		c.log.Error("ui: bad network command", "name", name, "error", err)
		return err
	}

	select {
	case c.commands <- cmd:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func decodeCommand(name string, payload json.RawMessage) (supervisor.Command, error) {
	var cmd supervisor.Command
	switch name {
	case "CreateShareDirectory":
		cmd = &supervisor.CreateShareDirectory{}
	case "GetAllShareDirectoryData":
		cmd = &supervisor.GetAllShareDirectoryData{}
	case "GetPeers":
		cmd = &supervisor.GetPeers{}
	case "AddFiles":
		cmd = &supervisor.AddFiles{}
	case "ShareDirectoryToPeers":
		cmd = &supervisor.ShareDirectoryToPeers{}
	case "DeleteFile":
		cmd = &supervisor.DeleteFile{}
	case "DownloadFile":
		cmd = &supervisor.DownloadFile{}
	case "CancelDownload":
		cmd = &supervisor.CancelDownload{}
	case "LeaveDirectory":
		cmd = &supervisor.LeaveDirectory{}
	default:
		return nil, errors.Errorf("unknown network command %q", name)
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, cmd); err != nil {
			return nil, errors.Wrapf(err, "decode %s payload", name)
		}
	}
	return derefCommand(cmd), nil
}

// derefCommand unwraps the pointer decodeCommand unmarshals into, since
// Command values are passed by value everywhere else (the type switch in
// Supervisor.handleCommand matches on the value types).
func derefCommand(cmd supervisor.Command) supervisor.Command {
	switch c := cmd.(type) {
	case *supervisor.CreateShareDirectory:
		return *c
	case *supervisor.GetAllShareDirectoryData:
		return *c
	case *supervisor.GetPeers:
		return *c
	case *supervisor.AddFiles:
		return *c
	case *supervisor.ShareDirectoryToPeers:
		return *c
	case *supervisor.DeleteFile:
		return *c
	case *supervisor.DownloadFile:
		return *c
	case *supervisor.CancelDownload:
		return *c
	case *supervisor.LeaveDirectory:
		return *c
	default:
		return cmd
	}
}
