// Command fileshare is the Bootstrap task of spec.md §4.9: it loads
// persisted state, wires the Listener, Discovery Adapter, and Supervisor
// together, starts the periodic persistence saver, and hands the UI
// Adapter to Wails.
package main

import (
	"context"
	"embed"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"github.com/ktu-dev/fileshare/internal/config"
	"github.com/ktu-dev/fileshare/internal/discovery"
	"github.com/ktu-dev/fileshare/internal/listener"
	"github.com/ktu-dev/fileshare/internal/logging"
	"github.com/ktu-dev/fileshare/internal/peerid"
	"github.com/ktu-dev/fileshare/internal/persistence"
	"github.com/ktu-dev/fileshare/internal/store"
	"github.com/ktu-dev/fileshare/internal/supervisor"
	"github.com/ktu-dev/fileshare/internal/ui"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	setupLogger()
	config.Init()

	paths, err := persistence.DefaultPaths()
	if err != nil {
		slog.Error("resolve app data dir", "error", err)
		os.Exit(1)
	}
	if err := persistence.LoadConfig(paths); err != nil {
		slog.Error("load app config", "error", err)
		os.Exit(1)
	}
	if err := ensurePeerID(); err != nil {
		slog.Error("establish peer id", "error", err)
		os.Exit(1)
	}
	cfg := config.Load()

	st := store.New()
	dirs, err := persistence.LoadDirectories(paths)
	if err != nil {
		slog.Error("load directory cache", "error", err)
		os.Exit(1)
	}
	for _, d := range dirs {
		st.AddDirectory(d)
	}

	ctx, cancel := context.WithCancel(context.Background())

	disc := discovery.New(
		cfg.PeerID.String(), config.ServiceType,
		cfg.DiscoveryReconnectTick, cfg.DiscoveryDisconnectThreshold, cfg.DiscoveryReregisterInterval,
		cfg.SupervisorDiscoveryChanCap, slog.Default(),
	)
	lst := listener.New(cfg.ListenRetryDelay, disc.SwitchedNetwork, slog.Default())

	commands := make(chan supervisor.Command, cfg.SupervisorSessionChanCap)
	uiEvents := make(chan supervisor.UIEvent, cfg.UIEventChanCap)

	sup := supervisor.New(supervisor.Opts{
		Log:       slog.Default(),
		Cfg:       cfg,
		Store:     st,
		Self:      cfg.PeerID,
		Discovery: disc,
		Listener:  lst,
		Commands:  commands,
		UIEvents:  uiEvents,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disc.Run(gctx) })
	g.Go(func() error { return lst.Run(gctx) })
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return persistSaverLoop(gctx, paths, cfg.PersistInterval, st) })

	client := ui.NewClient(slog.Default(), commands, uiEvents)

	err = wails.Run(&options.App{
		Title:       "Fileshare - LAN peer-to-peer file sharing",
		Width:       1024,
		Height:      768,
		AssetServer: &assetserver.Options{Assets: assets},
		OnStartup:   func(c context.Context) { client.Startup(c) },
		OnShutdown: func(context.Context) {
			persistNow(paths, st)
			cancel()
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		Bind:             []any{client},
	})
	if err != nil {
		slog.Error("wails run", "error", err)
		cancel()
		os.Exit(1)
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		slog.Error("background task failed", "error", err)
	}
}

// ensurePeerID assigns a fresh peerid.ID on first launch; afterward it is
// loaded from the persisted app config (spec.md §6).
func ensurePeerID() error {
	if !config.Load().PeerID.IsZero() {
		return nil
	}
	id, err := peerid.New()
	if err != nil {
		return err
	}
	config.Update(func(cfg *config.Config) { cfg.PeerID = id })
	return nil
}

// persistSaverLoop saves both documents on PersistInterval until ctx is
// canceled (spec.md §6).
func persistSaverLoop(ctx context.Context, p persistence.Paths, interval time.Duration, st *store.Store) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			persistNow(p, st)
		}
	}
}

func persistNow(p persistence.Paths, st *store.Store) {
	if err := persistence.SaveConfig(p); err != nil {
		slog.Error("save app config", "error", err)
	}
	if err := persistence.SaveDirectories(p, st.GetDirectories()); err != nil {
		slog.Error("save directory cache", "error", err)
	}
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo
	opts.SlogOpts.AddSource = false

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	l := slog.New(h)
	slog.SetDefault(l)
}
