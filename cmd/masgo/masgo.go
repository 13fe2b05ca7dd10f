package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"masgo.app/masgo/internal/api"
	"masgo.app/masgo/internal/bridge"
	"masgo.app/masgo/internal/directory"
	"masgo.app/masgo/internal/discovery"
	"masgo.app/masgo/internal/identity"
	"masgo.app/masgo/internal/interactive"
	"masgo.app/masgo/internal/playback"
	"masgo.app/masgo/internal/selection"
	"masgo.app/masgo/internal/settings"
)

var (
	//go:embed version.txt
	version string

	serverArg      = flag.String("s", "", "Music Assistant server URL. When empty, the server is discovered via mDNS.")
	nameArg        = flag.String("name", "", "Display name to register this device under.")
	interactivePtr = flag.Bool("i", false, "Start the interactive now-playing screen.")
	debugPtr       = flag.Bool("debug", false, "Write debug logs to stderr.")
	versionPtr     = flag.Bool("version", false, "Print version.")

	errBadServerURL = errors.New("invalid server URL")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Encountered error(s): %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	exitCTX, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flag.Parse()

	if *versionPtr {
		fmt.Printf("masgo Version: %s\n", version)
		return nil
	}

	logOutput := io.Discard
	if *debugPtr && !*interactivePtr {
		logOutput = os.Stderr
	}

	store := &settings.Store{}
	if _, err := store.Load(); err != nil {
		return err
	}

	if *nameArg != "" {
		if err := store.SetPlayerName(*nameArg); err != nil {
			return err
		}
	}

	baseURL, err := resolveServerURL(exitCTX, store)
	if err != nil {
		return err
	}

	client := api.NewClient(baseURL)
	client.LogOutput = logOutput

	backend := &playback.BeepBackend{}
	engine := &playback.Engine{
		Backend:   backend,
		Notifier:  playback.NoopNotifier{},
		LogOutput: logOutput,
	}

	ident := &identity.Manager{
		Store:     store,
		Players:   client,
		LogOutput: logOutput,
	}

	dir := &directory.Cache{
		Client:    client,
		LogOutput: logOutput,
	}

	ctrl := &selection.Controller{
		Directory: dir,
		Server:    client,
		Store:     store,
		LogOutput: logOutput,
	}
	defer ctrl.Close()

	registrar := &bridge.Registrar{
		Client:     client,
		PlayerName: store.PlayerName(),
	}

	br := &bridge.Bridge{
		Client:    client,
		Engine:    engine,
		Tracks:    ctrl,
		BaseURL:   baseURL,
		LogOutput: logOutput,
	}

	var (
		startLoops sync.Once
		playerID   string
	)

	onConnect := func(ctx context.Context) error {
		if playerID == "" {
			id, err := ident.Establish(ctx, store.OwnerName())
			if err != nil {
				return err
			}
			playerID = id
			dir.OwnPlayerID = id
			ctrl.OwnPlayerID = id
			registrar.PlayerID = id
			br.PlayerID = id
		}

		// A reconnect lands on a new session; the old registration
		// does not carry over.
		registrar.Reset()
		if err := registrar.Ensure(ctx); err != nil {
			return err
		}

		startLoops.Do(func() {
			events, _ := client.Subscribe()
			go br.Run(exitCTX, events)
			go br.RunReporter(exitCTX)
			go refreshLoop(exitCTX, ctrl)
		})

		br.SetPowered(true)
		br.ReportState(ctx)

		dir.Invalidate()
		if _, err := ctrl.RefreshDirectory(ctx, true); err != nil {
			return err
		}

		return nil
	}

	go client.Run(exitCTX, onConnect)

	if *interactivePtr {
		scr, err := interactive.InitTcellNewScreen()
		if err != nil {
			return err
		}
		scr.Session = ctrl
		scr.Transport = client
		scr.WebURL = baseURL
		ctrl.OnChange = scr.Redraw

		if err := scr.InterInit(exitCTX); err != nil {
			return err
		}
		cancel()
	} else {
		<-exitCTX.Done()
	}

	shutdownCTX, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()

	br.SetPowered(false)
	br.ReportState(shutdownCTX)
	_ = engine.Stop()
	_ = client.Close()

	return nil
}

// resolveServerURL picks the server, in order: the -s flag, the
// persisted URL from the last run, then mDNS discovery. A discovered
// or flag-passed URL is persisted for the next start.
func resolveServerURL(ctx context.Context, store *settings.Store) (string, error) {
	if *serverArg != "" {
		u, err := url.ParseRequestURI(*serverArg)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("resolveServerURL: %w: %s", errBadServerURL, *serverArg)
		}

		if err := store.SetServerURL(*serverArg); err != nil {
			return "", err
		}
		return *serverArg, nil
	}

	if saved := store.ServerURL(); saved != "" {
		return saved, nil
	}

	fmt.Println("No server configured, searching the local network..")
	srv, err := discovery.WaitForServer(ctx)
	if err != nil {
		return "", fmt.Errorf("resolveServerURL discovery error: %w", err)
	}

	fmt.Printf("Found server %q at %s\n", srv.Name, srv.BaseURL)
	if err := store.SetServerURL(srv.BaseURL); err != nil {
		return "", err
	}
	return srv.BaseURL, nil
}

// refreshLoop keeps the player directory current. The cache enforces
// its own TTL, so most iterations are free.
func refreshLoop(ctx context.Context, ctrl *selection.Controller) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rctx, rcancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = ctrl.RefreshDirectory(rctx, false)
			rcancel()
		}
	}
}
