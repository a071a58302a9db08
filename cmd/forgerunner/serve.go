package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/forgerunner/forgerunner/internal/api"
	"github.com/forgerunner/forgerunner/internal/audit"
	"github.com/forgerunner/forgerunner/internal/console"
	"github.com/forgerunner/forgerunner/internal/infrastructure/config"
	"github.com/forgerunner/forgerunner/internal/infrastructure/database"
	"github.com/forgerunner/forgerunner/internal/infrastructure/influxdb"
	"github.com/forgerunner/forgerunner/internal/infrastructure/logging"
	"github.com/forgerunner/forgerunner/internal/infrastructure/mqtt"
	"github.com/forgerunner/forgerunner/internal/journal"
	"github.com/forgerunner/forgerunner/internal/remote"
	"github.com/forgerunner/forgerunner/internal/session"
	"github.com/forgerunner/forgerunner/internal/shutdown"
	"github.com/forgerunner/forgerunner/internal/store"
	"github.com/forgerunner/forgerunner/internal/worker"
)

// closeRetryInterval spaces close attempts while world generation blocks
// the stop protocol.
const closeRetryInterval = 5 * time.Second

type serveOptions struct {
	*rootOptions
	noConsole bool
	autoStart bool

	// in and out carry the operator console.
	in  io.Reader
	out io.Writer
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor",
		Long: `Run the supervisor until interrupted.

The server is started with :start at the console, through the HTTP API or
over MQTT (or immediately with --start). SIGINT and SIGTERM stop the server
gracefully before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.in = cmd.InOrStdin()
			opts.out = cmd.OutOrStdout()
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.noConsole, "no-console", false, "do not read commands from stdin or echo server output")
	cmd.Flags().BoolVar(&opts.autoStart, "start", false, "start the server immediately")
	return cmd
}

// runServe wires every component and blocks until shutdown.
//
// ctx is cancelled by SIGINT/SIGTERM. The components run on a separate
// context so the server can be stopped gracefully after the signal.
func runServe(ctx context.Context, opts *serveOptions) error {
	log := logging.Default()
	log.Info("starting forgerunner",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := opts.resolveConfigPath()
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	lock, err := worker.AcquireLock(lockPath(cfg))
	if err != nil {
		return fmt.Errorf("locking server directory: %w", err)
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			log.Error("error releasing lock", "error", releaseErr)
		}
	}()
	log.Info("server directory locked", "dir", cfg.Server.Dir, "lock", lock.Path())

	db, err := database.Open(databaseConfig(cfg))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("run journal ready", "path", cfg.Database.Path)
	runs := journal.NewSQLiteRepository(db.DB)

	table, err := markerTable(cfg.Markers)
	if err != nil {
		return err
	}

	sessionOpts := session.Options{
		Worker:         workerConfig(cfg),
		Tunnel:         tunnelConfig(cfg),
		Shutdown:       shutdownConfig(cfg),
		Table:          table,
		Store:          store.NewFileStore(cfg.Store.Path),
		WatchStore:     cfg.Store.Watch,
		Journal:        runs,
		Resolver:       addressResolver(cfg),
		ConsoleHistory: cfg.Session.ConsoleHistory,
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sessionOpts.Metrics = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	ctrl, err := session.New(sessionOpts)
	if ctrl == nil {
		return fmt.Errorf("creating session controller: %w", err)
	}
	if err != nil {
		log.Warn("operator settings unreadable, using defaults", "path", cfg.Store.Path, "error", err)
	}
	ctrl.SetLogger(log.With("component", "session"))

	// Components outlive the signal context until the close sequence is done.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return ctrl.Run(gctx) })

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB))
	recorder.SetLogger(log.With("component", "audit"))
	g.Go(func() error { return recorder.Run(gctx) })

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			cancelRun()
			_ = g.Wait() //nolint:errcheck // the connect error is what matters
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", mqttClient.Topics().Prefix(),
		)

		bridge := remote.New(mqttClient, ctrl, mqttClient.Topics(), mqttClient.QoS())
		bridge.SetLogger(log.With("component", "remote"))
		bridge.SetAudit(recorder)
		ctrl.AddSurface(bridge)
		g.Go(func() error { return bridge.Run(gctx) })
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.With("component", "api"),
			Session:  ctrl,
			Journal:  runs,
			Audit:    recorder,
			Version:  version,
		})
		if apiErr == nil {
			apiErr = srv.Start(gctx)
		}
		if apiErr != nil {
			cancelRun()
			_ = g.Wait() //nolint:errcheck // the API error is what matters
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		ctrl.AddSurface(srv.Hub())
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	quit := make(chan struct{}, 1)
	requestQuit := func() {
		select {
		case quit <- struct{}{}:
		default:
		}
	}

	if !opts.noConsole {
		term := console.NewTerminal(opts.out)
		ctrl.AddSurface(term)
		prompt := console.NewPrompt(ctrl, term, requestQuit)
		prompt.SetAudit(recorder)
		g.Go(func() error { return prompt.Run(gctx, opts.in) })
	}

	if opts.autoStart {
		go func() {
			if startErr := ctrl.Start(gctx); startErr != nil {
				log.Error("automatic start failed", "error", startErr)
			}
		}()
	}

	log.Info("initialisation complete")

	closeErr := waitForShutdown(ctx, gctx, quit, ctrl, cfg, log)

	cancelRun()
	if err := g.Wait(); err != nil {
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("closing session: %w", closeErr)
	}

	log.Info("forgerunner stopped")
	return nil
}

// sessionCloser is the part of the controller the shutdown path needs.
type sessionCloser interface {
	CloseRequested(ctx context.Context) error
}

// waitForShutdown blocks until a signal, :quit or a failed component, then
// runs the close sequence. A :quit refused because the world is being
// generated leaves the supervisor running. A signal waits for the world
// instead, bounded by closeTimeout.
func waitForShutdown(ctx, gctx context.Context, quit <-chan struct{}, ctrl sessionCloser, cfg *config.Config, log *logging.Logger) error {
	for {
		select {
		case <-quit:
			log.Info("quit requested")
			closeCtx, cancel := context.WithTimeout(gctx, closeTimeout(cfg))
			err := ctrl.CloseRequested(closeCtx)
			cancel()
			if errors.Is(err, shutdown.ErrUnsafeWindow) {
				continue
			}
			return err

		case <-ctx.Done():
			log.Info("shutdown signal received, stopping server")
			closeCtx, cancel := context.WithTimeout(gctx, closeTimeout(cfg))
			err := closeSession(closeCtx, ctrl, closeRetryInterval, log)
			cancel()
			return err

		case <-gctx.Done():
			log.Warn("component stopped, shutting down")
			return nil
		}
	}
}

// closeSession repeats CloseRequested while it is refused for world
// generation.
func closeSession(ctx context.Context, ctrl sessionCloser, retry time.Duration, log *logging.Logger) error {
	for {
		err := ctrl.CloseRequested(ctx)
		if !errors.Is(err, shutdown.ErrUnsafeWindow) {
			return err
		}
		log.Warn("world generation in progress, waiting to stop the server", "retry", retry)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}
