package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/forgerunner/forgerunner/internal/infrastructure/config"
	"github.com/forgerunner/forgerunner/internal/infrastructure/database"
	"github.com/forgerunner/forgerunner/internal/publicaddr"
	"github.com/forgerunner/forgerunner/internal/scanner"
	"github.com/forgerunner/forgerunner/internal/shutdown"
	"github.com/forgerunner/forgerunner/internal/tunnel"
	"github.com/forgerunner/forgerunner/internal/worker"
)

// worldGenerationGrace is added to the close deadline on signal shutdown so
// a world being generated can finish before the stop protocol runs.
const worldGenerationGrace = 2 * time.Minute

func workerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Dir:           cfg.Server.Dir,
		Java:          cfg.Server.Java,
		JavaSearchDir: cfg.Server.JavaSearchDir,
		Jar:           cfg.Server.Jar,
		JarPattern:    cfg.Server.JarPattern,
		JVMFlags:      append([]string(nil), cfg.Server.JVMFlags...),
		ServerArgs:    append([]string(nil), cfg.Server.ServerArgs...),
	}
}

func tunnelConfig(cfg *config.Config) tunnel.Config {
	return tunnel.Config{
		Binary:          cfg.Tunnel.Binary,
		SearchPaths:     append([]string(nil), cfg.Tunnel.SearchPaths...),
		Args:            append([]string(nil), cfg.Tunnel.Args...),
		GracefulTimeout: cfg.GetTunnelGracefulTimeout(),
	}
}

func shutdownConfig(cfg *config.Config) shutdown.Config {
	return shutdown.Config{
		StopCommand:  cfg.Session.StopCommand,
		Timeout:      cfg.GetStopTimeout(),
		PollInterval: cfg.GetPollInterval(),
	}
}

// markerTable builds the scanner table. An empty markers section keeps the
// built-in table; a partial one overrides only what it sets.
func markerTable(m config.MarkersConfig) (scanner.Table, error) {
	table := scanner.DefaultTable()

	if len(m.Table) > 0 {
		markers := make([]scanner.Marker, 0, len(m.Table))
		for i, mc := range m.Table {
			event, err := scanner.ParseEvent(mc.Event)
			if err != nil {
				return scanner.Table{}, fmt.Errorf("markers.table[%d]: %w", i, err)
			}
			markers = append(markers, scanner.Marker{Substring: mc.Substring, Event: event})
		}
		table.Markers = markers
	}
	if m.EndpointTrigger != "" {
		table.EndpointTrigger = m.EndpointTrigger
	}
	if len(m.EndpointHints) > 0 {
		table.EndpointHints = append([]string(nil), m.EndpointHints...)
	}

	if err := table.Validate(); err != nil {
		return scanner.Table{}, fmt.Errorf("markers: %w", err)
	}
	return table, nil
}

func addressResolver(cfg *config.Config) *publicaddr.Resolver {
	return publicaddr.NewResolver(
		inServerDir(cfg, cfg.PublicAddress.PropertiesFile),
		cfg.PublicAddress.LookupURL,
		cfg.PublicAddress.DefaultPort,
		cfg.GetLookupTimeout(),
	)
}

func databaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	}
}

func lockPath(cfg *config.Config) string {
	return inServerDir(cfg, cfg.Server.LockFile)
}

// inServerDir resolves relative paths against the server directory.
func inServerDir(cfg *config.Config, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cfg.Server.Dir, path)
}

// closeTimeout bounds the whole close sequence on signal shutdown.
func closeTimeout(cfg *config.Config) time.Duration {
	return cfg.GetStopTimeout() + cfg.GetTunnelGracefulTimeout() + worldGenerationGrace
}
