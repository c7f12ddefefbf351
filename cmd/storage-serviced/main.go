// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 The storage-serviced Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Command storage-serviced is the privileged storage-management daemon
// (spec.md §1-§2): it owns the system-bus name, exports the broker's object
// hierarchy, and runs until terminated.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	flags "github.com/jessevdk/go-flags"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/cosmic-utils/storage-serviced/internal/audit"
	"github.com/cosmic-utils/storage-serviced/internal/authority"
	"github.com/cosmic-utils/storage-serviced/internal/broker"
	"github.com/cosmic-utils/storage-serviced/internal/config"
	"github.com/cosmic-utils/storage-serviced/internal/dirs"
	"github.com/cosmic-utils/storage-serviced/internal/httpapi"
	"github.com/cosmic-utils/storage-serviced/internal/logging"
	"github.com/cosmic-utils/storage-serviced/internal/logical"
	"github.com/cosmic-utils/storage-serviced/internal/luks"
	"github.com/cosmic-utils/storage-serviced/internal/partitionops"
	"github.com/cosmic-utils/storage-serviced/internal/rclone"
	"github.com/cosmic-utils/storage-serviced/internal/toolexec"
	"github.com/cosmic-utils/storage-serviced/internal/udisks"
)

type options struct {
	ConfigPath string `short:"c" long:"config" description:"path to the daemon's YAML config file" default:"/etc/storage-serviced/config.yaml"`
	RootDir    string `long:"root-dir" description:"alternate root for testing; repoints every well-known path" default:""`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.RootDir != "" {
		dirs.SetRootDir(opts.RootDir)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage-serviced: loading config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Level(cfg.LogLevel), os.Stderr)
	log.Info().Str("config", opts.ConfigPath).Msg("starting storage-serviced")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("storage-serviced exited with error")
	}
}

// providerPing adapts udisks.Provider to httpapi.ProviderPinger: a
// GetManagedObjects round trip doubles as the liveness probe for /healthz.
type providerPing struct {
	provider udisks.Provider
}

func (p providerPing) Ping() error {
	_, err := p.provider.ManagedObjects(context.Background())
	return err
}

func run(cfg config.Config, log zerolog.Logger) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connecting to system bus: %w", err)
	}
	defer conn.Close()

	reply, err := conn.RequestName(cfg.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting bus name %s: %w", cfg.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already owned by another process", cfg.BusName)
	}

	if err := os.MkdirAll(cfg.StateDir, 0750); err != nil {
		return fmt.Errorf("creating state directory %s: %w", cfg.StateDir, err)
	}

	auditLog, err := audit.Open(filepath.Join(cfg.StateDir, "audit.db"))
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	runner := toolexec.NewRunner()

	udisksProvider := udisks.NewBusProvider(conn)
	udisksEngine := udisks.NewEngine(udisksProvider)

	partitionsController := partitionops.NewController(partitionops.NewToolBlockProvider(runner))
	luksController := luks.NewController(runner)
	logicalController := logical.NewController(runner)

	rcloneController := rclone.NewController(rclone.NewExecMounter(runner))
	rcloneController.StartWatcher(30 * time.Second)
	defer rcloneController.StopWatcher()

	resolver := authority.NewResolver(conn)
	checker := authority.NewChecker(conn)

	b := broker.New(conn, cfg.ObjectPrefix, log, auditLog, resolver, checker, udisksEngine, partitionsController, luksController, logicalController, rcloneController, runner)
	if err := b.Export(); err != nil {
		return fmt.Errorf("exporting broker objects: %w", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.DebugListen,
		Handler: httpapi.New(providerPing{udisksProvider}, auditLog).Handler(),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("debug HTTP listener stopped")
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("systemd readiness notification failed")
	} else if !sent {
		log.Debug().Msg("not running under systemd; readiness notification skipped")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return nil
}
