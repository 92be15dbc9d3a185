package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/assignment"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/housekeeping"
	"github.com/zulandar/junction/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		flags   configFlags
		port    int
		migrate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Junction API server",
		Long: `Starts the HTTP API with websocket and server-sent event streams,
together with the presence sweep, presence snapshot and pending-request
drain jobs. Presence from the last snapshot is restored on start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, &flags, port, migrate)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "migrate tables before serving")
	return cmd
}

func runServe(cmd *cobra.Command, flags *configFlags, port int, migrate bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := flags.connect()
	if err != nil {
		return err
	}
	if migrate {
		if err := db.AutoMigrate(gormDB); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	resolver, closeResolver, err := buildResolver(ctx, cfg.Profiles)
	if err != nil {
		return err
	}
	defer closeResolver()

	var notifier assignment.Notifier
	support, err := buildNotifier(ctx, cfg.Notify, out)
	if err != nil {
		return err
	}
	if support != nil {
		defer support.Close()
		notifier = support
	}

	svc, dispatcher, err := newService(serviceOpts{cfg: cfg, db: gormDB, resolver: resolver, notifier: notifier})
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	restored, err := svc.RestorePresence(ctx)
	if err != nil {
		return fmt.Errorf("restore presence: %w", err)
	}
	fmt.Fprintf(out, "Restored presence for %d users\n", restored)

	jobs, err := housekeeping.New(housekeeping.Opts{
		Chat: svc,
		Schedules: housekeeping.Schedules{
			Sweep:    cfg.Presence.SweepSchedule,
			Snapshot: cfg.Presence.SnapshotSchedule,
			Drain:    cfg.Assignment.DrainSchedule,
		},
	})
	if err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	return server.Start(ctx, server.StartOpts{
		Chat:          svc,
		Port:          cfg.Server.Port,
		SessionBuffer: cfg.Server.SessionBuffer,
		Out:           out,
	})
}
