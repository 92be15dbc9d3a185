package main

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigCheck(cmd, &flags, time.Now())
		},
	}

	flags.register(cmd)
	return cmd
}

func runConfigCheck(cmd *cobra.Command, flags *configFlags, now time.Time) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config %s is valid\n\n", flags.configPath)

	d := cfg.Database
	if d.Driver == config.DriverSQLite {
		fmt.Fprintf(out, "database:   sqlite %s (timeout %s)\n", d.Path, d.Timeout)
	} else {
		fmt.Fprintf(out, "database:   %s %s@%s:%d/%s (timeout %s)\n", d.Driver, d.User, d.Host, d.Port, d.Name, d.Timeout)
	}
	fmt.Fprintf(out, "server:     port %d, %d shards, session buffer %d\n", cfg.Server.Port, cfg.Server.Shards, cfg.Server.SessionBuffer)
	fmt.Fprintf(out, "presence:   away after %s, offline after %s\n", cfg.Presence.AwayAfter, cfg.Presence.OfflineAfter)
	fmt.Fprintf(out, "assignment: %s\n", cfg.Assignment.Policy)

	switch {
	case cfg.Profiles.DirectoryURL == "":
		fmt.Fprintln(out, "profiles:   anonymous (no directory configured)")
	case cfg.Profiles.RedisURL != "":
		fmt.Fprintf(out, "profiles:   %s, redis cache %s\n", cfg.Profiles.DirectoryURL, cfg.Profiles.CacheTTL)
	default:
		fmt.Fprintf(out, "profiles:   %s, memory cache %s\n", cfg.Profiles.DirectoryURL, cfg.Profiles.CacheTTL)
	}

	var channels []string
	if cfg.Notify.Slack.ChannelID != "" {
		channels = append(channels, "slack:"+cfg.Notify.Slack.ChannelID)
	}
	if cfg.Notify.Discord.ChannelID != "" {
		channels = append(channels, "discord:"+cfg.Notify.Discord.ChannelID)
	}
	if len(channels) == 0 {
		fmt.Fprintln(out, "notify:     none")
	} else {
		fmt.Fprintf(out, "notify:     %v\n", channels)
	}

	fmt.Fprintln(out, "\njobs:")
	jobs := []struct{ name, expr string }{
		{"presence sweep", cfg.Presence.SweepSchedule},
		{"presence snapshot", cfg.Presence.SnapshotSchedule},
		{"pending drain", cfg.Assignment.DrainSchedule},
	}
	for _, j := range jobs {
		sched, err := cron.ParseStandard(j.expr)
		if err != nil {
			return fmt.Errorf("%s: %w", j.name, err)
		}
		fmt.Fprintf(out, "  %-18s %-14s next %s\n", j.name, j.expr, sched.Next(now).Format(time.RFC3339))
	}
	return nil
}
