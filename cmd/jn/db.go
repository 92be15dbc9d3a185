package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/db"
	"golang.org/x/term"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Junction tables",
		Long:  "Creates the database when the driver supports it, then migrates every table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, &flags)
		},
	}

	flags.register(cmd)
	return cmd
}

func runDBMigrate(cmd *cobra.Command, flags *configFlags) error {
	out := cmd.OutOrStdout()

	cfg, err := flags.load()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded %s config from %s\n", cfg.Database.Driver, flags.configPath)

	if cfg.Database.Driver == config.DriverMySQL {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		flags configFlags
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-create every Junction table",
		Long: `Drops every Junction table and migrates them again. All conversations,
messages, receipts, agents and presence snapshots are lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, &flags, yes)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, flags *configFlags, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := flags.connect()
	if err != nil {
		return err
	}

	if !skipConfirm {
		if !interactive(cmd.InOrStdin()) {
			return fmt.Errorf("refusing to reset %s without --yes: stdin is not a terminal", cfg.Database.Name)
		}
		if !confirmReset(cmd, cfg.Database.Name) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := db.Reset(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Reset %d tables in %s\n", len(db.AllModels()), cfg.Database.Name)
	return nil
}

// interactive reports whether in can answer a prompt. Readers injected by
// tests count as interactive.
func interactive(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return true
	}
	return term.IsTerminal(int(f.Fd()))
}

func confirmReset(cmd *cobra.Command, dbName string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintf(out, "WARNING: This will permanently delete all data in database %q.\n", dbName)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
