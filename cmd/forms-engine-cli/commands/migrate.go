package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical-ai/forms-engine/cmd/forms-engine-cli/ui"
	"github.com/spherical-ai/forms-engine/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Check and apply database schema migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ui.InitUI(noColor, verbose)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	dir, err := storage.ResolveMigrationsDir(cfg.Database.MigrationsDir)
	if err != nil {
		return err
	}

	mgr := storage.NewMigrationManager(db, dir, cfg.Database.Driver)

	status, err := mgr.Check(ctx)
	if err != nil {
		return err
	}

	ui.Section("Migration Status")
	ui.KeyValue("Driver", cfg.Database.Driver)
	if status.Current != "" {
		ui.KeyValue("Current version", status.Current)
	} else {
		ui.KeyValue("Current version", "(none)")
	}
	ui.KeyValue("Total migrations", status.Total)
	ui.Newline()

	if status.UpToDate {
		ui.Success("Schema is up to date")
		return nil
	}

	for _, name := range status.Pending {
		ui.Step("pending: %s", name)
	}
	ui.Newline()

	spin := ui.NewSpinner("Applying migrations...")
	spin.Start()
	err = mgr.Apply(ctx, status)
	spin.Stop()
	if err != nil {
		return err
	}

	ui.Success("Applied %d migrations", len(status.Pending))
	return nil
}
