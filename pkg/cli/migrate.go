package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
)

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply schema migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}

	status := cmd.Flags.Bool("status", false, "Only print which migrations are applied")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runMigrate(ctx, env, *status)
	}

	return cmd
}

func runMigrate(ctx context.Context, env *Env, statusOnly bool) error {
	cfg, backend, err := env.openBackend(ctx, func(c *config.Config) {
		c.Storage.AutoMigrate = !statusOnly
		c.Storage.CacheEnabled = false
	})
	if err != nil {
		return err
	}
	defer backend.Close()

	if cfg.Storage.Driver == storage.DriverMemory {
		return fmt.Errorf("migrate requires a SQL storage driver, got %s", cfg.Storage.Driver)
	}

	applied, err := postgres.AppliedMigrations(ctx, backend.DB)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tDESCRIPTION\tAPPLIED")
	pending := 0
	for _, m := range postgres.GetMigrations(cfg.Storage.Driver) {
		fmt.Fprintf(tw, "%d\t%s\t%t\n", m.Version, m.Description, applied[m.Version])
		if !applied[m.Version] {
			pending++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if statusOnly {
		env.Logger.WithField("pending", pending).Info("Migration status")
	} else {
		env.Logger.WithField("driver", cfg.Storage.Driver).Info("Schema is up to date")
	}
	return nil
}
