package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

func newSeedCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Register built-in and seed file resources",
		Flags:       flag.NewFlagSet("seed", flag.ContinueOnError),
	}

	file := cmd.Flags.String("file", "", "Seed file (default GATEHOUSE_SEED_PATH)")
	admin := cmd.Flags.Bool("admin", false, "Create the administrator role and print its id")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runSeed(ctx, env, *file, *admin)
	}

	return cmd
}

func runSeed(ctx context.Context, env *Env, file string, admin bool) error {
	cfg, backend, err := env.openBackend(ctx, nil)
	if err != nil {
		return err
	}
	defer backend.Close()

	resources := rbac.NewResourceService(backend)

	result, err := resources.Seed(ctx, rbac.DefaultSeed())
	if err != nil {
		return err
	}
	logSeedResult(env.Logger, "built-in", result)

	if file == "" {
		file = cfg.Seed.Path
	}
	if file != "" {
		seed, err := rbac.LoadSeedFile(file)
		if err != nil {
			return err
		}
		result, err := resources.Seed(ctx, seed)
		if err != nil {
			return err
		}
		logSeedResult(env.Logger, file, result)
	}

	if admin {
		roles := rbac.NewService(backend, backend)
		view, created, err := rbac.EnsureAdminRole(ctx, roles, resources)
		if err != nil {
			return err
		}
		env.Logger.WithFields(logrus.Fields{
			"role":    view.ID,
			"created": created,
		}).Info("Administrator role ready")
		fmt.Fprintln(env.Out, view.ID)
	}

	return nil
}

func logSeedResult(logger *logrus.Logger, source string, result *rbac.SeedResult) {
	logger.WithFields(logrus.Fields{
		"source":    source,
		"created":   result.Created,
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
	}).Info("Resources seeded")
}
