package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env is what commands share: output streams, the operator log and the
// configuration source
type Env struct {
	Out        io.Writer
	Logger     *logrus.Logger
	LoadConfig func() (*config.Config, error)
}

// DefaultEnv writes results to stdout and logs to stderr
func DefaultEnv() *Env {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(os.Getenv("GATEHOUSE_LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return &Env{
		Out:        os.Stdout,
		Logger:     logger,
		LoadConfig: config.LoadConfig,
	}
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "gatehouse",
		Description: "Gatehouse - role and resource administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("gatehouse", flag.ContinueOnError),
	}

	// Add subcommands
	root.Subcommands["issue-token"] = newIssueTokenCommand(env)
	root.Subcommands["seed"] = newSeedCommand(env)
	root.Subcommands["migrate"] = newMigrateCommand(env)
	root.Subcommands["check"] = newCheckCommand(env)
	root.Subcommands["audit-export"] = newAuditExportCommand(env)

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if strings.EqualFold(args[0], "-h") || strings.EqualFold(args[0], "--help") {
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// openBackend loads the configuration, lets adjust modify it and opens its
// storage backend. Storage diagnostics go to stderr at the configured level.
func (e *Env) openBackend(ctx context.Context, adjust func(cfg *config.Config)) (*config.Config, *storage.Backend, error) {
	cfg, err := e.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}

	backend, err := storage.Open(ctx, cfg.Storage, storageLogger(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return cfg, backend, nil
}

// storageLogger is the structured logger handed to server packages
func storageLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)
}
