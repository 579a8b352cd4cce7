package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

func newAuditExportCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "audit-export",
		Description: "Export audit events from the database",
		Flags:       flag.NewFlagSet("audit-export", flag.ContinueOnError),
	}

	format := cmd.Flags.String("format", "ndjson", "Output format: json, csv or ndjson")
	since := cmd.Flags.Duration("since", 24*time.Hour, "Export events newer than this")
	eventTypes := cmd.Flags.String("event-type", "", "Comma-separated event types, for example role.create,role.delete")
	user := cmd.Flags.String("user", "", "Only events by this user id")
	limit := cmd.Flags.Int("limit", 10000, "Maximum number of events")
	out := cmd.Flags.String("out", "", "Write to this file instead of stdout")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		exportFormat, err := audit.ParseExportFormat(*format)
		if err != nil {
			return err
		}

		start := time.Now().UTC().Add(-*since)
		filter := audit.SearchFilter{
			StartTime: &start,
			UserID:    *user,
			Limit:     *limit,
			Ascending: true,
		}
		for _, t := range strings.Split(*eventTypes, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
			}
		}

		return runAuditExport(ctx, env, filter, exportFormat, *out)
	}

	return cmd
}

func runAuditExport(ctx context.Context, env *Env, filter audit.SearchFilter, format audit.ExportFormat, out string) error {
	cfg, backend, err := env.openBackend(ctx, func(c *config.Config) {
		c.Storage.CacheEnabled = false
	})
	if err != nil {
		return err
	}
	defer backend.Close()

	if cfg.Storage.Driver != storage.DriverPostgres {
		return fmt.Errorf("audit events are stored only with the postgres driver")
	}

	store, err := audit.NewDBLogger(backend.DB)
	if err != nil {
		return err
	}

	w := env.Out
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}

	n, err := exportAudit(ctx, store, filter, format, w)
	if err != nil {
		return err
	}
	env.Logger.WithField("events", n).WithField("format", string(format)).Info("Audit events exported")
	return nil
}

// exportAudit writes the events matching filter to w and returns how many
// were written
func exportAudit(ctx context.Context, store audit.Store, filter audit.SearchFilter, format audit.ExportFormat, w io.Writer) (int, error) {
	events, err := store.Search(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to search audit events: %w", err)
	}

	data, err := audit.Export(events, format)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(data); err != nil {
		return 0, err
	}
	return len(events), nil
}
