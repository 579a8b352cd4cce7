package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// columnTypes holds the column types that differ between drivers
type columnTypes struct {
	JSON      string
	Timestamp string
}

func typesFor(driver string) columnTypes {
	if driver == DriverSQLite {
		return columnTypes{JSON: "TEXT", Timestamp: "TIMESTAMP"}
	}
	return columnTypes{JSON: "JSONB", Timestamp: "TIMESTAMPTZ"}
}

// GetMigrations returns the schema migrations for driver in order
func GetMigrations(driver string) []Migration {
	t := typesFor(driver)
	return []Migration{
		{
			Version:     1,
			Description: "Create resources table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS resources (
					id VARCHAR(36) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					created_at %[1]s NOT NULL,
					updated_at %[1]s NOT NULL
				);
			`, t.Timestamp),
		},
		{
			Version:     2,
			Description: "Create roles table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(36) PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					slug VARCHAR(255) NOT NULL UNIQUE,
					status VARCHAR(16) NOT NULL,
					description TEXT NOT NULL,
					grants %[1]s NOT NULL DEFAULT '[]',
					created_at %[2]s NOT NULL,
					updated_at %[2]s NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_roles_status ON roles(status);
				CREATE INDEX IF NOT EXISTS idx_roles_created_at ON roles(created_at);
			`, t.JSON, t.Timestamp),
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, driver string, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := AppliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations(driver) {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("migration completed")
	}

	return nil
}

// AppliedMigrations returns the set of recorded migration versions
func AppliedMigrations(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
