package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

const pqUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint failure from
// either driver, and names the violated column when it can tell
func isUniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return uniqueColumn(pqErr.Constraint + " " + pqErr.Detail), true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return uniqueColumn(liteErr.Error()), true
	}

	return "", false
}

func uniqueColumn(text string) string {
	switch {
	case strings.Contains(text, "slug"):
		return "slug"
	case strings.Contains(text, "name"):
		return "name"
	default:
		return ""
	}
}

// mapWriteError classifies an insert or update failure for entity
func mapWriteError(entity string, err error) error {
	if column, ok := isUniqueViolation(err); ok {
		if column == "" {
			return rbac.NewConflictError("%s already exists", entity)
		}
		return rbac.NewConflictError("a %s with this %s already exists", entity, column)
	}
	return fmt.Errorf("failed to write %s: %w", entity, err)
}

// mapReadError turns sql.ErrNoRows into notFound and wraps everything else
func mapReadError(entity string, err error, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return fmt.Errorf("failed to read %s: %w", entity, err)
}
