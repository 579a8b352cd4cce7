package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

var tracer = otel.Tracer("github.com/platinummonkey/gatehouse/pkg/storage/postgres")

// Store implements rbac.RoleStore and rbac.ResourceStore on database/sql.
// It runs on PostgreSQL and on SQLite; only column types differ.
type Store struct {
	conns   *ConnectionManager
	metrics *observability.Metrics
}

var (
	_ rbac.RoleStore     = (*Store)(nil)
	_ rbac.ResourceStore = (*Store)(nil)
)

// NewStore creates a store on top of conns. Reads go to a replica when
// one is configured.
func NewStore(conns *ConnectionManager) *Store {
	return &Store{conns: conns}
}

// SetMetrics enables storage operation metrics
func (s *Store) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// Migrate applies pending schema migrations to the primary
func (s *Store) Migrate(ctx context.Context, logger *observability.Logger) error {
	return RunMigrations(ctx, s.conns.Primary(), s.conns.Driver(), logger)
}

// HealthCheck pings the primary and replicas
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

// DB returns the primary connection
func (s *Store) DB() *sql.DB {
	return s.conns.Primary()
}

// Close closes every connection
func (s *Store) Close() error {
	return s.conns.Close()
}

const roleColumns = `id, name, slug, status, description, grants, created_at, updated_at`

// ListRoles returns roles matching filter, newest first
func (s *Store) ListRoles(ctx context.Context, filter rbac.RoleFilter) (roles []*rbac.Role, err error) {
	ctx, finish := s.start(ctx, "ListRoles")
	defer func() { finish(err) }()

	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, likePattern(filter.Search))
		n := len(args)
		where = append(where, fmt.Sprintf(
			`(LOWER(name) LIKE $%[1]d ESCAPE '\' OR LOWER(slug) LIKE $%[1]d ESCAPE '\' OR LOWER(description) LIKE $%[1]d ESCAPE '\')`, n))
	}

	query := "SELECT " + roleColumns + " FROM roles"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles = make([]*rbac.Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	return roles, nil
}

// GetRole returns one role. A role missing on a replica is looked up again
// on the primary.
func (s *Store) GetRole(ctx context.Context, id string) (role *rbac.Role, err error) {
	ctx, finish := s.start(ctx, "GetRole", attribute.String("role.id", id))
	defer func() { finish(err) }()

	db := s.conns.Replica()
	role, err = s.readRole(ctx, db, id)
	if errors.Is(err, rbac.ErrNotFound) && db != s.conns.Primary() {
		role, err = s.readRole(ctx, s.conns.Primary(), id)
	}
	return role, err
}

// GetRoleForUpdate returns one role read from the primary
func (s *Store) GetRoleForUpdate(ctx context.Context, id string) (role *rbac.Role, err error) {
	ctx, finish := s.start(ctx, "GetRoleForUpdate", attribute.String("role.id", id))
	defer func() { finish(err) }()

	return s.readRole(ctx, s.conns.Primary(), id)
}

func (s *Store) readRole(ctx context.Context, db *sql.DB, id string) (*rbac.Role, error) {
	row := db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE id = $1", id)

	role, err := scanRole(row)
	if err != nil {
		return nil, mapReadError("role", err, rbac.RoleNotFound(id))
	}
	return role, nil
}

// CreateRole inserts a role
func (s *Store) CreateRole(ctx context.Context, role *rbac.Role) (err error) {
	ctx, finish := s.start(ctx, "CreateRole", attribute.String("role.id", role.ID))
	defer func() { finish(err) }()

	grants, err := encodeGrants(role.Grants)
	if err != nil {
		return err
	}

	_, err = s.conns.Primary().ExecContext(ctx, `
		INSERT INTO roles (id, name, slug, status, description, grants, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, role.ID, role.Name, role.Slug, string(role.Status), role.Description, grants,
		role.CreatedAt.UTC(), role.UpdatedAt.UTC())
	if err != nil {
		return mapWriteError("role", err)
	}
	return nil
}

// UpdateRole overwrites every mutable column of a role in one statement
func (s *Store) UpdateRole(ctx context.Context, role *rbac.Role) (err error) {
	ctx, finish := s.start(ctx, "UpdateRole", attribute.String("role.id", role.ID))
	defer func() { finish(err) }()

	grants, err := encodeGrants(role.Grants)
	if err != nil {
		return err
	}

	result, err := s.conns.Primary().ExecContext(ctx, `
		UPDATE roles
		SET name = $1, slug = $2, status = $3, description = $4, grants = $5, updated_at = $6
		WHERE id = $7
	`, role.Name, role.Slug, string(role.Status), role.Description, grants,
		role.UpdatedAt.UTC(), role.ID)
	if err != nil {
		return mapWriteError("role", err)
	}
	return requireRow(result, rbac.RoleNotFound(role.ID))
}

// DeleteRole removes a role
func (s *Store) DeleteRole(ctx context.Context, id string) (err error) {
	ctx, finish := s.start(ctx, "DeleteRole", attribute.String("role.id", id))
	defer func() { finish(err) }()

	result, err := s.conns.Primary().ExecContext(ctx, "DELETE FROM roles WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return requireRow(result, rbac.RoleNotFound(id))
}

const resourceColumns = `id, name, slug, description, created_at, updated_at`

// ListResources returns every resource ordered by slug
func (s *Store) ListResources(ctx context.Context) (resources []*rbac.Resource, err error) {
	ctx, finish := s.start(ctx, "ListResources")
	defer func() { finish(err) }()

	rows, err := s.conns.Replica().QueryContext(ctx,
		"SELECT "+resourceColumns+" FROM resources ORDER BY slug")
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	return scanResources(rows)
}

// GetResource returns one resource by id
func (s *Store) GetResource(ctx context.Context, id string) (resource *rbac.Resource, err error) {
	ctx, finish := s.start(ctx, "GetResource", attribute.String("resource.id", id))
	defer func() { finish(err) }()

	row := s.conns.Replica().QueryRowContext(ctx,
		"SELECT "+resourceColumns+" FROM resources WHERE id = $1", id)

	resource, err = scanResource(row)
	if err != nil {
		return nil, mapReadError("resource", err, rbac.ResourceNotFound(id))
	}
	return resource, nil
}

// GetResourceBySlug returns one resource by slug
func (s *Store) GetResourceBySlug(ctx context.Context, slug string) (resource *rbac.Resource, err error) {
	ctx, finish := s.start(ctx, "GetResourceBySlug", attribute.String("resource.slug", slug))
	defer func() { finish(err) }()

	row := s.conns.Replica().QueryRowContext(ctx,
		"SELECT "+resourceColumns+" FROM resources WHERE slug = $1", slug)

	resource, err = scanResource(row)
	if err != nil {
		return nil, mapReadError("resource", err, rbac.NewNotFoundError("resource with slug %s not found", slug))
	}
	return resource, nil
}

// GetResources returns the resources that exist among ids
func (s *Store) GetResources(ctx context.Context, ids []string) (resources []*rbac.Resource, err error) {
	ctx, finish := s.start(ctx, "GetResources", attribute.Int("resource.count", len(ids)))
	defer func() { finish(err) }()

	if len(ids) == 0 {
		return []*rbac.Resource{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.conns.Replica().QueryContext(ctx,
		"SELECT "+resourceColumns+" FROM resources WHERE id IN ("+strings.Join(placeholders, ", ")+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get resources: %w", err)
	}
	defer rows.Close()

	return scanResources(rows)
}

// CreateResource inserts a resource
func (s *Store) CreateResource(ctx context.Context, resource *rbac.Resource) (err error) {
	ctx, finish := s.start(ctx, "CreateResource", attribute.String("resource.id", resource.ID))
	defer func() { finish(err) }()

	_, err = s.conns.Primary().ExecContext(ctx, `
		INSERT INTO resources (id, name, slug, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, resource.ID, resource.Name, resource.Slug, resource.Description,
		resource.CreatedAt.UTC(), resource.UpdatedAt.UTC())
	if err != nil {
		return mapWriteError("resource", err)
	}
	return nil
}

// UpdateResource overwrites name and description of a resource
func (s *Store) UpdateResource(ctx context.Context, resource *rbac.Resource) (err error) {
	ctx, finish := s.start(ctx, "UpdateResource", attribute.String("resource.id", resource.ID))
	defer func() { finish(err) }()

	result, err := s.conns.Primary().ExecContext(ctx, `
		UPDATE resources SET name = $1, description = $2, updated_at = $3 WHERE id = $4
	`, resource.Name, resource.Description, resource.UpdatedAt.UTC(), resource.ID)
	if err != nil {
		return mapWriteError("resource", err)
	}
	return requireRow(result, rbac.ResourceNotFound(resource.ID))
}

// DeleteResource removes a resource. Grants referencing it are untouched.
func (s *Store) DeleteResource(ctx context.Context, id string) (err error) {
	ctx, finish := s.start(ctx, "DeleteResource", attribute.String("resource.id", id))
	defer func() { finish(err) }()

	result, err := s.conns.Primary().ExecContext(ctx, "DELETE FROM resources WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return requireRow(result, rbac.ResourceNotFound(id))
}

// start opens a span for a store operation. The returned func ends it and
// records the outcome.
func (s *Store) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	backend := "postgresql"
	if s.conns.Driver() == DriverSQLite {
		backend = "sqlite"
	}

	attrs = append(attrs,
		attribute.String("db.system", backend),
		attribute.String("db.operation", operation),
	)
	ctx, span := tracer.Start(ctx, "Store."+operation, trace.WithAttributes(attrs...))
	begin := time.Now()

	return ctx, func(err error) {
		if err != nil && !rbac.IsClientError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, operation+" failed")
		}
		span.End()

		if s.metrics != nil {
			s.metrics.RecordStorageOperation(operation, backend, err, time.Since(begin))
		}
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*rbac.Role, error) {
	var (
		role   rbac.Role
		status string
		grants []byte
	)
	if err := row.Scan(&role.ID, &role.Name, &role.Slug, &status, &role.Description,
		&grants, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	role.Status = rbac.RoleStatus(status)
	role.CreatedAt = role.CreatedAt.UTC()
	role.UpdatedAt = role.UpdatedAt.UTC()

	decoded, err := decodeGrants(grants)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", role.ID, err)
	}
	role.Grants = decoded
	return &role, nil
}

func scanResource(row rowScanner) (*rbac.Resource, error) {
	var resource rbac.Resource
	if err := row.Scan(&resource.ID, &resource.Name, &resource.Slug, &resource.Description,
		&resource.CreatedAt, &resource.UpdatedAt); err != nil {
		return nil, err
	}
	resource.CreatedAt = resource.CreatedAt.UTC()
	resource.UpdatedAt = resource.UpdatedAt.UTC()
	return &resource, nil
}

func scanResources(rows *sql.Rows) ([]*rbac.Resource, error) {
	resources := make([]*rbac.Resource, 0)
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read resources: %w", err)
	}
	return resources, nil
}

func encodeGrants(grants []rbac.Grant) (string, error) {
	if grants == nil {
		grants = []rbac.Grant{}
	}
	data, err := json.Marshal(grants)
	if err != nil {
		return "", fmt.Errorf("failed to encode grants: %w", err)
	}
	return string(data), nil
}

func decodeGrants(data []byte) ([]rbac.Grant, error) {
	grants := []rbac.Grant{}
	if len(data) == 0 {
		return grants, nil
	}
	if err := json.Unmarshal(data, &grants); err != nil {
		return nil, fmt.Errorf("failed to decode grants: %w", err)
	}
	return grants, nil
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// likePattern lowercases s and escapes LIKE wildcards for a substring match
func likePattern(s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(s))
	return "%" + escaped + "%"
}
