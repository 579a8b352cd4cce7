// Package postgres implements the SQL role and resource store together with
// the infrastructure around it: connection management with read replicas,
// schema migrations, a Redis read cache and an S3 client for audit archives.
//
// The store speaks to PostgreSQL through lib/pq and to SQLite through
// mattn/go-sqlite3. Queries use $n placeholders, which both drivers accept.
// Unique constraint failures of either driver surface as rbac.ErrConflict;
// missing rows as rbac.ErrNotFound.
package postgres
