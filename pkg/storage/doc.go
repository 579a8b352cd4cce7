// Package storage selects and opens the persistence backend for roles and
// resources.
//
// # Backends
//
//   - memory: maps guarded by a RWMutex; for tests and local development
//   - postgres: database/sql with lib/pq, grants stored as JSONB, optional
//     read replicas
//   - sqlite3: the same SQL store on mattn/go-sqlite3 for single-node installs
//
// Either SQL backend can be fronted by a Redis cache for single role and
// resource reads. The cache deletes a key after every write that goes
// through it and bumps a per-key generation counter, so a read that started
// before the write cannot put its stale copy back. Read-modify-write paths
// use GetRoleForUpdate, which skips both the cache and the replicas.
//
// # Usage
//
//	cfg := storage.DefaultConfig()
//	cfg.Driver = storage.DriverSQLite
//	cfg.SQLitePath = "file:gatehouse.db?_busy_timeout=5000"
//
//	backend, err := storage.Open(ctx, cfg, logger)
//	if err != nil {
//		return err
//	}
//	defer backend.Close()
//
//	svc := rbac.NewService(backend, backend)
//
// The S3 settings in Config are consumed by the audit archiver, not by the
// role store.
package storage
