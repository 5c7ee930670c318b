// Package stores provides the SQLite-backed entity store: durable,
// transactional persistence for entities, wizard runs, and the append-only
// changelog.
package stores
