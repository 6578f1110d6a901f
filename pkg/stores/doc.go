// Package stores provides the persistence layer for sample history.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and CRUD operations for devices, samples, poll runs, and events.
package stores
