// Package database provides the PostgreSQL connection pool used by the
// connection audit journal, and the DDL for its table.
package database
