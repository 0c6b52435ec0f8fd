// Package database creates the pgx connection pool for the tick store.
package database
