// Package store persists dispatched feed messages.
//
// The TickWriter consumes price_update messages through a feed handler,
// accumulates rows into batches and writes them to the ticks table with
// pgx batch inserts. Duplicate rows (same symbol and exchange timestamp)
// are dropped with ON CONFLICT DO NOTHING.
package store
