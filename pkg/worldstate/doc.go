// Package worldstate stores per-player experience state.
//
// A PlayerView is everything the experience loop needs to know about one
// player in one experience: inventory, collected quest items, object
// interactions and quest status. Three backends implement Store:
//
//   - MemoryStore: process-local, the default for development
//   - SQLiteStore: a single file, WAL mode, for single-node deployments
//   - PostgresStore: pgxpool against the shared Gaia database
//
// Writes use optimistic concurrency. UpdatePlayerView succeeds only when the
// view's Version matches the stored one; Modify wraps the read, change and
// write in a retry loop so two sockets for the same player cannot lose
// each other's updates.
package worldstate
