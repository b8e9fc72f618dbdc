// Package database persists Instagram profiles and posts.
//
// PostgresStore talks to Postgres (including Supabase behind pgbouncer) with
// jackc/pgx. MemoryStore keeps everything in process and is used when no DSN
// is configured. Both implement Store.
package database
