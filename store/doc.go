// Package store persists the local cache and queued mutations in SQLite.
//
// The Store manages the database connection, a single-writer lock file,
// schema migrations, and all reads and writes of cache entries, outbox
// mutation records, and per-domain sync status rows. Entries carry an
// optional TTL; expired entries are logically absent and are evicted the next
// time a read or sweep encounters them, never returned.
//
// The schema registers the known domains; migrations only ever add tables or
// domains, so a schema version bump creates what is missing without touching
// data in existing domains. Storage errors always propagate to the caller.
//
// Treat this package as the single owner of persisted state: the outbox and
// sync engine layer queue and replay semantics on top, but never bypass it.
package store
