// Package gateway is the application-facing request surface. Reads try the
// network and fall back to the cache; writes go to the remote when it is
// reachable and into the outbox otherwise. Callers always get a structured
// Result instead of having to dissect transport errors themselves.
package gateway
