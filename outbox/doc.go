// Package outbox layers queue semantics over the store's persisted mutation
// records: id assignment, replay ordering, and bounded retry dispositions.
// It never talks to the network; the sync engine decides when to replay.
package outbox
