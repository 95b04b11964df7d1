// Package connectivity tracks whether the remote is believed reachable.
//
// The Monitor holds the authoritative online/offline state and broadcasts
// transitions to subscribers. Two signal sources feed it: a periodic HTTP
// probe and a long-lived websocket whose connection state doubles as a
// liveness signal. Callers may also set the state directly, which is how
// request-time transport failures demote the belief without waiting for the
// next probe.
package connectivity
