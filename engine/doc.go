// Package engine drives synchronization: it replays the outbox against the
// remote when connectivity allows and refreshes cached domains from remote
// list endpoints. One worker goroutine owns all drain work, so passes are
// strictly serial; everything else talks to the engine through channels.
package engine
