// Package slotcache provides persistent, expiring, observable slots of typed
// application state.
//
// A slot is a single logical value (for example "current user" or "last sync
// result") that survives process restarts, silently reverts to a configured
// initial value once it grows older than its validity duration, and
// broadcasts every change to subscribers. Values are persisted in per-kind
// SQLite stores under a vault directory; write timestamps live in one shared
// store so expiration can be evaluated lazily on every read.
//
// Usage:
//
//	vault, err := slotcache.Open(ctx, slotcache.Options{Dir: dir})
//	if err != nil { ... }
//	defer vault.Close()
//
//	c, err := slotcache.New(vault, slotcache.Config[Session]{
//	    Name:     "auth",
//	    Validity: 24 * time.Hour,
//	})
//	if err != nil { ... }
//
//	if err := c.Write(ctx, session); err != nil { ... }
//	current, _ := c.Read(ctx)
//
//	updates, _ := c.Subscribe(ctx)
//	for s := range updates { ... }
//
// Mutations on one cache are strictly serialized; caches never contend with
// each other. Reads are lock-free except when they trigger an expiration
// reset. Store failures are absorbed through the configured error hook and
// reads fall back to the initial value; only ErrNotInitialized ever crosses
// the package boundary from a read or write path.
package slotcache
