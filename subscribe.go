package slotcache

import "context"

// Subscribe returns a channel of the slot's values. The first element is the
// current post-expiration value; thereafter one element follows every
// committed mutation of this instance's token (including expiration resets
// and ClearAll), each re-evaluated through the expiration policy.
//
// Elements arrive in commit order. A subscriber that falls behind coalesces
// to the latest committed value rather than buffering every intermediate one.
// Each call is an independent subscription; the channel closes when ctx is
// done or the vault is closed.
func (c *Cache[T]) Subscribe(ctx context.Context) (<-chan T, error) {
	// Register before the initial read so a mutation committed between the
	// two is not missed.
	signal, cancel := c.values.Watch(c.cfg.token)

	value, err := c.Read(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan T, 1)
	go func() {
		defer cancel()
		defer close(out)
		for {
			select {
			case out <- value:
			case <-ctx.Done():
				return
			}

			select {
			case <-signal:
			case <-ctx.Done():
				return
			}

			var err error
			value, err = c.Read(ctx)
			if err != nil {
				// Vault closed underneath the subscription.
				return
			}
		}
	}()
	return out, nil
}
