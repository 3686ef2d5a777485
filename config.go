package slotcache

import (
	"time"

	"github.com/electwix/slotcache/internal/logging"
)

// DefaultValidity is the validity duration applied when Config.Validity is
// left at its zero value.
const DefaultValidity = 30 * 24 * time.Hour

// NoExpiry disables time-based invalidation entirely: the stored value never
// goes stale regardless of age.
const NoExpiry = time.Duration(-1)

// Config describes one cache slot. Defaults are supplied here by New, not by
// embedding or overriding: the zero Config is a valid 30-day slot keyed by
// the payload type alone.
type Config[T any] struct {
	// InitialValue is returned when nothing was ever written and re-installed
	// when the stored value expires. It may be a nil-capable value.
	InitialValue T

	// Name selects the value store for this payload kind. Caches with the
	// same payload kind and Name share one store file.
	Name string

	// ID distinguishes multiple slots of the same kind within one store.
	// Default empty.
	ID string

	// Prefix overrides the token prefix. Default: the payload type's name,
	// which makes tokens collision-free across payload kinds by construction.
	Prefix string

	// Validity is the maximum age a stored value may reach before a read
	// resets it to InitialValue. Zero applies DefaultValidity; NoExpiry (or
	// any negative duration) disables expiration.
	Validity time.Duration

	// OnError receives absorbed store failures. Default: log through the
	// vault logger. ErrNotInitialized never goes through this hook.
	OnError func(error)

	// Codec serializes the payload. Default: JSONCodec[T].
	Codec Codec[T]

	// MaxEntries declares an item-count limit for the value store. It is
	// recorded but not enforced; eviction is a future extension point
	// invoked after Write, never performed silently.
	MaxEntries int
}

// resolved is a Config with all defaults applied.
type resolved[T any] struct {
	initial    T
	token      string
	validity   time.Duration // 0 means never expires
	onError    func(error)
	codec      Codec[T]
	logger     logging.Logger
	maxEntries int
}

func (cfg Config[T]) resolve(logger logging.Logger) resolved[T] {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = kindName[T]()
	}
	token := tokenFor(prefix, cfg.ID)

	validity := cfg.Validity
	switch {
	case validity == 0:
		validity = DefaultValidity
	case validity < 0:
		validity = 0
	}

	var codec Codec[T] = cfg.Codec
	if codec == nil {
		codec = JSONCodec[T]{}
	}

	scoped := logger.With("token", token)
	onError := cfg.OnError
	if onError == nil {
		onError = func(err error) {
			scoped.Error("cache operation failed", "error", err)
		}
	}

	return resolved[T]{
		initial:    cfg.InitialValue,
		token:      token,
		validity:   validity,
		onError:    onError,
		codec:      codec,
		logger:     scoped,
		maxEntries: cfg.MaxEntries,
	}
}
