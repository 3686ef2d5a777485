package slotcache

import (
	"reflect"
	"strings"
)

// tokenFor derives the composite key identifying one cache instance's slot in
// both the value store and the shared timestamp store. Uniqueness is
// structural: the prefix embeds the payload kind's identity, so no write-time
// uniqueness check is needed.
func tokenFor(prefix, id string) string {
	return prefix + id
}

// kindName derives the payload kind's identity from its Go type, e.g.
// "app.Session" or "*app.Session". Distinct payload types therefore map to
// distinct default prefixes and distinct store files.
func kindName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return t.String()
}

// storeFileName maps a (payload-kind, instance-name) pair to its
// deterministic store file name under the vault directory.
func storeFileName(kind, name string) string {
	base := sanitizeName(kind)
	if name != "" {
		base += "-" + sanitizeName(name)
	}
	return base + ".db"
}

// sanitizeName makes a kind or instance name safe for use as a file name.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
