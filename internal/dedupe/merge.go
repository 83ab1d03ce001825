// Package dedupe collapses records from several sources into one record per
// physical address.
package dedupe

import (
	"strings"

	"github.com/anstrom/reconradar/internal/records"
)

// Named is a record whose display name can be upgraded in place.
type Named interface {
	records.DeviceRecord
	SetDisplayName(name string)
}

// Key returns the canonical identity of an address.
func Key(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Merge returns one record per canonical address in first-seen order. The
// first occurrence wins for every field except a placeholder name, which is
// replaced by the first later non-placeholder name. Records without an
// address are dropped.
func Merge[T any, PT interface {
	*T
	Named
}](in []T) []T {
	out := make([]T, 0, len(in))
	index := make(map[string]int, len(in))

	for i := range in {
		rec := PT(&in[i])
		key := Key(rec.Address())
		if key == "" {
			continue
		}

		pos, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, in[i])
			continue
		}

		existing := PT(&out[pos])
		if records.IsPlaceholder(existing.DisplayName()) && !records.IsPlaceholder(rec.DisplayName()) {
			existing.SetDisplayName(rec.DisplayName())
		}
	}

	return out
}

// Concat merges several source lists in order.
func Concat[T any, PT interface {
	*T
	Named
}](sources ...[]T) []T {
	var all []T
	for _, s := range sources {
		all = append(all, s...)
	}
	return Merge[T, PT](all)
}
