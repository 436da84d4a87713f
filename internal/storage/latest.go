package storage

import (
	"sort"
	"time"
)

// LatestPerGroup keeps, for each distinct key, the record with the greatest
// creation time. Records created at the same instant are resolved in favour
// of the lexicographically highest id. The result is ordered by key.
func LatestPerGroup[T any](records []T, key func(T) string, createdAt func(T) time.Time, id func(T) string) []T {
	latest := make(map[string]T, len(records))
	for _, rec := range records {
		k := key(rec)
		cur, ok := latest[k]
		if !ok || newer(rec, cur, createdAt, id) {
			latest[k] = rec
		}
	}

	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, latest[k])
	}
	return out
}

func newer[T any](a, b T, createdAt func(T) time.Time, id func(T) string) bool {
	ta, tb := createdAt(a), createdAt(b)
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return id(a) > id(b)
}
