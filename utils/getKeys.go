package utils

import (
	"maps"
	"slices"
)

// GetKeys returns the keys of m sorted, never nil.
func GetKeys[T any](m map[string]T) []string {
	keys := slices.Sorted(maps.Keys(m))
	if keys == nil {
		keys = []string{}
	}
	return keys
}
