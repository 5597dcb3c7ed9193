// Package utils provides small, generic helpers shared by the service and
// transport layers. They carry no domain logic.
package utils

import "strconv"

// AtoiDefault converts s with strconv.Atoi, returning def when s is empty
// or does not parse.
//
//	n := utils.AtoiDefault("42", 0) // 42
//	n = utils.AtoiDefault("", 10)   // 10
//	n = utils.AtoiDefault("x", 5)   // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page returns the 1-based page of items. Out-of-range pages yield an empty,
// non-nil slice; page < 1 is treated as 1 and size < 1 returns everything.
func Page[T any](items []T, page, size int) []T {
	if size < 1 {
		return append([]T{}, items...)
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size
	if offset >= len(items) {
		return []T{}
	}
	return items[offset:min(offset+size, len(items))]
}

// TotalPages is ceil(total/size), or 0 when size < 1.
func TotalPages(total, size int) int {
	if size < 1 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
