// Package utils holds small helpers shared by the HTTP layer.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// PageQuery parses page and page-size query values, applying defaults and
// capping the page size at maxSize. Pages are 1-based.
func PageQuery(page, size string, defSize, maxSize int) (int, int) {
	p := AtoiDefault(page, 1)
	if p < 1 {
		p = 1
	}
	return p, Clamp(AtoiDefault(size, defSize), 1, maxSize)
}

// Offset converts a 1-based page into a row offset.
func Offset(page, size int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * size
}
