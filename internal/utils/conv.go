package utils

import (
	"strconv"
)

// IntOrDefault parses s and clamps the result into [min, max]; empty or invalid input yields def.
func IntOrDefault(s string, def, min, max int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	if i < min {
		return min
	}
	if max > 0 && i > max {
		return max
	}
	return i
}

// ParseUintPtr returns nil for an empty or invalid id.
func ParseUintPtr(s string) *uint {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return nil
	}
	v := uint(n)
	return &v
}
