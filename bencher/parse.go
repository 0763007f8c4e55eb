package bencher

import (
	"fmt"
	"strconv"
	"strings"
)

// Number converts a token such as "12345." or "10.002s," to a float by
// stripping non-numeric characters on both ends.
func Number(token string) (float64, error) {
	trimmed := strings.TrimRight(token, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.,;:%/)")
	trimmed = strings.TrimLeft(trimmed, "=:([")

	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", token, err)
	}

	return v, nil
}

// TokenFromEnd returns the n-th whitespace-delimited token counted from
// the end of s, n = 1 being the last. Counting from the end is robust to
// banners of variable length at the start of the output.
func TokenFromEnd(s string, n int) (string, error) {
	fields := strings.Fields(s)
	if n < 1 || n > len(fields) {
		return "", fmt.Errorf("token %d from end: output has %d tokens", n, len(fields))
	}

	return fields[len(fields)-n], nil
}

// NumberFromEnd is TokenFromEnd followed by Number.
func NumberFromEnd(s string, n int) (float64, error) {
	tok, err := TokenFromEnd(s, n)
	if err != nil {
		return 0, err
	}

	return Number(tok)
}

// ValueAfter returns the number following the last occurrence of label.
func ValueAfter(s, label string) (float64, error) {
	i := strings.LastIndex(s, label)
	if i < 0 {
		return 0, fmt.Errorf("label %q not found", label)
	}

	fields := strings.Fields(s[i+len(label):])
	if len(fields) == 0 {
		return 0, fmt.Errorf("no value after %q", label)
	}

	return Number(fields[0])
}

// ValueBefore returns the number preceding the last occurrence of label.
func ValueBefore(s, label string) (float64, error) {
	i := strings.LastIndex(s, label)
	if i < 0 {
		return 0, fmt.Errorf("label %q not found", label)
	}

	fields := strings.Fields(s[:i])
	if len(fields) == 0 {
		return 0, fmt.Errorf("no value before %q", label)
	}

	return Number(fields[len(fields)-1])
}
