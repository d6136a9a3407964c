package store

import (
	"fmt"
	"strconv"
)

// ErrNotANumber is returned when an item's bytes can't be parsed as a
// base-10 signed integer, the precondition for INC/DEC (spec.md §4.5).
var ErrNotANumber = fmt.Errorf("value is not a number")

// ParseNumber parses an item's stored bytes as a decimal integer,
// regardless of its current Encoding — a PLAIN item holding "42" is just
// as incrementable as a NUMBER one, matching the original's behavior of
// re-deriving the numeric value from whatever bytes are stored.
func ParseNumber(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, ErrNotANumber
	}
	return n, nil
}

// FormatNumber renders n as the decimal textual form stored for
// Encoding==Number items.
func FormatNumber(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}
