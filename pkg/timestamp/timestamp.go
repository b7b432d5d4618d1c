// Package timestamp converts the epoch timestamps carried in feed headers.
//
// Zero time.Time means "not set". Values that cannot be parsed, are not
// positive, or lie beyond year 3000 all map to the zero time.
package timestamp

import (
	"strconv"
	"strings"
	"time"
)

// maxUnixMs is 3000-01-01T00:00:00Z
const maxUnixMs = 32503680000000

// secondsCutoff separates seconds from milliseconds; 1e12 ms is 2001-09-09.
const secondsCutoff = 1e12

// FromUnixMs converts Unix milliseconds to a UTC time.
// Returns the zero time for out of range values.
func FromUnixMs(ms int64) time.Time {
	if ms <= 0 || ms > maxUnixMs {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ParseHeader reads a header value as Unix milliseconds, Unix seconds
// (values below 1e12) or RFC3339.
func ParseHeader(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n > 0 && n < secondsCutoff {
			if n > maxUnixMs/1000 {
				return time.Time{}
			}
			n *= 1000
		}
		return FromUnixMs(n)
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return FromUnixMs(t.UnixMilli())
	}
	return time.Time{}
}
