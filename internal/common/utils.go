package common

import (
	"errors"
	"strconv"
	"time"
)

// StampLayout names per-step files, e.g. forecast_2018-07-18-20-00.nc.
const StampLayout = "2006-01-02-15-04"

// FormatStamp formats t in UTC with StampLayout.
func FormatStamp(t time.Time) string {
	return t.UTC().Format(StampLayout)
}

// ParseStamp parses a StampLayout string as UTC.
func ParseStamp(s string) (time.Time, error) {
	return time.ParseInLocation(StampLayout, s, time.UTC)
}

// ParseTime tries to parse RFC3339, StampLayout or Unix seconds.
func ParseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := ParseStamp(s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339, YYYY-MM-DD-HH-MM or unix seconds")
}
