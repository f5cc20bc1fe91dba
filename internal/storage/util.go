package storage

import (
	"os"
	"time"
)

// DateKey is the canonical day format used for daily usage accounting.
const DateKey = "2006-01-02"

// DayStart returns midnight at the start of t's day, in t's location.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
