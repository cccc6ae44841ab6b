package artifacttype

import (
	"time"

	"github.com/dustin/go-humanize"
)

// DateLayout is the layout of artifact modification dates.
const DateLayout = "2006-01-02 15:04"

// FormatSize renders a byte count for humans, in SI units.
func FormatSize(size int64) string {
	if size < 0 {
		return ""
	}
	return humanize.Bytes(uint64(size))
}

// FormatDate renders a modification time in UTC.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}
