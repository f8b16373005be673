package output

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Size renders a byte count as "1.5 MiB (1572864)".
func Size(n uint64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%s (%d)", humanize.IBytes(n), n)
}

// Count renders a number with thousands separators.
func Count(n int64) string {
	return humanize.Comma(n)
}

// Time renders a timestamp as RFC3339 plus its age relative to now.
func Time(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), humanize.RelTime(t, now, "ago", "from now"))
}

// Mode renders permission bits in octal.
func Mode(mode uint32) string {
	return fmt.Sprintf("%#o", mode&0o7777)
}
