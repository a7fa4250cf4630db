// Package humanize formats byte counts for log lines, adapted from
// original_source/include/Util.h's prettyBytes. Never used in the wire
// format, only in diagnostics.
package humanize

import "fmt"

var units = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// Bytes renders n as a human-readable size, e.g. Bytes(1536) == "1.50 KiB".
func Bytes(n uint64) string {
	f := float64(n)
	unit := 0
	for f >= 1024 && unit < len(units)-1 {
		f /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", n, units[0])
	}
	return fmt.Sprintf("%.2f %s", f, units[unit])
}
