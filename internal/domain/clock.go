package domain

import (
	"fmt"
	"time"
)

// FormatClock renders an offset as mm:ss. Minutes keep counting past 59.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
