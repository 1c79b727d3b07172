package presence

import (
	"time"
)

// FormatLastSeen renders a last seen time relative to now in the viewer's location
func FormatLastSeen(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "Never active"
	}

	ts := t.In(now.Location())
	clock := ts.Format("03:04 PM MST")
	days := int(now.Sub(ts).Hours() / 24)

	switch {
	case days == 0:
		return "Today at " + clock
	case days == 1:
		return "Yesterday at " + clock
	case days < 7:
		return ts.Format("Monday") + " at " + clock
	case ts.Year() == now.Year():
		return ts.Format("January 2") + " at " + clock
	default:
		return ts.Format("January 2, 2006") + " at " + clock
	}
}
