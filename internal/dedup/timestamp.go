package dedup

import "time"

// timestampLayouts lists the formats keep-newest/keep-oldest will try, in
// order, before giving up and treating the field as the zero time (which
// sorts as the oldest possible value so malformed timestamps never win a
// keep-newest contest by accident).
var timestampLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func timestampOf(fields []string, col int) time.Time {
	raw := fieldAt(fields, col)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
