package delta

import "time"

func unixNanoUTC(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}
