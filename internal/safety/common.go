package safety

import "time"

func durationFromSecs(secs int64) time.Duration {
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
