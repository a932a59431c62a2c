package syncq

import "time"

// Backoff doubles the delay per retry from Base, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff waits 1m, 2m, 4m... up to an hour between attempts.
var DefaultBackoff = Backoff{Base: time.Minute, Max: time.Hour}

// Delay returns the wait before attempt retry+1.
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	d := b.Base
	for i := 0; i < retry; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
