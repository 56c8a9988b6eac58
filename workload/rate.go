package workload

import "time"

// RateSource supplies the current target rate in queries per second.
type RateSource interface {
	Rate() int
}

// RateController turns the target rate and the cost of the last operation into the
// pause before the next one. It keeps no state; the rate is read on every call so a
// change applies to the very next iteration.
type RateController struct {
	source RateSource
}

// NewRateController creates a controller reading from source.
func NewRateController(source RateSource) *RateController {
	return &RateController{source: source}
}

// Interval is the nominal time budget of one iteration at rate.
func Interval(rate int) time.Duration {
	if rate < 1 {
		rate = 1
	}
	return time.Second / time.Duration(rate)
}

// Delay returns max(0, 1/rate - elapsed).
func (rc *RateController) Delay(elapsed time.Duration) time.Duration {
	d := Interval(rc.source.Rate()) - elapsed
	if d < 0 {
		return 0
	}
	return d
}
