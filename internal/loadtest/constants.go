package loadtest

import "time"

// Defaults used when a Config field is left zero.
const (
	defaultWorkers       = 16
	defaultTimeout       = 10 * time.Second
	defaultSettleTimeout = 10 * time.Second
	settlePollInterval   = 100 * time.Millisecond
	percentageMultiplier = 100
)
