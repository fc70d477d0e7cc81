package stash

import "time"

// Disabled is the sentinel interval value that skips a background task
// entirely.
const Disabled time.Duration = 0

// Config bundles every tunable of a Stash cache: the size cap, the
// interval and retention for each background task, the refill delay, and
// the shared worker pool's dimensions.
type Config struct {
	// Cap is the maximum number of retained cached entries across all
	// queries. Default 10000.
	Cap int

	// CapInterval is how often the cap task runs. Disabled skips it.
	CapInterval time.Duration

	// RetireInterval is how often the retirement task runs. Disabled
	// skips it.
	RetireInterval time.Duration

	// Retire is the age-since-last-use threshold the retirement task
	// drops entries past. Default 15 minutes.
	Retire time.Duration

	// RefillInterval is how often the refill task runs. Disabled skips
	// it.
	RefillInterval time.Duration

	// RefillDelay is how long a stale entry must sit before the refill
	// task will re-execute it, measured from the entry's stale
	// timestamp.
	RefillDelay time.Duration

	// Workers is the shared background worker pool's concurrency.
	// Default 4.
	Workers int

	// QueueDepth bounds the number of queued-but-not-yet-running
	// background jobs. Default 128.
	QueueDepth int
}

// DefaultConfig returns the package's default tunables.
func DefaultConfig() Config {
	return Config{
		Cap:            10000,
		CapInterval:    60 * time.Second,
		RetireInterval: 60 * time.Second,
		Retire:         15 * time.Minute,
		RefillInterval: 16 * time.Second,
		RefillDelay:    0,
		Workers:        4,
		QueueDepth:     128,
	}
}
