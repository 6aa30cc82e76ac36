package resumable

import (
	"time"

	"github.com/bitrise-io/go-kodo/config"
)

// Config holds configuration for the block uploader.
type Config struct {
	// Concurrency is the maximum number of parallel block uploads of one file.
	Concurrency int

	// MaxRetryPerBlock is the maximum number of attempts per block on the same host.
	MaxRetryPerBlock int

	// HungThreshold is the duration after which a block upload is considered hung
	// if it exceeds the average upload time by this amount.
	// Zero disables hung detection.
	HungThreshold time.Duration
}

// DefaultConfig returns the configuration derived from the client configuration.
func DefaultConfig(cfg *config.Config) Config {
	concurrency := cfg.ResumableConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return Config{
		Concurrency:      concurrency,
		MaxRetryPerBlock: cfg.HostRetries + 1,
		HungThreshold:    30 * time.Second,
	}
}
