package batch

import (
	"runtime"

	"github.com/bitrise-io/go-utils/v2/log"
)

// DefaultConcurrency is the upper bound of the worker pool: three workers per CPU,
// between 2 and 20.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3

	if c > 20 {
		c = 20
	}

	if c < 2 {
		c = 2
	}

	return c
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithExpectedJobs hints the number of jobs that will be enqueued before Start.
// It only sizes the worker pool.
func WithExpectedJobs(n int) Option {
	return func(u *Uploader) {
		u.expectedJobs = n
	}
}

// WithConcurrency sets the number of workers explicitly.
func WithConcurrency(n int) Option {
	return func(u *Uploader) {
		u.concurrency = n
	}
}

// WithLogger ...
func WithLogger(logger log.Logger) Option {
	return func(u *Uploader) {
		u.logger = logger
	}
}

// workerCount returns the pool size for jobs queued jobs.
func (u *Uploader) workerCount(jobs int) int {
	workers := u.concurrency
	if workers <= 0 {
		workers = u.expectedJobs
	}
	if workers <= 0 {
		workers = jobs
	}

	if limit := DefaultConcurrency(); workers > limit {
		workers = limit
	}
	if workers > jobs {
		workers = jobs
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
