// Package hostfreeze keeps track of hosts that recently failed, so failover can skip them
// until they thaw.
package hostfreeze

import (
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxFrozenHosts = 1024

// Freezer is safe for concurrent use.
type Freezer struct {
	frozen *expirable.LRU[string, time.Time]
}

// New creates a Freezer that keeps a host frozen for d.
func New(d time.Duration) *Freezer {
	return &Freezer{frozen: expirable.NewLRU[string, time.Time](maxFrozenHosts, nil, d)}
}

// Freeze marks the host of rawURL as failing.
func (f *Freezer) Freeze(rawURL string) {
	f.frozen.Add(hostOf(rawURL), time.Now())
}

// IsFrozen ...
func (f *Freezer) IsFrozen(rawURL string) bool {
	_, ok := f.frozen.Get(hostOf(rawURL))
	return ok
}

// Unfreeze ...
func (f *Freezer) Unfreeze(rawURL string) {
	f.frozen.Remove(hostOf(rawURL))
}

// Filter returns the URLs whose host is not frozen, keeping their order.
// When every URL is frozen, all of them are returned.
func (f *Freezer) Filter(urls []string) []string {
	available := make([]string, 0, len(urls))
	for _, u := range urls {
		if !f.IsFrozen(u) {
			available = append(available, u)
		}
	}
	if len(available) == 0 {
		return append(available, urls...)
	}
	return available
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
