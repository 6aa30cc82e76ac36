package region

import (
	"fmt"
	"strings"
)

// ID identifies a zone.
type ID string

// Predefined zones.
const (
	Z0  ID = "z0"
	Z1  ID = "z1"
	Z2  ID = "z2"
	NA0 ID = "na0"
	AS0 ID = "as0"
)

// Region is an immutable set of endpoints of one zone. Hosts are kept without
// scheme and in priority order; the URL accessors add the scheme.
type Region struct {
	id       ID
	up       []string
	io       []string
	rs       []string
	rsf      []string
	api      []string
	useHTTPS bool
}

// ID returns the zone id, or "" for a custom region.
func (r *Region) ID() ID {
	return r.id
}

// HTTPS reports whether the URL accessors use the https scheme.
func (r *Region) HTTPS() bool {
	return r.useHTTPS
}

// WithHTTPS returns a copy of r using the given scheme.
func (r *Region) WithHTTPS(useHTTPS bool) *Region {
	c := *r
	c.useHTTPS = useHTTPS
	return &c
}

// UpURLs returns the upload endpoints in priority order.
func (r *Region) UpURLs() []string {
	return r.urls(r.up)
}

// IOURLs returns the access (download) endpoints.
func (r *Region) IOURLs() []string {
	return r.urls(r.io)
}

// RSURLs ...
func (r *Region) RSURLs() []string {
	return r.urls(r.rs)
}

// RSFURLs ...
func (r *Region) RSFURLs() []string {
	return r.urls(r.rsf)
}

// APIURLs ...
func (r *Region) APIURLs() []string {
	return r.urls(r.api)
}

func (r *Region) String() string {
	if r.id != "" {
		return string(r.id)
	}
	if len(r.up) > 0 {
		return r.up[0]
	}
	return "custom"
}

func (r *Region) urls(hosts []string) []string {
	scheme := "http://"
	if r.useHTTPS {
		scheme = "https://"
	}
	urls := make([]string, 0, len(hosts))
	for _, host := range hosts {
		urls = append(urls, scheme+host)
	}
	return urls
}

type zone struct {
	up, io, rs, rsf, api []string
}

func newZone(suffix string) zone {
	return zone{
		up:  []string{"upload" + suffix + ".qiniup.com", "up" + suffix + ".qiniup.com"},
		io:  []string{"iovip" + suffix + ".qbox.me"},
		rs:  []string{"rs" + suffix + ".qbox.me"},
		rsf: []string{"rsf" + suffix + ".qbox.me"},
		api: []string{"api" + suffix + ".qiniu.com"},
	}
}

var zones = map[ID]zone{
	Z0:  newZone(""),
	Z1:  newZone("-z1"),
	Z2:  newZone("-z2"),
	NA0: newZone("-na0"),
	AS0: newZone("-as0"),
}

// ByID returns a predefined zone.
func ByID(id ID, useHTTPS bool) (*Region, bool) {
	z, ok := zones[ID(strings.ToLower(string(id)))]
	if !ok {
		return nil, false
	}
	return &Region{
		id:       ID(strings.ToLower(string(id))),
		up:       append([]string(nil), z.up...),
		io:       append([]string(nil), z.io...),
		rs:       append([]string(nil), z.rs...),
		rsf:      append([]string(nil), z.rsf...),
		api:      append([]string(nil), z.api...),
		useHTTPS: useHTTPS,
	}, true
}

// FromIDs builds an ordered region list of predefined zones, for offline or
// deterministic configurations.
func FromIDs(useHTTPS bool, ids ...ID) ([]*Region, error) {
	regions := make([]*Region, 0, len(ids))
	for _, id := range ids {
		r, ok := ByID(id, useHTTPS)
		if !ok {
			return nil, fmt.Errorf("unknown region id: %q", id)
		}
		regions = append(regions, r)
	}
	return regions, nil
}
