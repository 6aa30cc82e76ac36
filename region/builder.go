package region

import (
	"errors"
	"slices"
	"strings"
)

// ErrEmptyRegion is returned when a region without a zone id has no upload host.
var ErrEmptyRegion = errors.New("region has neither a zone id nor upload hosts")

// Builder assembles a custom Region. Hosts set explicitly replace the hosts of the zone
// selected with ID.
type Builder struct {
	id                   ID
	up, io, rs, rsf, api []string
	useHTTPS             bool
}

// NewBuilder ...
func NewBuilder() *Builder {
	return &Builder{useHTTPS: true}
}

// ID ...
func (b *Builder) ID(id ID) *Builder {
	b.id = id
	return b
}

// HTTPS ...
func (b *Builder) HTTPS(useHTTPS bool) *Builder {
	b.useHTTPS = useHTTPS
	return b
}

// UpHosts appends upload hosts. Schemes are stripped.
func (b *Builder) UpHosts(hosts ...string) *Builder {
	b.up = appendHosts(b.up, hosts)
	return b
}

// IOHosts ...
func (b *Builder) IOHosts(hosts ...string) *Builder {
	b.io = appendHosts(b.io, hosts)
	return b
}

// RSHosts ...
func (b *Builder) RSHosts(hosts ...string) *Builder {
	b.rs = appendHosts(b.rs, hosts)
	return b
}

// RSFHosts ...
func (b *Builder) RSFHosts(hosts ...string) *Builder {
	b.rsf = appendHosts(b.rsf, hosts)
	return b
}

// APIHosts ...
func (b *Builder) APIHosts(hosts ...string) *Builder {
	b.api = appendHosts(b.api, hosts)
	return b
}

// Reset clears the builder so it can build another region.
func (b *Builder) Reset() *Builder {
	*b = *NewBuilder()
	return b
}

// Build ...
func (b *Builder) Build() (*Region, error) {
	r := &Region{id: b.id, useHTTPS: b.useHTTPS}
	if b.id != "" {
		base, ok := ByID(b.id, b.useHTTPS)
		if ok {
			r = base
		}
	}

	for _, field := range []struct {
		dst *[]string
		src []string
	}{
		{&r.up, b.up}, {&r.io, b.io}, {&r.rs, b.rs}, {&r.rsf, b.rsf}, {&r.api, b.api},
	} {
		if len(field.src) > 0 {
			*field.dst = append([]string(nil), field.src...)
		}
	}

	if r.id == "" && len(r.up) == 0 {
		return nil, ErrEmptyRegion
	}
	return r, nil
}

func appendHosts(dst, hosts []string) []string {
	for _, host := range hosts {
		host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
		host = strings.TrimSuffix(host, "/")
		if host != "" && !slices.Contains(dst, host) {
			dst = append(dst, host)
		}
	}
	return dst
}

