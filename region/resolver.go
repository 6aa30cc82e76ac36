package region

import (
	"context"
	"errors"
)

// ErrNoRegion is returned when a resolver has no region for a bucket.
var ErrNoRegion = errors.New("no region available")

// Resolver returns the regions of a bucket, primary region first.
type Resolver interface {
	Resolve(ctx context.Context, bucket, accessKey string) ([]*Region, error)
}

// Static always returns the same regions, regardless of the bucket.
type Static struct {
	regions []*Region
}

// NewStatic ...
func NewStatic(regions ...*Region) *Static {
	return &Static{regions: append([]*Region(nil), regions...)}
}

// Resolve ...
func (s *Static) Resolve(context.Context, string, string) ([]*Region, error) {
	if len(s.regions) == 0 {
		return nil, ErrNoRegion
	}
	return append([]*Region(nil), s.regions...), nil
}

// ResolvePrimary returns the first region resolved for bucket.
func ResolvePrimary(ctx context.Context, resolver Resolver, bucket, accessKey string) (*Region, error) {
	regions, err := resolver.Resolve(ctx, bucket, accessKey)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, ErrNoRegion
	}
	return regions[0], nil
}
