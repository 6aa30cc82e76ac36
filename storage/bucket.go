package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/bitrise-io/go-kodo/region"
	"github.com/bitrise-io/go-kodo/upload"
	"github.com/bitrise-io/go-kodo/uptoken"
)

// ErrNoDomain is returned when no download domain is bound to a bucket.
var ErrNoDomain = errors.New("no domain bound to the bucket")

// BucketBuilder configures a Bucket. The first region set is the primary one, the
// following ones are its backups.
type BucketBuilder struct {
	client  *Client
	name    string
	regions []*region.Region
	domains []string
}

// Region appends r to the regions of the bucket.
func (b *BucketBuilder) Region(r *region.Region) *BucketBuilder {
	b.regions = append(b.regions, r)
	return b
}

// RegionID is Region with a predefined zone.
func (b *BucketBuilder) RegionID(id region.ID) (*BucketBuilder, error) {
	r, ok := region.ByID(id, b.client.cfg.UseHTTPS)
	if !ok {
		return b, fmt.Errorf("unknown region: %s", id)
	}
	return b.Region(r), nil
}

// AutoDetectRegion replaces the regions with the ones the resolver returns for the bucket.
func (b *BucketBuilder) AutoDetectRegion(ctx context.Context) (*BucketBuilder, error) {
	regions, err := b.client.resolver.Resolve(ctx, b.name, b.client.cred.AccessKey())
	if err != nil {
		return b, fmt.Errorf("detect regions of %s: %w", b.name, err)
	}
	b.regions = regions
	return b, nil
}

// PrependDomain adds a download domain with a higher priority than every domain added
// before it. The domain must be a valid URL host, optionally with a port.
func (b *BucketBuilder) PrependDomain(domain string) (*BucketBuilder, error) {
	u, err := url.Parse("http://" + domain)
	if err != nil {
		return b, fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	if u.Host != domain {
		return b, fmt.Errorf("invalid domain %q", domain)
	}
	b.domains = append([]string{domain}, b.domains...)
	return b, nil
}

// AutoDetectDomains replaces the domains with the ones bound to the bucket.
func (b *BucketBuilder) AutoDetectDomains(ctx context.Context) (*BucketBuilder, error) {
	domains, err := b.client.queryDomains(ctx, b.name)
	if err != nil {
		return b, err
	}
	b.domains = domains
	return b, nil
}

// Build ...
func (b *BucketBuilder) Build() *Bucket {
	return &Bucket{
		client:  b.client,
		name:    b.name,
		regions: append([]*region.Region(nil), b.regions...),
		domains: append([]string(nil), b.domains...),
	}
}

// Bucket is a handle to a bucket. Regions and domains that were not configured are
// queried on first use and memoized.
type Bucket struct {
	client *Client
	name   string

	mu      sync.Mutex
	regions []*region.Region
	domains []string
}

// Name ...
func (b *Bucket) Name() string {
	return b.name
}

// Region returns the primary region of the bucket.
func (b *Bucket) Region(ctx context.Context) (*region.Region, error) {
	regions, err := b.Regions(ctx)
	if err != nil {
		return nil, err
	}
	return regions[0], nil
}

// Regions returns the regions of the bucket, primary first.
func (b *Bucket) Regions(ctx context.Context) ([]*region.Region, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.regions) == 0 {
		regions, err := b.client.resolver.Resolve(ctx, b.name, b.client.cred.AccessKey())
		if err != nil {
			return nil, fmt.Errorf("resolve regions of %s: %w", b.name, err)
		}
		if len(regions) == 0 {
			return nil, region.ErrNoRegion
		}
		b.regions = regions
	}
	return append([]*region.Region(nil), b.regions...), nil
}

// Domains returns the download domains of the bucket, preferred first.
func (b *Bucket) Domains(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.domains) == 0 {
		domains, err := b.client.queryDomains(ctx, b.name)
		if err != nil {
			return nil, err
		}
		b.domains = domains
	}
	return append([]string(nil), b.domains...), nil
}

// Object ...
func (b *Bucket) Object(key string) *Object {
	return &Object{bucket: b, key: key}
}

// UploadToken returns a token allowing uploads of any key into the bucket.
func (b *Bucket) UploadToken() (*uptoken.UploadToken, error) {
	policy, err := uptoken.ForBucket(b.name, b.client.cfg).Build()
	if err != nil {
		return nil, err
	}
	return uptoken.NewFromPolicy(policy, b.client.cred)
}

// Uploader returns an uploader of m bound to the bucket. Configured regions are used as
// they are; otherwise m resolves them.
func (b *Bucket) Uploader(m *upload.Manager) *upload.BucketUploader {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.regions) > 0 {
		return m.ForRegions(b.name, b.regions)
	}
	return m.ForBucket(b.name, b.client.cred.AccessKey())
}

// rsURLs returns the management hosts of the bucket, the configured default last.
func (b *Bucket) rsURLs(ctx context.Context) []string {
	var urls []string
	if r, err := b.Region(ctx); err == nil {
		urls = append(urls, r.RSURLs()...)
	} else {
		b.client.logger.Warnf("Failed to resolve the region of %s, using the default rs host: %s", b.name, err)
	}
	for _, u := range urls {
		if u == b.client.cfg.RSURL {
			return urls
		}
	}
	return append(urls, b.client.cfg.RSURL)
}

func (c *Client) queryDomains(ctx context.Context, bucket string) ([]string, error) {
	var domains []string
	query := url.Values{"tbl": {bucket}}
	if err := c.call(ctx, http.MethodGet, []string{c.cfg.APIURL}, "/v6/domain/list?"+query.Encode(), &domains); err != nil {
		return nil, fmt.Errorf("query domains of %s: %w", bucket, err)
	}
	if len(domains) == 0 {
		return nil, ErrNoDomain
	}
	return domains, nil
}
