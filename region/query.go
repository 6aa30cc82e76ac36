package region

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-kodo/config"
	"github.com/bitrise-io/go-kodo/internal/httpx"
	"github.com/bitrise-io/go-kodo/kodoerr"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// StatusNoSuchBucket is returned by the service for unknown buckets.
const StatusNoSuchBucket = 631

// QueryResolver asks the directory service (uc) for the regions of a bucket and caches
// the answer.
type QueryResolver struct {
	ucURL    string
	useHTTPS bool
	timeout  time.Duration
	client   *retryablehttp.Client
	logger   log.Logger
	cache    *expirable.LRU[string, []*Region]
	group    singleflight.Group
}

// QueryOption ...
type QueryOption func(*QueryResolver)

// WithHTTPClient ...
func WithHTTPClient(client *retryablehttp.Client) QueryOption {
	return func(r *QueryResolver) {
		r.client = client
	}
}

// WithLogger ...
func WithLogger(logger log.Logger) QueryOption {
	return func(r *QueryResolver) {
		r.logger = logger
	}
}

// NewQueryResolver ...
func NewQueryResolver(cfg *config.Config, opts ...QueryOption) *QueryResolver {
	r := &QueryResolver{
		ucURL:    strings.TrimSuffix(cfg.UCURL, "/"),
		useHTTPS: cfg.UseHTTPS,
		timeout:  cfg.RequestTimeout,
		logger:   log.NewLogger(),
		cache:    expirable.NewLRU[string, []*Region](cfg.RegionCacheSize, nil, cfg.RegionCacheLifetime),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = httpx.NewClient(cfg, r.logger)
	}
	return r
}

// Resolve returns the cached regions of bucket, querying the service on a cache miss.
// Concurrent misses for the same bucket share one request, which is not cancelled
// when the caller that started it gives up.
func (r *QueryResolver) Resolve(ctx context.Context, bucket, accessKey string) ([]*Region, error) {
	key := accessKey + ":" + bucket + ":" + strconv.FormatBool(r.useHTTPS)
	if regions, ok := r.cache.Get(key); ok {
		return append([]*Region(nil), regions...), nil
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		queryCtx := context.WithoutCancel(ctx)
		if r.timeout > 0 {
			var cancel context.CancelFunc
			queryCtx, cancel = context.WithTimeout(queryCtx, r.timeout)
			defer cancel()
		}

		regions, err := r.query(queryCtx, bucket, accessKey)
		if err != nil {
			return nil, err
		}
		r.cache.Add(key, regions)
		return regions, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]*Region(nil), res.Val.([]*Region)...), nil
	}
}

// Purge drops every cached answer.
func (r *QueryResolver) Purge() {
	r.cache.Purge()
}

type hostGroup struct {
	Main   []string `json:"main"`
	Backup []string `json:"backup"`
}

type serviceHosts struct {
	Acc hostGroup `json:"acc"`
	Src hostGroup `json:"src"`
}

type queryHost struct {
	Region string `json:"region"`
	Up     struct {
		Acc    hostGroup `json:"acc"`
		Src    hostGroup `json:"src"`
		OldAcc hostGroup `json:"old_acc"`
		OldSrc hostGroup `json:"old_src"`
	} `json:"up"`
	IO  serviceHosts `json:"io"`
	RS  serviceHosts `json:"rs"`
	RSF serviceHosts `json:"rsf"`
	API serviceHosts `json:"api"`
}

type queryResponse struct {
	Hosts []queryHost `json:"hosts"`
}

func (r *QueryResolver) query(ctx context.Context, bucket, accessKey string) ([]*Region, error) {
	query := url.Values{}
	query.Set("ak", accessKey)
	query.Set("bucket", bucket)

	req, err := retryablehttp.NewRequest(http.MethodGet, r.ucURL+"/v3/query?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	var resp queryResponse
	if err := httpx.DoJSON(r.client, req, &resp, r.logger); err != nil {
		if code, _, ok := kodoerr.AsResponseStatus(err); ok && code == StatusNoSuchBucket {
			return nil, kodoerr.NewResponseStatusError(StatusNoSuchBucket, "no such bucket")
		}
		return nil, fmt.Errorf("query regions of %s: %w", bucket, err)
	}
	if len(resp.Hosts) == 0 {
		return nil, fmt.Errorf("query regions of %s: %w", bucket, ErrNoRegion)
	}

	regions := make([]*Region, 0, len(resp.Hosts))
	for _, host := range resp.Hosts {
		regions = append(regions, host.toRegion(r.useHTTPS))
	}
	r.logger.Debugf("Resolved %d region(s) for bucket %s, primary: %s", len(regions), bucket, regions[0])
	return regions, nil
}

// toRegion orders upload hosts by preference: accelerated before source, main before
// backup, the non-SNI compatible hosts last.
func (h queryHost) toRegion(useHTTPS bool) *Region {
	up := appendHosts(nil, h.Up.Acc.Main)
	up = appendHosts(up, h.Up.Src.Main)
	up = appendHosts(up, h.Up.Acc.Backup)
	up = appendHosts(up, h.Up.Src.Backup)
	up = appendHosts(up, h.Up.OldAcc.Main)
	up = appendHosts(up, h.Up.OldSrc.Main)

	return &Region{
		id:       ID(h.Region),
		up:       up,
		io:       h.IO.hosts(),
		rs:       h.RS.hosts(),
		rsf:      h.RSF.hosts(),
		api:      h.API.hosts(),
		useHTTPS: useHTTPS,
	}
}

func (s serviceHosts) hosts() []string {
	hosts := appendHosts(nil, s.Src.Main)
	hosts = appendHosts(hosts, s.Acc.Main)
	hosts = appendHosts(hosts, s.Src.Backup)
	return appendHosts(hosts, s.Acc.Backup)
}
