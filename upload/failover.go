package upload

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bitrise-io/go-kodo/kodoerr"
	"github.com/bitrise-io/go-kodo/metrics"
	"github.com/bitrise-io/go-kodo/region"
	"github.com/bitrise-io/go-kodo/upload/resumable"
	"github.com/bitrise-io/go-kodo/uplog"
	"github.com/bitrise-io/go-kodo/uptoken"
	"github.com/google/uuid"
)

var errNoUpHost = errors.New("no upload host available")

type failover int

const (
	failoverNone failover = iota
	failoverHost
	failoverRegion
)

// attemptFunc uploads once to target and returns the number of bytes sent and the
// request id of the last request.
type attemptFunc func(ctx context.Context, target resumable.Target) (*Response, int64, string, error)

// withFailover calls attempt with the upload hosts of every region in order until one
// succeeds. replayable, when not nil, reports whether the source can be sent again.
// The returned error is always a *kodoerr.Error.
func (u *BucketUploader) withFailover(ctx context.Context, token *uptoken.UploadToken, method string, replayable func() bool, attempt attemptFunc) (*Response, error) {
	resp, err := u.failover(ctx, token, method, replayable, attempt)
	if err != nil {
		return nil, kodoerr.Classify(err)
	}
	return resp, nil
}

func (u *BucketUploader) failover(ctx context.Context, token *uptoken.UploadToken, method string, replayable func() bool, attempt attemptFunc) (*Response, error) {
	regions, err := u.Regions(ctx)
	if err != nil {
		return nil, err
	}

	upID := uuid.NewString()
	tokenString := token.String()
	var lastErr error

regions:
	for i, r := range regions {
		if i > 0 {
			u.m.metrics.Failover(metrics.FailoverRegion)
			u.m.logger.Warnf("Switching to region %s (%d/%d)", r, i+1, len(regions))
		}

		for _, upURL := range u.m.freezer.Filter(r.UpURLs()) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			start := time.Now()
			resp, sent, reqID, err := attempt(ctx, resumable.Target{UpURL: upURL, Token: tokenString})
			u.record(ctx, tokenString, method, upID, upURL, time.Since(start), sent, reqID, err)
			if err == nil {
				u.m.freezer.Unfreeze(upURL)
				return resp, nil
			}

			lastErr = err
			if replayable != nil && !replayable() {
				u.m.logger.Warnf("Upload to %s failed and the source cannot be read again", upURL)
				return nil, err
			}

			switch failoverOf(err) {
			case failoverHost:
				u.m.freezer.Freeze(upURL)
				u.m.metrics.Failover(metrics.FailoverHost)
				u.m.logger.Warnf("Upload to %s failed, trying the next host: %s", upURL, err)
			case failoverRegion:
				u.m.logger.Warnf("Upload to %s failed, trying the next region: %s", upURL, err)
				continue regions
			default:
				return nil, err
			}
		}
	}

	if lastErr == nil {
		return nil, errNoUpHost
	}
	return nil, lastErr
}

func failoverOf(err error) failover {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failoverNone
	}

	if code, message, ok := kodoerr.AsResponseStatus(err); ok {
		switch {
		case code == region.StatusNoSuchBucket,
			code == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "incorrect region"):
			return failoverRegion
		case code == 579:
			return failoverNone
		case code >= 500 && code < 600, code == http.StatusNotAcceptable, code == 996:
			return failoverHost
		}
		return failoverNone
	}

	var tagged *kodoerr.Error
	if errors.As(err, &tagged) {
		switch tagged.Kind() {
		case kodoerr.KindIO, kodoerr.KindJSON:
			return failoverHost
		}
		return failoverNone
	}

	return failoverHost
}

func (u *BucketUploader) record(ctx context.Context, token, method, upID, upURL string, d time.Duration, sent int64, reqID string, err error) {
	u.m.metrics.ObserveUpload(method, d, sent, err)

	rec := uplog.Record{
		Type:       method,
		UpID:       upID,
		Host:       upURL,
		StatusCode: http.StatusOK,
		ReqID:      reqID,
		Duration:   d.Milliseconds(),
		Bytes:      sent,
	}
	if err != nil {
		rec.StatusCode = 0
		rec.Error = err.Error()
		if code, _, ok := kodoerr.AsResponseStatus(err); ok {
			rec.StatusCode = code
		}
	}
	u.m.uplog.Record(ctx, token, rec)
}
