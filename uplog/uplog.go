// Package uplog buffers per-attempt upload records and ships them to the upload log service.
package uplog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-kodo/config"
	"github.com/bitrise-io/go-kodo/internal/httpx"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
)

const (
	flushRetries = 2
	flushTimeout = 10 * time.Second
)

// Record is one upload attempt.
type Record struct {
	Type       string `json:"type"`
	UpID       string `json:"up_id"`
	Host       string `json:"host"`
	StatusCode int    `json:"status_code,omitempty"`
	ReqID      string `json:"req_id,omitempty"`
	Duration   int64  `json:"total_elapsed_time"`
	Bytes      int64  `json:"bytes_sent"`
	Error      string `json:"error_message,omitempty"`
	UpTime     int64  `json:"up_time"`
}

// Recorder is safe for concurrent use. A nil *Recorder drops every record.
type Recorder struct {
	url        string
	threshold  int
	client     *retryablehttp.Client
	logger     log.Logger
	retryWait  time.Duration
	mu         sync.Mutex
	buf        bytes.Buffer
	flushMutex sync.Mutex
	flushing   atomic.Bool
	wg         sync.WaitGroup
}

// NewRecorder returns nil when upload logging is disabled in cfg.
func NewRecorder(cfg *config.Config, client *retryablehttp.Client, logger log.Logger) *Recorder {
	if !cfg.IsUplogEnabled() {
		return nil
	}
	return &Recorder{
		url:       strings.TrimSuffix(cfg.UplogURL, "/") + "/log/3",
		threshold: int(cfg.UplogFileUploadThreshold),
		client:    client,
		logger:    logger,
		retryWait: time.Second,
	}
}

// Record buffers rec and, once the buffer grew past the threshold, flushes it in the
// background. At most one background flush runs at a time; it outlives ctx
// cancellation but is bounded by its own timeout. Flush failures are logged and the
// records dropped.
func (r *Recorder) Record(ctx context.Context, token string, rec Record) {
	if r == nil {
		return
	}
	if rec.UpTime == 0 {
		rec.UpTime = time.Now().Unix()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		r.logger.Debugf("Failed to encode upload log record: %s", err)
		return
	}

	r.mu.Lock()
	r.buf.Write(line)
	r.buf.WriteByte('\n')
	full := r.buf.Len() >= r.threshold
	r.mu.Unlock()

	if full {
		r.flushAsync(ctx, token)
	}
}

func (r *Recorder) flushAsync(ctx context.Context, token string) {
	if !r.flushing.CompareAndSwap(false, true) {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.flushing.Store(false)
		defer cancel()

		if err := r.Flush(flushCtx, token); err != nil {
			r.logger.Debugf("Failed to flush upload log, dropping records: %s", err)
		}
	}()
}

// Wait blocks until the running background flush, if any, finished.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// Buffered returns the size of the records waiting for a flush.
func (r *Recorder) Buffered() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// Flush sends the buffered records, gzip compressed. The buffer is emptied even when
// sending fails.
func (r *Recorder) Flush(ctx context.Context, token string) error {
	if r == nil {
		return nil
	}
	r.flushMutex.Lock()
	defer r.flushMutex.Unlock()

	r.mu.Lock()
	if r.buf.Len() == 0 {
		r.mu.Unlock()
		return nil
	}
	records := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	r.mu.Unlock()

	var body bytes.Buffer
	zw := gzip.NewWriter(&body)
	if _, err := zw.Write(records); err != nil {
		return fmt.Errorf("compress upload log: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress upload log: %w", err)
	}

	return retry.Times(flushRetries).Wait(r.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		req, err := retryablehttp.NewRequest(http.MethodPost, r.url, body.Bytes())
		if err != nil {
			return fmt.Errorf("create request: %w", err), true
		}
		req = req.WithContext(ctx)
		req.Header.Set("Content-Type", "text/plain")
		req.Header.Set("Content-Encoding", "gzip")
		req.Header.Set("Authorization", "UpToken "+token)

		if err := httpx.DoJSON(r.client, req, nil, r.logger); err != nil {
			return fmt.Errorf("send upload log (attempt %d): %w", attempt+1, err), ctx.Err() != nil
		}
		return nil, true
	})
}
