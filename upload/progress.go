package upload

import (
	"bytes"
	"io"
	"sync"
)

// progress serializes the calls of a progress callback and keeps the reported count
// growing when an upload is restarted on another host.
type progress struct {
	mu       sync.Mutex
	fn       func(uploaded, total int64)
	total    int64
	reported int64
}

func newProgress(fn func(uploaded, total int64), total int64) *progress {
	return &progress{fn: fn, total: total}
}

func (p *progress) report(uploaded int64) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if uploaded <= p.reported {
		return
	}
	p.reported = uploaded
	p.fn(uploaded, p.total)
}

// progressReader reports the bytes the transport consumed from a request body.
type progressReader struct {
	r        *bytes.Reader
	read     int64
	progress *progress
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.read += int64(n)
		r.progress.report(r.read)
	}
	return n, err
}

// Len lets retryablehttp set the Content-Length of the request.
func (r *progressReader) Len() int {
	return r.r.Len()
}

type countingReader struct {
	r io.Reader
	n int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.n += int64(n)
	return n, err
}
