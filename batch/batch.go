// Package batch uploads many files to one bucket with a fixed-size worker pool, reporting
// per-file progress and completion through callbacks.
package batch

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bitrise-io/go-kodo/metrics"
	"github.com/bitrise-io/go-kodo/upload"
	"github.com/bitrise-io/go-kodo/uptoken"
	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned by Enqueue and Start while Start is running.
	ErrAlreadyRunning = errors.New("batch upload is already running")
	// ErrMissingCompletionCallback ...
	ErrMissingCompletionCallback = errors.New("completion callback is required")
	// ErrNilReader ...
	ErrNilReader = errors.New("reader must not be nil")
	// ErrBucketMissingInUploadToken is returned by NewFromToken and by Enqueue* for job
	// tokens without a bucket.
	ErrBucketMissingInUploadToken = upload.ErrBucketMissingInUploadToken
)

// Uploader is a batch upload scheduler bound to one bucket and one upload token.
// Jobs are queued with Enqueue* and uploaded by Start; afterwards the Uploader can be reused.
type Uploader struct {
	uploader *upload.BucketUploader
	token    *uptoken.UploadToken
	logger   log.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	queue        []*job
	running      bool
	lastID       JobID
	expectedJobs int
	concurrency  int
}

// New creates an Uploader uploading with u and token.
func New(u *upload.BucketUploader, token *uptoken.UploadToken, opts ...Option) *Uploader {
	b := &Uploader{
		uploader: u,
		token:    token,
		logger:   u.Manager().Logger(),
		metrics:  u.Manager().Metrics(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewFromToken creates an Uploader for the bucket named in the policy of token.
func NewFromToken(m *upload.Manager, token *uptoken.UploadToken, opts ...Option) (*Uploader, error) {
	u, err := m.ForUploadToken(token)
	if err != nil {
		return nil, err
	}
	return New(u, token, opts...), nil
}

// SetExpectedJobs ...
func (u *Uploader) SetExpectedJobs(n int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.expectedJobs = n
}

// SetConcurrency ...
func (u *Uploader) SetConcurrency(n int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.concurrency = n
}

// Len returns the number of queued jobs.
func (u *Uploader) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.queue)
}

// EnqueueFilePath queues the upload of the file at path. The path is not checked until
// the job runs.
func (u *Uploader) EnqueueFilePath(path string, params Params) (JobID, error) {
	return u.enqueue(&job{Job: Job{Key: params.Key, Path: path, UserData: params.UserData}, params: params})
}

// EnqueueReader queues the upload of everything read from r. r must stay readable
// until the job completes.
func (u *Uploader) EnqueueReader(r io.Reader, params Params) (JobID, error) {
	if r == nil {
		return 0, ErrNilReader
	}
	return u.enqueue(&job{Job: Job{Key: params.Key, UserData: params.UserData}, reader: r, params: params})
}

func (u *Uploader) enqueue(j *job) (JobID, error) {
	if j.params.OnCompleted == nil {
		return 0, ErrMissingCompletionCallback
	}
	if err := upload.ValidateMIME(j.params.MIME); err != nil {
		return 0, err
	}
	if token := j.params.UploadToken; token != nil {
		policy, err := token.Policy()
		if err != nil {
			return 0, err
		}
		if policy.Bucket() == "" {
			return 0, ErrBucketMissingInUploadToken
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return 0, ErrAlreadyRunning
	}
	u.lastID++
	j.ID = u.lastID
	u.queue = append(u.queue, j)
	return j.ID, nil
}

// Start uploads every queued job and blocks until all of them completed. Each job reports
// its outcome through its completion callback; a failed job does not affect the others.
// When ctx is cancelled the jobs not finished yet complete with the context error.
func (u *Uploader) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return ErrAlreadyRunning
	}
	u.running = true
	queue := &fifo{jobs: u.queue}
	u.queue = nil
	workers := u.workerCount(len(queue.jobs))
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.running = false
		u.mu.Unlock()
	}()

	if len(queue.jobs) == 0 {
		return nil
	}
	u.logger.Debugf("Uploading %d file(s) to %s with %d worker(s)", len(queue.jobs), u.uploader.Bucket(), workers)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				j, ok := queue.pop()
				if !ok {
					return nil
				}
				u.run(ctx, j)
			}
		})
	}
	return g.Wait()
}

func (u *Uploader) run(ctx context.Context, j *job) {
	guard := &progressGuard{}
	params := upload.Params{
		Key:             j.params.Key,
		FileName:        j.params.FileName,
		MIME:            j.params.MIME,
		Vars:            j.params.Vars,
		Metadata:        j.params.Metadata,
		DisableChecksum: j.params.DisableChecksum,
		Resumable:       j.params.Resumable,
		UploadThreshold: j.params.UploadThreshold,
	}
	token := u.token
	if j.params.UploadToken != nil {
		token = j.params.UploadToken
	}
	if j.params.OnProgress != nil {
		params.OnProgress = func(uploaded, total int64) {
			guard.call(func() {
				j.params.OnProgress(j.Job, uploaded, total)
			})
		}
	}

	var resp *upload.Response
	var err error
	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
	case j.reader != nil:
		resp, err = u.uploader.UploadReader(ctx, j.reader, token, params)
	default:
		resp, err = u.uploader.UploadFilePath(ctx, j.Path, token, params)
	}
	guard.finish()

	u.metrics.BatchJobDone(err)
	if err != nil {
		u.logger.Warnf("Job %d failed: %s", j.ID, err)
	} else {
		u.logger.Debugf("Job %d uploaded as %s", j.ID, resp.Key)
	}
	j.params.OnCompleted(j.Job, resp, err)
}
