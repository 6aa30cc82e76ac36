package batch

import (
	"io"
	"sync"

	"github.com/bitrise-io/go-kodo/upload"
	"github.com/bitrise-io/go-kodo/uptoken"
)

// JobID identifies a job within one Uploader. IDs are assigned at enqueue and never reused.
type JobID uint64

// Job is the view of a queued upload handed to the callbacks.
type Job struct {
	ID JobID
	// Key is the requested object key, empty when the server assigns it.
	Key string
	// Path is the source file, empty for reader sources.
	Path     string
	UserData any
}

// Params describes one job. OnCompleted is required.
type Params struct {
	Key             string
	FileName        string
	MIME            string
	Vars            map[string]string
	Metadata        map[string]string
	DisableChecksum bool

	// UploadToken replaces the token of the Uploader for this job. Its policy must name a
	// bucket.
	UploadToken *uptoken.UploadToken
	// Resumable and UploadThreshold choose between form and resumable upload, see
	// upload.Params.
	Resumable       upload.ResumablePolicy
	UploadThreshold int64

	// OnProgress is called with the uploaded and the total byte counts of the job. Calls for
	// the same job never overlap and never follow its OnCompleted call.
	OnProgress func(job Job, uploaded, total int64)
	// OnCompleted is called exactly once per job, with either the response or the error.
	OnCompleted func(job Job, resp *upload.Response, err error)
	UserData    any
}

type job struct {
	Job
	reader io.Reader
	params Params
}

// progressGuard drops progress reports once the job completed.
type progressGuard struct {
	mu   sync.Mutex
	done bool
}

func (g *progressGuard) call(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	fn()
}

func (g *progressGuard) finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done = true
}

// fifo is the queue workers pull from.
type fifo struct {
	mu   sync.Mutex
	jobs []*job
}

func (q *fifo) pop() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return j, true
}
