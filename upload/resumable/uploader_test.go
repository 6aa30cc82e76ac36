package resumable

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/bitrise-io/go-kodo/config"
	"github.com/bitrise-io/go-kodo/internal/httpx"
	"github.com/bitrise-io/go-kodo/kodoerr"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4

type fakeUpServer struct {
	mu     sync.Mutex
	blocks map[string]string
	// fail returns a status to answer a mkblk request with, or 0 to accept it.
	fail  func(call int32) int
	calls int32
}

func (s *fakeUpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "UpToken test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
		return
	}

	body, _ := io.ReadAll(r.Body)
	switch {
	case strings.HasPrefix(r.URL.Path, "/mkblk/"):
		call := atomic.AddInt32(&s.calls, 1)
		if s.fail != nil {
			if status := s.fail(call); status != 0 {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"injected failure"}`))
				return
			}
		}
		blockCtx := fmt.Sprintf("ctx-%s", body)
		s.mu.Lock()
		s.blocks[blockCtx] = string(body)
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ctx":   blockCtx,
			"crc32": crc32.ChecksumIEEE(body),
		})
	case strings.HasPrefix(r.URL.Path, "/mkfile/"):
		var content strings.Builder
		s.mu.Lock()
		for _, blockCtx := range strings.Split(string(body), ",") {
			content.WriteString(s.blocks[blockCtx])
		}
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"path": r.URL.Path, "content": content.String()})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestUploader(t *testing.T, handler http.Handler, concurrency, retries int) (*Uploader, Target) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.HostRetries = 0
	client := httpx.NewClient(cfg, log.NewLogger())

	u := New(Config{Concurrency: concurrency, MaxRetryPerBlock: retries}, client, log.NewLogger())
	u.blockSize = testBlockSize
	return u, Target{UpURL: server.URL, Token: "test-token"}
}

func TestUploader_Upload(t *testing.T) {
	server := &fakeUpServer{blocks: map[string]string{}}
	u, target := newTestUploader(t, server, 2, 1)

	data := []byte("hello world!!")
	var mu sync.Mutex
	var progress []int64
	contexts, err := u.Upload(context.Background(), target, NewBytesProvider(data, u.BlockSize()), func(uploaded int64) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, uploaded)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ctx-hell", "ctx-o wo", "ctx-rld!", "ctx-!"}, contexts)
	require.Len(t, progress, 4)
	assert.Equal(t, int64(len(data)), progress[3])
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i], progress[i-1])
	}

	var resp struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	_, err = u.MakeFile(context.Background(), target, int64(len(data)), contexts, FileParams{
		Key:      "test-key",
		FileName: "hello.txt",
		MIME:     "text/plain",
		Vars:     map[string]string{"b": "2", "a": "1"},
		Metadata: map[string]string{"owner": "kodo"},
	}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "hello world!!", resp.Content)
	assert.Equal(t, "/mkfile/13/key/dGVzdC1rZXk=/fname/aGVsbG8udHh0/mimeType/dGV4dC9wbGFpbg==/x:a/MQ==/x:b/Mg==/x-qn-meta-owner/a29kbw==", resp.Path)
}

func TestUploader_Upload_Empty(t *testing.T) {
	u, target := newTestUploader(t, &fakeUpServer{blocks: map[string]string{}}, 2, 1)

	contexts, err := u.Upload(context.Background(), target, NewBytesProvider(nil, u.BlockSize()), nil)
	require.NoError(t, err)
	assert.Empty(t, contexts)
}

func TestUploader_Upload_Retry(t *testing.T) {
	tests := []struct {
		name      string
		fail      func(call int32) int
		retries   int
		wantErr   bool
		wantCode  int
		wantCalls int32
	}{
		{
			name: "server errors are retried",
			fail: func(call int32) int {
				if call <= 2 {
					return http.StatusServiceUnavailable
				}
				return 0
			},
			retries:   3,
			wantCalls: 3,
		},
		{
			name:      "retries are exhausted",
			fail:      func(int32) int { return http.StatusBadGateway },
			retries:   2,
			wantErr:   true,
			wantCode:  http.StatusBadGateway,
			wantCalls: 2,
		},
		{
			name:      "client errors are not retried",
			fail:      func(int32) int { return http.StatusForbidden },
			retries:   3,
			wantErr:   true,
			wantCode:  http.StatusForbidden,
			wantCalls: 1,
		},
		{
			name:      "callback failure is not retried",
			fail:      func(int32) int { return 579 },
			retries:   3,
			wantErr:   true,
			wantCode:  579,
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &fakeUpServer{blocks: map[string]string{}, fail: tt.fail}
			u, target := newTestUploader(t, server, 1, tt.retries)

			contexts, err := u.Upload(context.Background(), target, NewBytesProvider([]byte("data"), u.BlockSize()), nil)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&server.calls))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, []string{"ctx-data"}, contexts)
				return
			}
			code, _, ok := kodoerr.AsResponseStatus(err)
			require.True(t, ok, "unexpected error: %v", err)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestUploader_Upload_ChecksumMismatch(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		checksum := crc32.ChecksumIEEE(body)
		if call == 1 {
			checksum++
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ctx": "ctx", "crc32": checksum})
	})
	u, target := newTestUploader(t, handler, 1, 2)

	contexts, err := u.Upload(context.Background(), target, NewBytesProvider([]byte("data"), u.BlockSize()), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ctx"}, contexts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestUploader_Upload_ConnectionRefused(t *testing.T) {
	u, target := newTestUploader(t, &fakeUpServer{blocks: map[string]string{}}, 1, 2)
	server := httptest.NewServer(http.NotFoundHandler())
	target.UpURL = server.URL
	server.Close()

	_, err := u.Upload(context.Background(), target, NewBytesProvider([]byte("data"), u.BlockSize()), nil)
	require.Error(t, err)
	_, ok := kodoerr.AsIO(err)
	assert.True(t, ok, "unexpected error: %v", err)
	_, _, ok = kodoerr.AsOS(err)
	assert.False(t, ok)
}

func TestUploader_Upload_HungDetectionPerSource(t *testing.T) {
	var slowCalls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) == "slow" {
			atomic.AddInt32(&slowCalls, 1)
			select {
			case <-time.After(1500 * time.Millisecond):
			case <-r.Context().Done():
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ctx": "ctx-" + string(body), "crc32": crc32.ChecksumIEEE(body)})
	})
	u, target := newTestUploader(t, handler, 1, 2)
	u.config.HungThreshold = 10 * time.Millisecond

	_, err := u.Upload(context.Background(), target, NewBytesProvider([]byte("fastfast"), u.BlockSize()), nil)
	require.NoError(t, err)

	// the fast blocks of the previous source must not make this block look hung
	contexts, err := u.Upload(context.Background(), target, NewBytesProvider([]byte("slow"), u.BlockSize()), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ctx-slow"}, contexts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&slowCalls))
}

func TestUploader_Upload_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	u, target := newTestUploader(t, handler, 1, 1)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := u.Upload(ctx, target, NewBytesProvider([]byte("data"), u.BlockSize()), nil)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUploader_UploadStream(t *testing.T) {
	server := &fakeUpServer{blocks: map[string]string{}}
	u, target := newTestUploader(t, server, 1, 1)

	var progress []int64
	contexts, size, err := u.UploadStream(context.Background(), target, iotest.OneByteReader(strings.NewReader("0123456789")), func(uploaded int64) {
		progress = append(progress, uploaded)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	assert.Equal(t, []string{"ctx-0123", "ctx-4567", "ctx-89"}, contexts)
	assert.Equal(t, []int64{4, 8, 10}, progress)
}

func TestUploader_UploadStream_ReadError(t *testing.T) {
	u, target := newTestUploader(t, &fakeUpServer{blocks: map[string]string{}}, 1, 1)

	_, _, err := u.UploadStream(context.Background(), target, iotest.ErrReader(io.ErrClosedPipe), nil)
	require.Error(t, err)
	_, ok := kodoerr.AsIO(err)
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	stats := NewStats()
	assert.Equal(t, int64(0), stats.FinishedCount())
	assert.Equal(t, time.Duration(0), stats.Average())

	stats.Update(100 * time.Millisecond)
	stats.Update(200 * time.Millisecond)
	stats.Update(300 * time.Millisecond)

	assert.Equal(t, int64(3), stats.FinishedCount())
	assert.Equal(t, 200*time.Millisecond, stats.Average())
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ResumableConcurrency = 4
	cfg.HostRetries = 2

	c := DefaultConfig(cfg)
	assert.Equal(t, 4, c.Concurrency)
	assert.Equal(t, 3, c.MaxRetryPerBlock)
	assert.Equal(t, 30*time.Second, c.HungThreshold)
}
