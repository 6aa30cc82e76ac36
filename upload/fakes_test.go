package upload

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bitrise-io/go-kodo/etag"
)

// fakeUpServer implements the form and the block upload endpoints. Objects are answered
// with their key, their etag and the fields the server received.
type fakeUpServer struct {
	*httptest.Server
	token string

	// status, when set, is returned for every request.
	status  int
	message string

	mu     sync.Mutex
	blocks map[string][]byte
	calls  int32
	forms  int32
}

func newFakeUpServer(t *testing.T, token string) *fakeUpServer {
	s := &fakeUpServer{token: token, blocks: map[string][]byte{}}
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Close)
	return s
}

func newFailingUpServer(t *testing.T, status int, message string) *fakeUpServer {
	s := newFakeUpServer(t, "")
	s.status = status
	s.message = message
	return s
}

func (s *fakeUpServer) Calls() int32 {
	return atomic.LoadInt32(&s.calls)
}

// FormUploads returns the number of form upload requests.
func (s *fakeUpServer) FormUploads() int32 {
	return atomic.LoadInt32(&s.forms)
}

// Blocks returns the number of blocks received.
func (s *fakeUpServer) Blocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

func (s *fakeUpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.calls, 1)
	if s.status != 0 {
		writeJSON(w, s.status, map[string]string{"error": s.message})
		return
	}

	switch {
	case r.URL.Path == "/":
		s.form(w, r)
	case strings.HasPrefix(r.URL.Path, "/mkblk/"):
		s.mkblk(w, r)
	case strings.HasPrefix(r.URL.Path, "/mkfile/"):
		s.mkfile(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (s *fakeUpServer) form(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.forms, 1)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if r.FormValue("token") != s.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad token"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	data, _ := io.ReadAll(file)

	if crc := r.FormValue("crc32"); crc != "" && crc != strconv.FormatUint(uint64(crc32.ChecksumIEEE(data)), 10) {
		writeJSON(w, 406, map[string]string{"error": "crc32 not match"})
		return
	}

	fields := map[string]interface{}{}
	for name, values := range r.MultipartForm.Value {
		if strings.HasPrefix(name, "x:") || strings.HasPrefix(name, "x-qn-meta-") {
			fields[name] = values[0]
		}
	}
	s.respond(w, r.FormValue("key"), header.Filename, header.Header.Get("Content-Type"), r.FormValue("crc32") != "", data, fields)
}

func (s *fakeUpServer) mkblk(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "UpToken "+s.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad token"})
		return
	}
	data, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	blockCtx := fmt.Sprintf("ctx-%d", len(s.blocks))
	s.blocks[blockCtx] = data
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"ctx": blockCtx, "crc32": crc32.ChecksumIEEE(data)})
}

func (s *fakeUpServer) mkfile(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "UpToken "+s.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad token"})
		return
	}
	body, _ := io.ReadAll(r.Body)

	var data []byte
	s.mu.Lock()
	for _, blockCtx := range strings.Split(string(body), ",") {
		data = append(data, s.blocks[blockCtx]...)
	}
	s.mu.Unlock()

	segments := strings.Split(strings.TrimPrefix(r.URL.Path, "/mkfile/"), "/")
	if size, _ := strconv.Atoi(segments[0]); size != len(data) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "size mismatch"})
		return
	}
	params := map[string]string{}
	for i := 1; i+1 < len(segments); i += 2 {
		value, _ := base64.URLEncoding.DecodeString(segments[i+1])
		params[segments[i]] = string(value)
	}

	fields := map[string]interface{}{}
	for name, value := range params {
		if strings.HasPrefix(name, "x:") || strings.HasPrefix(name, "x-qn-meta-") {
			fields[name] = value
		}
	}
	s.respond(w, params["key"], params["fname"], params["mimeType"], false, data, fields)
}

func (s *fakeUpServer) respond(w http.ResponseWriter, key, fileName, mimeType string, checked bool, data []byte, fields map[string]interface{}) {
	if key == "" {
		key = etag.FromBuffer(data)
	}
	fields["key"] = key
	fields["hash"] = etag.FromBuffer(data)
	fields["fsize"] = len(data)
	fields["fname"] = fileName
	fields["mimeType"] = mimeType
	fields["checked"] = checked
	writeJSON(w, http.StatusOK, fields)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Reqid", "fake-reqid")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
