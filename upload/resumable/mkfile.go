package resumable

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/bitrise-io/go-kodo/internal/httpx"
	"github.com/hashicorp/go-retryablehttp"
)

// FileParams describes the object assembled by MakeFile.
type FileParams struct {
	// Key is the object key; the server assigns one when empty.
	Key      string
	FileName string
	MIME     string
	// Vars are custom variables, sent as x:<name>.
	Vars map[string]string
	// Metadata is stored with the object, sent as x-qn-meta-<name>.
	Metadata map[string]string
}

// MakeFile assembles the uploaded blocks into an object and decodes the response into v.
// It returns the request id of the mkfile request.
func (u *Uploader) MakeFile(ctx context.Context, target Target, size int64, contexts []string, params FileParams, v interface{}) (string, error) {
	req, err := retryablehttp.NewRequest(http.MethodPost, target.UpURL+makeFilePath(size, params), []byte(strings.Join(contexts, ",")))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "UpToken "+target.Token)

	return httpx.Do(u.client, req, v, u.logger)
}

func makeFilePath(size int64, params FileParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "/mkfile/%d", size)
	if params.Key != "" {
		b.WriteString("/key/" + encode(params.Key))
	}
	if params.FileName != "" {
		b.WriteString("/fname/" + encode(params.FileName))
	}
	if params.MIME != "" {
		b.WriteString("/mimeType/" + encode(params.MIME))
	}
	for _, k := range sortedKeys(params.Vars) {
		b.WriteString("/x:" + k + "/" + encode(params.Vars[k]))
	}
	for _, k := range sortedKeys(params.Metadata) {
		b.WriteString("/x-qn-meta-" + k + "/" + encode(params.Metadata[k]))
	}
	return b.String()
}

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
