package upload

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-kodo/internal/httpx"
	"github.com/bitrise-io/go-kodo/kodoerr"
	"github.com/bitrise-io/go-kodo/metrics"
	"github.com/bitrise-io/go-kodo/upload/resumable"
	"github.com/bitrise-io/go-kodo/uptoken"
	"github.com/hashicorp/go-retryablehttp"
)

const defaultFileName = "untitled"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// uploadForm uploads data in a single multipart request.
func (u *BucketUploader) uploadForm(ctx context.Context, token *uptoken.UploadToken, data []byte, params Params) (*Response, error) {
	body, contentType, err := buildForm(data, token.String(), params)
	if err != nil {
		return nil, kodoerr.Classify(fmt.Errorf("build upload form: %w", err))
	}
	progress := newProgress(params.OnProgress, int64(len(body)))

	return u.withFailover(ctx, token, metrics.MethodForm, nil, func(ctx context.Context, target resumable.Target) (*Response, int64, string, error) {
		req, err := retryablehttp.NewRequest(http.MethodPost, target.UpURL+"/", retryablehttp.ReaderFunc(func() (io.Reader, error) {
			return &progressReader{r: bytes.NewReader(body), progress: progress}, nil
		}))
		if err != nil {
			return nil, 0, "", fmt.Errorf("create request: %w", err)
		}
		req = req.WithContext(ctx)
		req.Header.Set("Content-Type", contentType)

		var resp Response
		reqID, err := httpx.Do(u.m.client, req, &resp, u.m.logger)
		if err != nil {
			return nil, 0, reqID, err
		}
		return &resp, int64(len(data)), reqID, nil
	})
}

func buildForm(data []byte, token string, params Params) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{{"token", token}}
	if params.Key != "" {
		fields = append(fields, [2]string{"key", params.Key})
	}
	for _, k := range sortedKeys(params.Vars) {
		fields = append(fields, [2]string{"x:" + k, params.Vars[k]})
	}
	for _, k := range sortedKeys(params.Metadata) {
		fields = append(fields, [2]string{"x-qn-meta-" + k, params.Metadata[k]})
	}
	if !params.DisableChecksum {
		fields = append(fields, [2]string{"crc32", strconv.FormatUint(uint64(crc32.ChecksumIEEE(data)), 10)})
	}
	for _, field := range fields {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, "", err
		}
	}

	fileName := params.FileName
	if fileName == "" {
		fileName = defaultFileName
	}
	contentType := params.MIME
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(fileName)))
	header.Set("Content-Type", contentType)

	// the file part must be the last one
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
