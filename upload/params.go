package upload

import (
	"encoding/json"
	"errors"
	"mime"
	"strings"

	"github.com/bitrise-io/go-kodo/kodoerr"
)

// Params describes the object created by an upload.
type Params struct {
	// Key is the object key; the server assigns one when empty.
	Key string
	// FileName is reported to the server as the original file name.
	FileName string
	// MIME overrides the content type detected by the server.
	MIME string
	// Vars are custom variables (sent as x:<name>) available to callbacks and return bodies.
	Vars map[string]string
	// Metadata is stored with the object (sent as x-qn-meta-<name>).
	Metadata map[string]string
	// OnProgress is called with the uploaded and the total byte counts. total is -1 when
	// the size of the source is unknown.
	OnProgress func(uploaded, total int64)
	// DisableChecksum omits the crc32 field of form uploads.
	DisableChecksum bool
	// Resumable chooses between a form and a resumable upload.
	Resumable ResumablePolicy
	// UploadThreshold replaces Config.UploadThreshold when positive: larger sources are
	// uploaded resumable when Resumable is ResumableBySize.
	UploadThreshold int64
}

// ResumablePolicy ...
type ResumablePolicy int

const (
	// ResumableBySize uploads sources larger than the upload threshold resumable.
	ResumableBySize ResumablePolicy = iota
	// AlwaysResumable uploads every source in blocks, however small.
	AlwaysResumable
	// NeverResumable uploads every source in a single form request, however large.
	NeverResumable
)

// ValidateMIME checks that mimeType is a well formed type/subtype media type.
// An empty mimeType is valid.
func ValidateMIME(mimeType string) error {
	if mimeType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return kodoerr.NewBadMIMEError(mimeType, err)
	}
	typ, subtype, ok := strings.Cut(mediaType, "/")
	if !ok || typ == "" || subtype == "" {
		return kodoerr.NewBadMIMEError(mimeType, errors.New("missing subtype"))
	}
	return nil
}

// Response is the body returned by the service for a successful upload.
type Response struct {
	Key  string
	Hash string
	// Fields holds every other field of the response, e.g. the ones of a custom return body.
	Fields map[string]interface{}
}

// UnmarshalJSON ...
func (r *Response) UnmarshalJSON(data []byte) error {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	r.Key, _ = fields["key"].(string)
	r.Hash, _ = fields["hash"].(string)
	delete(fields, "key")
	delete(fields, "hash")
	r.Fields = fields
	return nil
}

// MarshalJSON ...
func (r Response) MarshalJSON() ([]byte, error) {
	fields := make(map[string]interface{}, len(r.Fields)+2)
	for k, v := range r.Fields {
		fields[k] = v
	}
	if r.Key != "" {
		fields["key"] = r.Key
	}
	if r.Hash != "" {
		fields["hash"] = r.Hash
	}
	return json.Marshal(fields)
}
