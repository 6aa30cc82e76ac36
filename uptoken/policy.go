package uptoken

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bitrise-io/go-kodo/kodoerr"
)

// policyJSON is the wire form of an upload policy.
type policyJSON struct {
	Scope            string `json:"scope"`
	IsPrefixalScope  int    `json:"isPrefixalScope,omitempty"`
	Deadline         int64  `json:"deadline"`
	InsertOnly       int    `json:"insertOnly,omitempty"`
	EndUser          string `json:"endUser,omitempty"`
	ReturnURL        string `json:"returnUrl,omitempty"`
	ReturnBody       string `json:"returnBody,omitempty"`
	CallbackURL      string `json:"callbackUrl,omitempty"`
	CallbackHost     string `json:"callbackHost,omitempty"`
	CallbackBody     string `json:"callbackBody,omitempty"`
	CallbackBodyType string `json:"callbackBodyType,omitempty"`
	SaveKey          string `json:"saveKey,omitempty"`
	ForceSaveKey     bool   `json:"forceSaveKey,omitempty"`
	FsizeMin         int64  `json:"fsizeMin,omitempty"`
	FsizeLimit       int64  `json:"fsizeLimit,omitempty"`
	DetectMime       int    `json:"detectMime,omitempty"`
	MimeLimit        string `json:"mimeLimit,omitempty"`
	FileType         int    `json:"fileType,omitempty"`
	DeleteAfterDays  int    `json:"deleteAfterDays,omitempty"`
}

// Policy is an immutable upload policy. Build one with a PolicyBuilder or
// decode one from an UploadToken.
type Policy struct {
	p policyJSON
}

// ParsePolicy decodes the JSON form of a policy.
func ParsePolicy(data []byte) (*Policy, error) {
	var p policyJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, kodoerr.NewJSONError(err)
	}
	return &Policy{p: p}, nil
}

// MarshalJSON ...
func (p *Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.p)
}

// Bucket returns the bucket of the scope, or "" when the scope is empty.
func (p *Policy) Bucket() string {
	bucket, _, _ := strings.Cut(p.p.Scope, ":")
	return bucket
}

// Key returns the exact key the policy is bound to.
func (p *Policy) Key() (string, bool) {
	if p.p.IsPrefixalScope != 0 {
		return "", false
	}
	_, key, found := strings.Cut(p.p.Scope, ":")
	return key, found
}

// KeyPrefix returns the key prefix the policy is bound to.
func (p *Policy) KeyPrefix() (string, bool) {
	if p.p.IsPrefixalScope == 0 {
		return "", false
	}
	_, prefix, found := strings.Cut(p.p.Scope, ":")
	return prefix, found
}

// Deadline is the time after which tokens of this policy are rejected.
func (p *Policy) Deadline() time.Time {
	return time.Unix(p.p.Deadline, 0)
}

// IsInsertOnly reports whether existing objects may not be overwritten.
func (p *Policy) IsInsertOnly() bool {
	return p.p.InsertOnly != 0
}

// MIMEWhitelist ...
func (p *Policy) MIMEWhitelist() []string {
	return splitNonEmpty(p.p.MimeLimit)
}

// IsMIMEDetectionEnabled ...
func (p *Policy) IsMIMEDetectionEnabled() bool {
	return p.p.DetectMime != 0
}

// IsInfrequentStorageUsed ...
func (p *Policy) IsInfrequentStorageUsed() bool {
	return p.p.FileType == 1
}

// CallbackURLs ...
func (p *Policy) CallbackURLs() []string {
	return splitNonEmpty(p.p.CallbackURL)
}

// CallbackHost ...
func (p *Policy) CallbackHost() (string, bool) {
	return p.p.CallbackHost, p.p.CallbackHost != ""
}

// CallbackBody ...
func (p *Policy) CallbackBody() (string, bool) {
	return p.p.CallbackBody, p.p.CallbackBody != ""
}

// CallbackBodyType ...
func (p *Policy) CallbackBodyType() (string, bool) {
	return p.p.CallbackBodyType, p.p.CallbackBodyType != ""
}

// ReturnURL ...
func (p *Policy) ReturnURL() (string, bool) {
	return p.p.ReturnURL, p.p.ReturnURL != ""
}

// ReturnBody ...
func (p *Policy) ReturnBody() (string, bool) {
	return p.p.ReturnBody, p.p.ReturnBody != ""
}

// SaveKey returns the save key template and whether it is forced over the key given by the uploader.
func (p *Policy) SaveKey() (string, bool, bool) {
	return p.p.SaveKey, p.p.ForceSaveKey, p.p.SaveKey != ""
}

// EndUser ...
func (p *Policy) EndUser() (string, bool) {
	return p.p.EndUser, p.p.EndUser != ""
}

// FileSizeLimit returns the accepted size range; zero means unbounded.
func (p *Policy) FileSizeLimit() (min, max int64) {
	return p.p.FsizeMin, p.p.FsizeLimit
}

// DeleteAfterDays ...
func (p *Policy) DeleteAfterDays() (int, bool) {
	return p.p.DeleteAfterDays, p.p.DeleteAfterDays > 0
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
