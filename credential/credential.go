package credential

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const formContentType = "application/x-www-form-urlencoded"

// ErrEmptyKey ...
var ErrEmptyKey = errors.New("access key and secret key must not be empty")

// Credential holds an access key / secret key pair. It is immutable and safe for concurrent use.
type Credential struct {
	accessKey string
	secretKey []byte
}

// New ...
func New(accessKey, secretKey string) *Credential {
	return &Credential{
		accessKey: accessKey,
		secretKey: []byte(secretKey),
	}
}

// NewValidated is New, but fails on an empty key.
func NewValidated(accessKey, secretKey string) (*Credential, error) {
	if accessKey == "" || secretKey == "" {
		return nil, ErrEmptyKey
	}
	return New(accessKey, secretKey), nil
}

// AccessKey ...
func (c *Credential) AccessKey() string {
	return c.accessKey
}

func (c *Credential) String() string {
	return fmt.Sprintf("%s:%s", c.accessKey, strings.Repeat("*", 5))
}

// Sign returns "<access key>:<urlsafe base64 of hmac-sha1(data)>".
func (c *Credential) Sign(data []byte) string {
	return c.accessKey + ":" + c.digest(data)
}

// SignWithData encodes data first and signs the encoded form:
// "<access key>:<signature>:<encoded data>". Upload tokens use this layout.
func (c *Credential) SignWithData(data []byte) string {
	encoded := base64.URLEncoding.EncodeToString(data)
	return c.Sign([]byte(encoded)) + ":" + encoded
}

// SignRequest signs a management request: the path, the raw query and, for form bodies, the body.
func (c *Credential) SignRequest(req *http.Request, body []byte) string {
	var data bytes.Buffer
	data.WriteString(req.URL.EscapedPath())
	if req.URL.RawQuery != "" {
		data.WriteByte('?')
		data.WriteString(req.URL.RawQuery)
	}
	data.WriteByte('\n')
	if len(body) > 0 && strings.HasPrefix(req.Header.Get("Content-Type"), formContentType) {
		data.Write(body)
	}
	return c.Sign(data.Bytes())
}

func (c *Credential) digest(data []byte) string {
	mac := hmac.New(sha1.New, c.secretKey)
	mac.Write(data)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
