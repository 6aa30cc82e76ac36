package uptoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bitrise-io/go-kodo/credential"
	"github.com/bitrise-io/go-kodo/kodoerr"
)

// ErrInvalidUploadToken ...
var ErrInvalidUploadToken = errors.New("invalid upload token")

// UploadToken is a signed upload policy:
// "<access key>:<signature>:<urlsafe base64 of the policy JSON>".
// It is immutable and safe to share between goroutines.
type UploadToken struct {
	token string

	once      sync.Once
	accessKey string
	policy    *Policy
	parseErr  error
}

// NewFromPolicy signs policy with cred.
func NewFromPolicy(policy *Policy, cred *credential.Credential) (*UploadToken, error) {
	if policy == nil {
		return nil, errors.New("upload policy is nil")
	}
	data, err := json.Marshal(policy)
	if err != nil {
		return nil, kodoerr.NewJSONError(fmt.Errorf("marshal upload policy: %w", err))
	}

	t := &UploadToken{token: cred.SignWithData(data)}
	t.once.Do(func() {
		t.accessKey = cred.AccessKey()
		t.policy = policy
	})
	return t, nil
}

// Parse wraps an existing token string. The string is decoded lazily by
// AccessKey and Policy.
func Parse(token string) *UploadToken {
	return &UploadToken{token: token}
}

func (t *UploadToken) String() string {
	return t.token
}

// AccessKey ...
func (t *UploadToken) AccessKey() (string, error) {
	t.once.Do(t.decode)
	return t.accessKey, t.parseErr
}

// Policy ...
func (t *UploadToken) Policy() (*Policy, error) {
	t.once.Do(t.decode)
	return t.policy, t.parseErr
}

func (t *UploadToken) decode() {
	parts := strings.Split(t.token, ":")
	if len(parts) != 3 || parts[0] == "" {
		t.parseErr = ErrInvalidUploadToken
		return
	}

	data, err := base64.URLEncoding.DecodeString(parts[2])
	if err != nil {
		t.parseErr = fmt.Errorf("%w: decode policy: %s", ErrInvalidUploadToken, err)
		return
	}
	policy, err := ParsePolicy(data)
	if err != nil {
		t.parseErr = fmt.Errorf("%w: %w", ErrInvalidUploadToken, err)
		return
	}

	t.accessKey = parts[0]
	t.policy = policy
}
