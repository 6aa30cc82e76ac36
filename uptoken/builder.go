package uptoken

import (
	"errors"
	"strings"
	"time"

	"github.com/bitrise-io/go-kodo/config"
)

var (
	// ErrBuilderConsumed is returned by Build on a builder that already built a policy.
	ErrBuilderConsumed = errors.New("upload policy builder already consumed")
	// ErrEmptyBucket ...
	ErrEmptyBucket = errors.New("upload policy bucket must not be empty")
)

// PolicyBuilder accumulates policy constraints. It is consumed by Build;
// setters called afterwards have no effect.
type PolicyBuilder struct {
	p        policyJSON
	bucket   string
	consumed bool
}

// ForBucket creates a builder allowing uploads of any key into bucket.
// The deadline is now + cfg.UploadTokenLifetime.
func ForBucket(bucket string, cfg *config.Config) *PolicyBuilder {
	b := &PolicyBuilder{bucket: bucket}
	b.p.Scope = bucket
	b.TokenLifetime(lifetime(cfg))
	return b
}

// ForObject creates a builder allowing uploads of exactly key into bucket.
// Such a policy always allows overwriting key.
func ForObject(bucket, key string, cfg *config.Config) *PolicyBuilder {
	b := ForBucket(bucket, cfg)
	b.p.Scope = bucket + ":" + key
	return b
}

// ForObjectsWithPrefix creates a builder allowing uploads of keys starting with prefix.
func ForObjectsWithPrefix(bucket, prefix string, cfg *config.Config) *PolicyBuilder {
	b := ForObject(bucket, prefix, cfg)
	b.p.IsPrefixalScope = 1
	return b
}

func lifetime(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.UploadTokenLifetime <= 0 {
		return config.Default().UploadTokenLifetime
	}
	return cfg.UploadTokenLifetime
}

func (b *PolicyBuilder) set(fn func(p *policyJSON)) *PolicyBuilder {
	if !b.consumed {
		fn(&b.p)
	}
	return b
}

// TokenLifetime sets the deadline to now + d.
func (b *PolicyBuilder) TokenLifetime(d time.Duration) *PolicyBuilder {
	return b.TokenDeadline(time.Now().Add(d))
}

// TokenDeadline ...
func (b *PolicyBuilder) TokenDeadline(t time.Time) *PolicyBuilder {
	return b.set(func(p *policyJSON) { p.Deadline = t.Unix() })
}

// InsertOnly forbids overwriting existing objects.
func (b *PolicyBuilder) InsertOnly() *PolicyBuilder {
	return b.set(func(p *policyJSON) { p.InsertOnly = 1 })
}

// Overwritable ...
func (b *PolicyBuilder) Overwritable() *PolicyBuilder {
	return b.set(func(p *policyJSON) { p.InsertOnly = 0 })
}

// MIMEWhitelist restricts the accepted content types. Wildcards like "image/*" are allowed.
func (b *PolicyBuilder) MIMEWhitelist(mimes ...string) *PolicyBuilder {
	return b.set(func(p *policyJSON) { p.MimeLimit = strings.Join(mimes, ";") })
}

// EnableMIMEDetection ...
func (b *PolicyBuilder) EnableMIMEDetection() *PolicyBuilder {
	return b.set(func(p *policyJSON) { p.DetectMime = 1 })
}

// InfrequentStorage stores uploaded objects in the infrequent access class.
func (b *PolicyBuilder) InfrequentStorage() *PolicyBuilder {
	return b.set(func(p *policyJSON) { p.FileType = 1 })
}

// Callback makes the service POST to the first reachable URL of urls after each upload.
func (b *PolicyBuilder) Callback(urls []string, host, body, bodyType string) *PolicyBuilder {
	return b.set(func(p *policyJSON) {
		p.CallbackURL = strings.Join(urls, ";")
		p.CallbackHost = host
		p.CallbackBody = body
		p.CallbackBodyType = bodyType
	})
}

// ReturnURL ...
func (b *PolicyBuilder) ReturnURL(url string) *PolicyBuilder {
	return b.set(func(p *policyJSON) { p.ReturnURL = url })
}

// ReturnBody sets the template of the response body sent back to the uploader.
func (b *PolicyBuilder) ReturnBody(body string) *PolicyBuilder {
	return b.set(func(p *policyJSON) { p.ReturnBody = body })
}

// SaveKey ...
func (b *PolicyBuilder) SaveKey(template string, force bool) *PolicyBuilder {
	return b.set(func(p *policyJSON) {
		p.SaveKey = template
		p.ForceSaveKey = force
	})
}

// EndUser ...
func (b *PolicyBuilder) EndUser(id string) *PolicyBuilder {
	return b.set(func(p *policyJSON) { p.EndUser = id })
}

// FileSizeLimit sets the accepted size range; pass 0 to leave a side unbounded.
func (b *PolicyBuilder) FileSizeLimit(min, max int64) *PolicyBuilder {
	return b.set(func(p *policyJSON) {
		p.FsizeMin = min
		p.FsizeLimit = max
	})
}

// DeleteAfterDays ...
func (b *PolicyBuilder) DeleteAfterDays(days int) *PolicyBuilder {
	return b.set(func(p *policyJSON) { p.DeleteAfterDays = days })
}

// Build consumes the builder.
func (b *PolicyBuilder) Build() (*Policy, error) {
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	if b.bucket == "" {
		return nil, ErrEmptyBucket
	}
	b.consumed = true
	return &Policy{p: b.p}, nil
}

// IsConsumed ...
func (b *PolicyBuilder) IsConsumed() bool {
	return b.consumed
}
