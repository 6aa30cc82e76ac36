package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Version is reported in the User-Agent header.
const Version = "1.0.0"

// Config describes the endpoints, thresholds and timeouts shared by every client component.
// A Config must not be modified once it has been handed to a client.
type Config struct {
	AccessKey string `yaml:"access_key"`
	SecretKey Secret `yaml:"secret_key"`

	UseHTTPS          bool   `yaml:"use_https"`
	AppendedUserAgent string `yaml:"appended_user_agent"`

	UCURL    string `yaml:"uc_url"`
	RSURL    string `yaml:"rs_url"`
	APIURL   string `yaml:"api_url"`
	UplogURL string `yaml:"uplog_url"`

	BatchMaxOperationSize int `yaml:"batch_max_operation_size"`
	// UploadThreshold is the largest size uploaded in a single form request.
	UploadThreshold Size `yaml:"upload_threshold"`
	// ResumableConcurrency bounds the parallel block uploads of one file.
	ResumableConcurrency int           `yaml:"resumable_concurrency"`
	UploadTokenLifetime  time.Duration `yaml:"upload_token_lifetime"`

	// HostRetries is the number of extra attempts on the same host before failing over.
	HostRetries        int           `yaml:"host_retries"`
	HostFreezeDuration time.Duration `yaml:"host_freeze_duration"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`

	RegionCacheLifetime time.Duration `yaml:"region_cache_lifetime"`
	RegionCacheSize     int           `yaml:"region_cache_size"`

	UplogDisabled            bool `yaml:"uplog_disabled"`
	UplogFileUploadThreshold Size `yaml:"uplog_file_upload_threshold"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		UseHTTPS:                 true,
		UCURL:                    "https://uc.qbox.me",
		RSURL:                    "https://rs.qbox.me",
		APIURL:                   "https://api.qiniu.com",
		UplogURL:                 "https://uplog.qbox.me",
		BatchMaxOperationSize:    1000,
		UploadThreshold:          1 << 22,
		ResumableConcurrency:     1,
		UploadTokenLifetime:      time.Hour,
		HostRetries:              1,
		HostFreezeDuration:       10 * time.Minute,
		ConnectTimeout:           10 * time.Second,
		RequestTimeout:           5 * time.Minute,
		RegionCacheLifetime:      24 * time.Hour,
		RegionCacheSize:          128,
		UplogFileUploadThreshold: 1 << 12,
	}
}

// UserAgent ...
func (c *Config) UserAgent() string {
	ua := fmt.Sprintf("GoKodo/%s (%s; %s; %s)", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	if c.AppendedUserAgent != "" {
		ua += "/" + c.AppendedUserAgent
	}
	return ua
}

// IsUplogEnabled ...
func (c *Config) IsUplogEnabled() bool {
	return !c.UplogDisabled && c.UplogURL != ""
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []string
	for _, u := range []struct{ name, value string }{{"uc_url", c.UCURL}, {"rs_url", c.RSURL}} {
		if u.value == "" {
			problems = append(problems, u.name+" must not be empty")
		} else if !strings.HasPrefix(u.value, "http://") && !strings.HasPrefix(u.value, "https://") {
			problems = append(problems, fmt.Sprintf("%s must be an http(s) URL, got %q", u.name, u.value))
		}
	}
	if c.UploadThreshold <= 0 {
		problems = append(problems, "upload_threshold must be positive")
	}
	if c.BatchMaxOperationSize <= 0 {
		problems = append(problems, "batch_max_operation_size must be positive")
	}
	if c.ResumableConcurrency <= 0 {
		problems = append(problems, "resumable_concurrency must be positive")
	}
	if c.HostRetries < 0 {
		problems = append(problems, "host_retries must not be negative")
	}
	if c.UploadTokenLifetime <= 0 {
		problems = append(problems, "upload_token_lifetime must be positive")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid config: " + strings.Join(problems, "; "))
}
