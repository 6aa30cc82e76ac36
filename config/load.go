package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the file configuration.
const (
	AccessKeyEnvKey            = "KODO_ACCESS_KEY"
	SecretKeyEnvKey            = "KODO_SECRET_KEY"
	UseHTTPSEnvKey             = "KODO_USE_HTTPS"
	UCURLEnvKey                = "KODO_UC_URL"
	RSURLEnvKey                = "KODO_RS_URL"
	APIURLEnvKey               = "KODO_API_URL"
	UplogURLEnvKey             = "KODO_UPLOG_URL"
	UplogDisabledEnvKey        = "KODO_UPLOG_DISABLED"
	UploadThresholdEnvKey      = "KODO_UPLOAD_THRESHOLD"
	ResumableConcurrencyEnvKey = "KODO_RESUMABLE_CONCURRENCY"
	HostRetriesEnvKey          = "KODO_HOST_RETRIES"
	HostFreezeDurationEnvKey   = "KODO_HOST_FREEZE_DURATION"
)

// Load reads the YAML file at path on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := Parse(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML content into cfg. Keys missing from content keep their current value.
func Parse(content []byte, cfg *Config) error {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

// ApplyEnv overrides cfg with the values set in envRepo.
func (c *Config) ApplyEnv(envRepo env.Repository) error {
	if v := envRepo.Get(AccessKeyEnvKey); v != "" {
		c.AccessKey = v
	}
	if v := envRepo.Get(SecretKeyEnvKey); v != "" {
		c.SecretKey = Secret(v)
	}
	for key, target := range map[string]*string{
		UCURLEnvKey:    &c.UCURL,
		RSURLEnvKey:    &c.RSURL,
		APIURLEnvKey:   &c.APIURL,
		UplogURLEnvKey: &c.UplogURL,
	} {
		if v := envRepo.Get(key); v != "" {
			*target = v
		}
	}

	var errs []error
	if v := envRepo.Get(UseHTTPSEnvKey); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", UseHTTPSEnvKey, err))
		}
		c.UseHTTPS = b
	}
	if v := envRepo.Get(UplogDisabledEnvKey); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", UplogDisabledEnvKey, err))
		}
		c.UplogDisabled = b
	}
	if v := envRepo.Get(UploadThresholdEnvKey); v != "" {
		size, err := ParseSize(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", UploadThresholdEnvKey, err))
		}
		c.UploadThreshold = size
	}
	if v := envRepo.Get(ResumableConcurrencyEnvKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ResumableConcurrencyEnvKey, err))
		}
		c.ResumableConcurrency = n
	}
	if v := envRepo.Get(HostRetriesEnvKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", HostRetriesEnvKey, err))
		}
		c.HostRetries = n
	}
	if v := envRepo.Get(HostFreezeDurationEnvKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", HostFreezeDurationEnvKey, err))
		}
		c.HostFreezeDuration = d
	}

	return errors.Join(errs...)
}
