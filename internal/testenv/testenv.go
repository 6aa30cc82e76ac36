// Package testenv gates the tests talking to a real object storage account.
package testenv

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"testing"

	"github.com/bitrise-io/go-kodo/config"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/joho/godotenv"
)

// Environment variables of the live tests, besides the ones read by config.ApplyEnv.
const (
	LiveTestEnvKey = "KODO_LIVE_TEST"
	BucketEnvKey   = "KODO_TEST_BUCKET"
	DomainEnvKey   = "KODO_TEST_DOMAIN"
)

// envFiles are looked up relative to the package under test.
var envFiles = []string{".env", "../.env", "../../.env"}

// Live is the setup of a live test.
type Live struct {
	Config *config.Config
	Bucket string
	Domain string
}

// Load reads the first existing file of paths into the process environment, without
// overriding variables that are already set, then builds the live setup. It returns
// false when live tests are not enabled.
func Load(paths ...string) (*Live, bool, error) {
	for _, path := range paths {
		err := godotenv.Load(path)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, false, fmt.Errorf("load %s: %w", path, err)
		}
	}

	envRepo := env.NewRepository()
	if enabled, _ := strconv.ParseBool(envRepo.Get(LiveTestEnvKey)); !enabled {
		return nil, false, nil
	}

	cfg := config.Default()
	if err := cfg.ApplyEnv(envRepo); err != nil {
		return nil, false, err
	}
	live := &Live{
		Config: cfg,
		Bucket: envRepo.Get(BucketEnvKey),
		Domain: envRepo.Get(DomainEnvKey),
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" || live.Bucket == "" {
		return nil, false, fmt.Errorf("%s, %s and %s are required by live tests", config.AccessKeyEnvKey, config.SecretKeyEnvKey, BucketEnvKey)
	}
	return live, true, nil
}

// Setup returns the live setup or skips t.
func Setup(t *testing.T) *Live {
	t.Helper()
	if testing.Short() {
		t.Skip("live test skipped in short mode")
	}

	live, ok, err := Load(envFiles...)
	if err != nil {
		t.Fatalf("live test setup: %s", err)
	}
	if !ok {
		t.Skipf("live test skipped, set %s=true to run it", LiveTestEnvKey)
	}
	return live
}
