package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bitrise-io/go-kodo/batch"
	"github.com/bitrise-io/go-kodo/storage"
	"github.com/bitrise-io/go-kodo/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

type uploadOptions struct {
	prefix      string
	mime        string
	concurrency int
}

func newUploadCmd(a *app) *cobra.Command {
	var opts uploadOptions
	cmd := &cobra.Command{
		Use:   "upload <bucket> <path or glob>...",
		Short: "Upload files into a bucket",
		Long: `Upload files into a bucket. Patterns may use ** to match nested directories,
the object key of a file is its path relative to the non-pattern part of its pattern.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fail(a.upload(cmd, args[0], args[1:], opts))
		},
	}
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "prepended to every object key")
	cmd.Flags().StringVar(&opts.mime, "mime", "", "MIME type of every file, detected by the service when empty")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "number of parallel uploads")
	return cmd
}

func (a *app) upload(cmd *cobra.Command, bucketName string, patterns []string, opts uploadOptions) error {
	cred, err := a.credential()
	if err != nil {
		return err
	}
	files, err := expandPaths(patterns, a.logger)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no file matches %s", strings.Join(patterns, ", "))
	}

	bucket := storage.NewClient(cred, a.cfg, storage.WithLogger(a.logger)).Bucket(bucketName)
	token, err := bucket.UploadToken()
	if err != nil {
		return err
	}
	manager := upload.NewManager(a.cfg, upload.WithLogger(a.logger))
	uploader := batch.New(bucket.Uploader(manager), token,
		batch.WithExpectedJobs(len(files)),
		batch.WithConcurrency(opts.concurrency),
		batch.WithLogger(a.logger),
	)

	var mu sync.Mutex
	var failed int
	for _, f := range files {
		_, err := uploader.EnqueueFilePath(f.path, batch.Params{
			Key:  opts.prefix + f.key,
			MIME: opts.mime,
			OnCompleted: func(job batch.Job, resp *upload.Response, err error) {
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					a.logger.Errorf("%s: %s", job.Path, err)
					return
				}
				size, _ := resp.Fields["fsize"].(float64)
				a.logger.Printf("%s -> %s (%s, %s)", job.Path, resp.Key, units.HumanSizeWithPrecision(size, 3), resp.Hash)
			},
		})
		if err != nil {
			return err
		}
	}

	if err := uploader.Start(cmd.Context()); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(files))
	}
	a.logger.Donef("Uploaded %d file(s) to %s", len(files), bucketName)
	return nil
}

type localFile struct {
	path string
	key  string
}

// expandPaths resolves glob patterns to regular files. Plain paths are kept as they are
// and keyed by their base name.
func expandPaths(patterns []string, logger log.Logger) ([]localFile, error) {
	var files []localFile
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			files = append(files, localFile{path: pattern, key: filepath.Base(pattern)})
			continue
		}

		base, rest := doublestar.SplitPattern(filepath.ToSlash(pattern))
		matches, err := doublestar.Glob(os.DirFS(base), rest)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			logger.Warnf("No match for path pattern: %s", pattern)
			continue
		}
		for _, match := range matches {
			p := filepath.Join(filepath.FromSlash(base), filepath.FromSlash(match))
			if info, err := os.Stat(p); err != nil || info.IsDir() {
				continue
			}
			files = append(files, localFile{path: p, key: path.Clean(match)})
		}
	}
	return files, nil
}
