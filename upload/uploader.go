package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-kodo/kodoerr"
	"github.com/bitrise-io/go-kodo/metrics"
	"github.com/bitrise-io/go-kodo/upload/resumable"
	"github.com/bitrise-io/go-kodo/uptoken"
)

// UploadFilePath uploads the file at path. The file is opened and closed by the uploader.
func (u *BucketUploader) UploadFilePath(ctx context.Context, path string, token *uptoken.UploadToken, params Params) (*Response, error) {
	if err := ValidateMIME(params.MIME); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, kodoerr.NewOSError(err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			u.m.logger.Warnf("Failed to close %s: %s", path, err)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return nil, kodoerr.NewOSError(err)
	}
	if params.FileName == "" {
		params.FileName = filepath.Base(path)
	}

	size := info.Size()
	if !u.resumable(size, params) {
		data := make([]byte, size)
		if _, err := io.ReadFull(file, data); err != nil {
			return nil, kodoerr.Classify(fmt.Errorf("read %s: %w", path, err))
		}
		return u.uploadForm(ctx, token, data, params)
	}

	u.m.logger.Debugf("Uploading %s (%d bytes) in blocks", path, size)
	provider := resumable.NewReaderAtProvider(file, size, u.m.blocks.BlockSize())
	progress := newProgress(params.OnProgress, size)
	return u.uploadBlocks(ctx, token, params, nil, func(ctx context.Context, target resumable.Target) ([]string, int64, error) {
		contexts, err := u.m.blocks.Upload(ctx, target, provider, progress.report)
		return contexts, size, err
	})
}

// UploadReader uploads everything read from r. r is never closed.
// Unless the upload policy is fixed by params, at most the upload threshold + 1 bytes are
// read ahead to choose between a form and a resumable upload. The whole blocks of that
// read-ahead are uploaded in parallel, the rest of r block by block. A resumable upload of
// a reader is only retried on another host as long as nothing beyond the read-ahead has
// been consumed.
func (u *BucketUploader) UploadReader(ctx context.Context, r io.Reader, token *uptoken.UploadToken, params Params) (*Response, error) {
	if err := ValidateMIME(params.MIME); err != nil {
		return nil, err
	}

	var head []byte
	switch params.Resumable {
	case NeverResumable:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, kodoerr.NewIOError(fmt.Errorf("read source: %w", err))
		}
		return u.uploadForm(ctx, token, data, params)
	case AlwaysResumable:
		// nothing is read ahead
	default:
		threshold := u.threshold(params)
		var err error
		head, err = io.ReadAll(io.LimitReader(r, threshold+1))
		if err != nil {
			return nil, kodoerr.NewIOError(fmt.Errorf("read source: %w", err))
		}
		if int64(len(head)) <= threshold {
			return u.uploadForm(ctx, token, head, params)
		}
	}

	blockSize := u.m.blocks.BlockSize()
	whole := int64(len(head)) / blockSize * blockSize
	rest := &countingReader{r: r}
	progress := newProgress(params.OnProgress, -1)
	replayable := func() bool { return rest.n == 0 }
	return u.uploadBlocks(ctx, token, params, replayable, func(ctx context.Context, target resumable.Target) ([]string, int64, error) {
		contexts, err := u.m.blocks.Upload(ctx, target, resumable.NewBytesProvider(head[:whole], blockSize), progress.report)
		if err != nil {
			return nil, 0, err
		}
		tail := io.MultiReader(bytes.NewReader(head[whole:]), rest)
		more, n, err := u.m.blocks.UploadStream(ctx, target, tail, func(uploaded int64) {
			progress.report(whole + uploaded)
		})
		if err != nil {
			return nil, whole + n, err
		}
		return append(contexts, more...), whole + n, nil
	})
}

func (u *BucketUploader) threshold(params Params) int64 {
	if params.UploadThreshold > 0 {
		return params.UploadThreshold
	}
	return int64(u.m.cfg.UploadThreshold)
}

func (u *BucketUploader) resumable(size int64, params Params) bool {
	switch params.Resumable {
	case AlwaysResumable:
		return true
	case NeverResumable:
		return false
	default:
		return size > u.threshold(params)
	}
}

type blocksFunc func(ctx context.Context, target resumable.Target) ([]string, int64, error)

func (u *BucketUploader) uploadBlocks(ctx context.Context, token *uptoken.UploadToken, params Params, replayable func() bool, upload blocksFunc) (*Response, error) {
	fileParams := resumable.FileParams{
		Key:      params.Key,
		FileName: params.FileName,
		MIME:     params.MIME,
		Vars:     params.Vars,
		Metadata: params.Metadata,
	}

	return u.withFailover(ctx, token, metrics.MethodResumable, replayable, func(ctx context.Context, target resumable.Target) (*Response, int64, string, error) {
		contexts, size, err := upload(ctx, target)
		if err != nil {
			return nil, size, "", err
		}

		var resp Response
		reqID, err := u.m.blocks.MakeFile(ctx, target, size, contexts, fileParams, &resp)
		if err != nil {
			return nil, size, reqID, err
		}
		return &resp, size, reqID, nil
	})
}
