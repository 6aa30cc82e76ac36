// Package resumable uploads large sources as blocks (mkblk) which a final mkfile request
// assembles into one object. Blocks of a file are uploaded in parallel, streams block by
// block; either way only the blocks in flight are held in memory.
package resumable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bitrise-io/go-kodo/etag"
	"github.com/bitrise-io/go-kodo/internal/httpx"
	"github.com/bitrise-io/go-kodo/kodoerr"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// BlockSize is the size of every block but the last.
const BlockSize = etag.BlockSize

var errChecksumMismatch = errors.New("block checksum mismatch")

// Target is the endpoint and the credentials of one upload attempt.
type Target struct {
	UpURL string
	Token string
}

// ProgressFunc is called with the number of bytes acknowledged by the server so far.
type ProgressFunc func(uploaded int64)

type blockResult struct {
	index   int
	context string
	err     error
}

type blockResponse struct {
	Ctx      string `json:"ctx"`
	Checksum string `json:"checksum"`
	CRC32    uint32 `json:"crc32"`
	Offset   int64  `json:"offset"`
	Host     string `json:"host"`
}

// Uploader handles parallel block uploads with retry and hung detection. A block counts
// as hung when it takes HungThreshold longer than the average block of the same source.
type Uploader struct {
	config     Config
	client     *retryablehttp.Client
	httpClient *http.Client
	logger     log.Logger
	blockSize  int64
}

// New creates an Uploader. Blocks are sent with the plain HTTP client of client and
// retried by the Uploader itself; mkfile goes through the retrying client.
func New(config Config, client *retryablehttp.Client, logger log.Logger) *Uploader {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.MaxRetryPerBlock < 1 {
		config.MaxRetryPerBlock = 1
	}
	return &Uploader{
		config:     config,
		client:     client,
		httpClient: client.HTTPClient,
		logger:     logger,
		blockSize:  BlockSize,
	}
}

// BlockSize returns the size of the blocks providers must be created with.
func (u *Uploader) BlockSize() int64 {
	return u.blockSize
}

// Upload uploads every block of provider in parallel and returns the block contexts in
// block order.
func (u *Uploader) Upload(ctx context.Context, target Target, provider BlockProvider, onProgress ProgressFunc) ([]string, error) {
	numBlocks := provider.NumBlocks()
	if numBlocks == 0 {
		return []string{}, nil
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stats := NewStats()
	resultChan := make(chan blockResult, numBlocks)
	semaphore := make(chan struct{}, u.config.Concurrency)

	for i := 0; i < numBlocks; i++ {
		go func(index int) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			block, err := provider.Block(index)
			if err != nil {
				resultChan <- blockResult{index: index, err: kodoerr.Classify(err)}
				return
			}
			blockCtx, err := u.uploadBlockWithRetry(uploadCtx, target, stats, block, index, numBlocks)
			resultChan <- blockResult{index: index, context: blockCtx, err: err}
		}(i)
	}

	contexts := make([]string, numBlocks)
	var uploaded int64
	for completed := 0; completed < numBlocks; completed++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("upload cancelled while waiting for blocks: %w", ctx.Err())
		case result := <-resultChan:
			if result.err != nil {
				return nil, fmt.Errorf("block %d: %w", result.index+1, result.err)
			}
			contexts[result.index] = result.context
			uploaded += provider.BlockSize(result.index)
			if onProgress != nil {
				onProgress(uploaded)
			}
		}
	}

	return contexts, nil
}

// UploadStream uploads r block by block and returns the block contexts and the number of
// bytes read. r is read until io.EOF.
func (u *Uploader) UploadStream(ctx context.Context, target Target, r io.Reader, onProgress ProgressFunc) ([]string, int64, error) {
	var contexts []string
	var uploaded int64
	stats := NewStats()
	buf := make([]byte, u.blockSize)

	for index := 0; ; index++ {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			blockCtx, err := u.uploadBlockWithRetry(ctx, target, stats, buf[:n], index, -1)
			if err != nil {
				return nil, uploaded, fmt.Errorf("block %d: %w", index+1, err)
			}
			contexts = append(contexts, blockCtx)
			uploaded += int64(n)
			if onProgress != nil {
				onProgress(uploaded)
			}
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return contexts, uploaded, nil
		}
		if readErr != nil {
			return nil, uploaded, kodoerr.NewIOError(fmt.Errorf("read block %d: %w", index+1, readErr))
		}
	}
}

func (u *Uploader) uploadBlockWithRetry(ctx context.Context, target Target, stats *Stats, block []byte, index, totalBlocks int) (string, error) {
	var uploadErr error

	for attempt := 0; attempt < u.config.MaxRetryPerBlock; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("block %d upload cancelled: %w", index+1, err)
		}

		u.logger.Debugf("Uploading block %d/%s (attempt %d/%d) [finished=%d] [avg=%v]",
			index+1, totalString(totalBlocks), attempt+1, u.config.MaxRetryPerBlock,
			stats.FinishedCount(), stats.Average().Round(time.Millisecond))

		start := time.Now()
		blockCtx, cancelBlock := context.WithCancel(ctx)

		if attempt < u.config.MaxRetryPerBlock-1 && u.config.HungThreshold > 0 {
			go u.detectHungUpload(blockCtx, cancelBlock, stats, start, index)
		}

		var blockContext string
		blockContext, uploadErr = u.uploadBlock(blockCtx, target, block)
		hung := blockCtx.Err() != nil && ctx.Err() == nil
		cancelBlock()

		if uploadErr == nil {
			stats.Update(time.Since(start))
			return blockContext, nil
		}

		if ctx.Err() != nil {
			return "", fmt.Errorf("block %d upload cancelled: %w", index+1, ctx.Err())
		}
		if !hung && !isRetryable(uploadErr) {
			return "", uploadErr
		}

		backoff := time.Duration(attempt+1) * 100 * time.Millisecond
		u.logger.Warnf("Block %d attempt %d failed (hung: %v), retrying after %v: %s", index+1, attempt+1, hung, backoff, uploadErr)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("block %d upload cancelled: %w", index+1, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return "", uploadErr
}

func (u *Uploader) detectHungUpload(ctx context.Context, cancel context.CancelFunc, stats *Stats, start time.Time, index int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stats.FinishedCount() > 0 {
				elapsed := time.Since(start)
				avg := stats.Average()
				if elapsed-avg > u.config.HungThreshold {
					u.logger.Warnf("Found hung block upload (block %d); canceling request after %s (avg: %s)",
						index+1, elapsed.Round(time.Second), avg.Round(time.Second))
					cancel()
					return
				}
			}
		}
	}
}

func (u *Uploader) uploadBlock(ctx context.Context, target Target, block []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.UpURL+"/mkblk/"+strconv.Itoa(len(block)), bytes.NewReader(block))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "UpToken "+target.Token)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", kodoerr.NewIOError(fmt.Errorf("mkblk: %w", err))
	}
	defer httpx.CloseBody(resp, u.logger)

	var blockResp blockResponse
	if err := httpx.DecodeJSON(resp, &blockResp); err != nil {
		return "", err
	}
	if blockResp.CRC32 != crc32.ChecksumIEEE(block) {
		return "", kodoerr.NewIOError(fmt.Errorf("%w: server crc32 %d (reqid: %s)", errChecksumMismatch, blockResp.CRC32, resp.Header.Get(httpx.ReqIDHeader)))
	}
	return blockResp.Ctx, nil
}

func isRetryable(err error) bool {
	if code, _, ok := kodoerr.AsResponseStatus(err); ok {
		return code >= 500 && code < 600 && code != 579
	}
	return httpx.IsTransportError(err)
}

func totalString(total int) string {
	if total < 0 {
		return "?"
	}
	return strconv.Itoa(total)
}
