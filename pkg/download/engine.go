// Package download transfers remote files to disk with skip-if-complete
// checks, ranged resume, streaming writes and bounded retry.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	errs "kemonod/pkg/errors"
	"kemonod/pkg/logger"
	"kemonod/pkg/ratelimit"
	"kemonod/pkg/retry"
)

// Source abstracts the remote side of a transfer.
type Source interface {
	// FileSize reports the remote size via a metadata request, 0 when
	// the remote does not declare one.
	FileSize(url string) (int64, error)

	// Open starts a transfer at the given byte offset. resumed reports
	// whether the remote honored the range; when false the reader
	// delivers the file from the beginning.
	Open(url string, offset int64) (body io.ReadCloser, length int64, resumed bool, err error)
}

// Task describes one file transfer.
type Task struct {
	URL  string
	Dest string

	// ExpectedSize is the remote size when the crawl already knows it,
	// 0 otherwise. Used for the skip check before any network call.
	ExpectedSize int64

	// Category is carried through to logs (image, attachment, video).
	Category string
}

// State is the terminal state of a task.
type State int

const (
	// Success means the file is complete on disk, either downloaded
	// now or found already complete.
	Success State = iota
	// PermanentFailure means retries were exhausted or the error was
	// not retryable. The partial file, if any, is retained.
	PermanentFailure
	// Canceled means the surrounding context ended mid-task.
	Canceled
)

func (s State) String() string {
	switch s {
	case Success:
		return "success"
	case PermanentFailure:
		return "permanent_failure"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result reports a task's terminal outcome.
type Result struct {
	State    State
	Attempts int
	// Bytes is the number of bytes written during this run. Zero for a
	// skip of an already complete file.
	Bytes   int64
	Skipped bool
	Err     error
}

// Engine performs file transfers sequentially with pacing between
// network dispatches.
type Engine struct {
	fs           afero.Fs
	source       Source
	pacer        *ratelimit.Pacer
	maxAttempts  int
	skipExisting bool
	backoff      retry.BackoffStrategy
	log          logger.Logger
}

// Options configures an Engine.
type Options struct {
	// MaxAttempts bounds retries per task, excluding rate-limit waits.
	MaxAttempts int
	// RetryDelay is the base of the exponential backoff between attempts.
	RetryDelay time.Duration
	// PacingDelay is the fixed minimum delay between successive network
	// dispatches, applied on success too.
	PacingDelay time.Duration
	// SkipExisting enables the complete-file checks and resume from
	// partial files. When false every task downloads from scratch,
	// overwriting whatever is on disk.
	SkipExisting bool
}

// NewEngine creates a download engine writing through the given
// filesystem.
func NewEngine(fs afero.Fs, source Source, opts Options, log logger.Logger) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}

	return &Engine{
		fs:           fs,
		source:       source,
		pacer:        ratelimit.NewPacer(opts.PacingDelay),
		maxAttempts:  opts.MaxAttempts,
		skipExisting: opts.SkipExisting,
		backoff: &retry.ExponentialBackoff{
			BaseDelay:  opts.RetryDelay,
			MaxDelay:   5 * time.Minute,
			Multiplier: 2.0,
		},
		log: log,
	}
}

// Fetch drives one task to a terminal state. The partial file is never
// deleted on failure so the next run can resume it.
func (e *Engine) Fetch(ctx context.Context, task *Task) Result {
	expected := task.ExpectedSize

	// Skip check against the known size needs no network call.
	if e.skipExisting && expected > 0 {
		if existing, ok := e.statSize(task.Dest); ok && existing == expected {
			e.log.DebugWithFields("file already complete, skipping", map[string]interface{}{
				"dest": task.Dest,
				"size": humanize.Bytes(uint64(existing)),
			})
			return Result{State: Success, Skipped: true}
		}
	}

	attempts := 0
	var lastErr error

	for {
		if err := e.pacer.Wait(ctx); err != nil {
			return Result{State: Canceled, Attempts: attempts, Err: err}
		}

		// Resolve the remote size once the network is involved anyway,
		// so the skip and resume logic has something to compare against.
		if expected <= 0 {
			size, err := e.source.FileSize(task.URL)
			if err == nil {
				expected = size
			}

			if e.skipExisting && expected > 0 {
				if existing, ok := e.statSize(task.Dest); ok && existing == expected {
					e.log.DebugWithFields("file already complete, skipping", map[string]interface{}{
						"dest": task.Dest,
						"size": humanize.Bytes(uint64(existing)),
					})
					return Result{State: Success, Attempts: attempts, Skipped: true}
				}
			}
		}

		attempts++

		written, err := e.transfer(ctx, task, expected)
		if err == nil {
			e.log.InfoWithFields("download complete", map[string]interface{}{
				"dest":     task.Dest,
				"bytes":    humanize.Bytes(uint64(written)),
				"attempts": attempts,
				"category": task.Category,
			})
			return Result{State: Success, Attempts: attempts, Bytes: written}
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{State: Canceled, Attempts: attempts, Err: err}
		}

		lastErr = err

		var apiErr *errs.Error
		rateLimited := errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeRateLimit

		if !rateLimited {
			if errors.As(err, &apiErr) && !errs.IsRetryable(apiErr.Type) {
				e.log.ErrorWithFields("download failed permanently", map[string]interface{}{
					"url":   task.URL,
					"dest":  task.Dest,
					"error": err.Error(),
				})
				return Result{State: PermanentFailure, Attempts: attempts, Err: err}
			}
			if attempts >= e.maxAttempts {
				e.log.ErrorWithFields("download retries exhausted", map[string]interface{}{
					"url":      task.URL,
					"dest":     task.Dest,
					"attempts": attempts,
					"error":    err.Error(),
				})
				return Result{
					State:    PermanentFailure,
					Attempts: attempts,
					Err:      fmt.Errorf("max attempts (%d) exceeded: %w", e.maxAttempts, lastErr),
				}
			}
		} else {
			// Rate limiting is transient pressure, not a task defect.
			// It waits longer and does not consume an attempt.
			attempts--
		}

		delay := e.backoff.NextDelay(attempts + 1)
		if rateLimited {
			delay = e.backoff.NextDelay(attempts + 2)
		}

		e.log.WarnWithFields("retrying download", map[string]interface{}{
			"url":          task.URL,
			"attempt":      attempts,
			"delay_ms":     delay.Milliseconds(),
			"rate_limited": rateLimited,
			"error":        err.Error(),
		})

		if err := retry.Wait(ctx, delay); err != nil {
			return Result{State: Canceled, Attempts: attempts, Err: err}
		}
	}
}

// transfer performs one attempt, resuming from the current partial size.
func (e *Engine) transfer(ctx context.Context, task *Task, expected int64) (int64, error) {
	var offset int64
	if e.skipExisting {
		if existing, ok := e.statSize(task.Dest); ok {
			if expected > 0 && existing > expected {
				// A partial larger than the remote means the file changed
				// upstream. Start over.
				offset = 0
			} else {
				offset = existing
			}
		}
	}

	body, length, resumed, err := e.source.Open(task.URL, offset)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	if offset > 0 && resumed {
		e.log.DebugWithFields("resuming partial download", map[string]interface{}{
			"dest":      task.Dest,
			"offset":    humanize.Bytes(uint64(offset)),
			"remaining": humanize.Bytes(uint64(length)),
		})
	}

	dir := filepath.Dir(task.Dest)
	if err := e.fs.MkdirAll(dir, 0755); err != nil {
		return 0, &errs.Error{
			Type:    errs.ErrorTypeFilesystem,
			Message: fmt.Sprintf("failed to create directory: %v", err),
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 && resumed {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	out, err := e.fs.OpenFile(task.Dest, flags, 0644)
	if err != nil {
		return 0, &errs.Error{
			Type:    errs.ErrorTypeFilesystem,
			Message: fmt.Sprintf("failed to open destination: %v", err),
		}
	}
	defer out.Close()

	written, err := e.copyChunks(ctx, out, body)
	if err != nil {
		return written, err
	}

	if err := out.Close(); err != nil {
		return written, &errs.Error{
			Type:    errs.ErrorTypeFilesystem,
			Message: fmt.Sprintf("failed to close destination: %v", err),
		}
	}

	if expected > 0 {
		final, ok := e.statSize(task.Dest)
		if ok && final != expected {
			return written, &errs.Error{
				Type:    errs.ErrorTypeNetwork,
				Message: fmt.Sprintf("incomplete transfer: have %d of %d bytes", final, expected),
			}
		}
	}

	return written, nil
}

// copyChunks streams the body to disk, checking for cancellation between
// chunks so shutdown waits for at most one chunk write.
func (e *Engine) copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, &errs.Error{
					Type:    errs.ErrorTypeFilesystem,
					Message: fmt.Sprintf("write failed: %v", writeErr),
				}
			}
			if wn < n {
				return written, &errs.Error{
					Type:    errs.ErrorTypeFilesystem,
					Message: "short write",
				}
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, &errs.Error{
				Type:    errs.ErrorTypeNetwork,
				Message: fmt.Sprintf("stream interrupted: %v", readErr),
			}
		}
	}
}

func (e *Engine) statSize(path string) (int64, bool) {
	info, err := e.fs.Stat(path)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}
