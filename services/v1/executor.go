package v1

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"servicecatalog-cron/models"
)

// ScriptRequest is one script execution on one device platform.
type ScriptRequest struct {
	EnrollmentID string
	Body         string
	OS           models.OS
	Timeout      time.Duration
}

// ScriptResult reports how a script finished. Completed is false when the
// timeout killed it, in which case ExitCode is meaningless.
type ScriptResult struct {
	ExitCode  int
	Log       string
	Completed bool
}

// ScriptExecutor runs health check scripts. Infrastructure failures are
// returned as errors; a script that ran and exited non-zero is not an error.
type ScriptExecutor interface {
	Execute(ctx context.Context, req ScriptRequest) (ScriptResult, error)
}

// LocalExecutor runs scripts on this host, feeding the body on stdin.
type LocalExecutor struct {
	MaxLogBytes int
	// WaitDelay bounds how long output pipes may outlive a killed process.
	WaitDelay time.Duration
	Commands  map[models.OS][]string
}

func NewLocalExecutor(maxLogBytes int) *LocalExecutor {
	return &LocalExecutor{
		MaxLogBytes: maxLogBytes,
		WaitDelay:   2 * time.Second,
		Commands: map[models.OS][]string{
			models.Linux:   {"sh", "-s"},
			models.Windows: {"powershell", "-NoProfile", "-NonInteractive", "-Command", "-"},
		},
	}
}

func (x *LocalExecutor) Execute(ctx context.Context, req ScriptRequest) (ScriptResult, error) {
	argv, ok := x.Commands[req.OS]
	if !ok || len(argv) == 0 {
		return ScriptResult{}, &ExecutionError{EnrollmentID: req.EnrollmentID, Reason: fmt.Sprintf("no interpreter for %s", req.OS)}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	out := &cappedBuffer{max: x.MaxLogBytes}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(req.Body)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = x.WaitDelay

	if err := cmd.Start(); err != nil {
		return ScriptResult{}, &ExecutionError{EnrollmentID: req.EnrollmentID, Reason: "start script", Err: err}
	}
	err := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return ScriptResult{Log: out.String(), Completed: false}, nil
		}
		return ScriptResult{}, &ExecutionError{EnrollmentID: req.EnrollmentID, Reason: "cancelled", Err: ctxErr}
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return ScriptResult{ExitCode: 0, Log: out.String(), Completed: true}, nil
	case errors.As(err, &exitErr):
		return ScriptResult{ExitCode: exitErr.ExitCode(), Log: out.String(), Completed: true}, nil
	default:
		return ScriptResult{}, &ExecutionError{EnrollmentID: req.EnrollmentID, Reason: "wait for script", Err: err}
	}
}

// cappedBuffer keeps the first max bytes written and discards the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return len(p), nil
	}
	room := b.max - len(b.buf)
	if b.max <= 0 {
		room = len(p)
	}
	if room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf = append(b.buf, p[:room]...)
		}
		b.buf = dropPartialRune(b.buf)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.buf) + "\n[truncated]"
	}
	return string(b.buf)
}

// truncateExcerpt caps a log excerpt at max bytes without splitting a rune.
func truncateExcerpt(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return string(dropPartialRune([]byte(s[:max]))) + "\n[truncated]"
}

// dropPartialRune trims an incomplete UTF-8 sequence left at the end of b.
func dropPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}
