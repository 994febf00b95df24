package audio

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const stderrTailBytes = 8 << 10

// RunFilter pipes input through an external command and returns its stdout.
// A missing executable yields *ToolingMissingError; a failed run yields *DecodeError.
func RunFilter(ctx context.Context, path string, args []string, input []byte, timeout time.Duration) ([]byte, error) {
	path = strings.TrimSpace(path)
	tool := filepath.Base(path)
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, &ToolingMissingError{Tool: tool, Path: path}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, resolved, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &ToolingMissingError{Tool: tool, Path: path}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &DecodeError{Format: tool, Details: "timed out or cancelled", Err: ctxErr}
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > stderrTailBytes {
			detail = strings.TrimSpace(detail[len(detail)-stderrTailBytes:])
		}
		if detail == "" {
			detail = err.Error()
		}
		return nil, &DecodeError{Format: tool, Details: detail, Err: err}
	}
	return stdout.Bytes(), nil
}
