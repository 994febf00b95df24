package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/observability"
)

// PlatformDefaultMIME is used when no preferred encoding is supported.
const PlatformDefaultMIME = "application/octet-stream"

// PreferredMIMETypes lists capture encodings from most to least preferred.
var PreferredMIMETypes = []string{
	"audio/ogg;codecs=opus",
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/mpeg",
}

// Capture is the microphone capability.
type Capture interface {
	IsTypeSupported(mime string) bool
	Start(ctx context.Context, mime string) (Stream, error)
}

// Stream delivers captured chunks until Stop. Chunks is closed once capture has ended.
type Stream interface {
	Chunks() <-chan []byte
	Stop() error
}

// SelectMIMEType returns the first preferred type c supports, or PlatformDefaultMIME.
func SelectMIMEType(c Capture) string {
	for _, mime := range PreferredMIMETypes {
		if c.IsTypeSupported(mime) {
			return mime
		}
	}
	return PlatformDefaultMIME
}

// CommandCapture records by running an external command and reading its stdout.
type CommandCapture struct {
	Command []string
	MIME    string
	Logger  zerolog.Logger
}

// NewCommandCapture splits a shell-style command line on whitespace.
func NewCommandCapture(commandLine, mime string, logger zerolog.Logger) *CommandCapture {
	return &CommandCapture{
		Command: strings.Fields(commandLine),
		MIME:    strings.TrimSpace(mime),
		Logger:  observability.Component(logger, "capture"),
	}
}

func (c *CommandCapture) IsTypeSupported(mime string) bool {
	return c.MIME != "" && strings.EqualFold(strings.TrimSpace(mime), c.MIME)
}

func (c *CommandCapture) Start(ctx context.Context, mime string) (Stream, error) {
	if len(c.Command) == 0 {
		return nil, &CaptureUnavailableError{Reason: "no capture command configured"}
	}
	resolved, err := exec.LookPath(c.Command[0])
	if err != nil {
		return nil, &CaptureUnavailableError{
			Reason: fmt.Sprintf("%s not found; install it or set CAPTURE_COMMAND", c.Command[0]),
			Err:    err,
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, resolved, c.Command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &CaptureUnavailableError{Reason: "open capture pipe", Err: err}
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &CaptureUnavailableError{Reason: "start capture command", Err: err}
	}
	c.Logger.Debug().Str("mime", mime).Str("command", c.Command[0]).Msg("capture started")

	s := &commandStream{
		cmd:    cmd,
		cancel: cancel,
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
		stderr: &stderr,
	}
	go s.pump(stdout)
	return s, nil
}

type commandStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	chunks chan []byte
	done   chan struct{}
	stderr *strings.Builder

	once    sync.Once
	waitErr error
}

func (s *commandStream) Chunks() <-chan []byte { return s.chunks }

func (s *commandStream) pump(r io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, 32<<10)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.chunks <- chunk
		}
		if err != nil {
			break
		}
	}
	s.waitErr = s.cmd.Wait()
	close(s.done)
}

// Stop signals the command to finish and waits for its output to drain.
func (s *commandStream) Stop() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			// Encoders flush their trailer on interrupt.
			if err := s.cmd.Process.Signal(interruptSignal()); err != nil {
				s.cancel()
			}
		}
	})
	<-s.done
	s.cancel()
	if s.waitErr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(s.waitErr, &exitErr) {
		// Interrupted capture commands routinely exit non-zero.
		return nil
	}
	return fmt.Errorf("capture command: %w: %s", s.waitErr, strings.TrimSpace(s.stderr.String()))
}
