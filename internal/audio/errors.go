package audio

import (
	"fmt"
	"strings"
)

// DecodeError reports audio data that could not be decoded or converted.
type DecodeError struct {
	Format  string
	Details string
	Err     error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("audio decode failed")
	if e.Format != "" {
		b.WriteString(" (")
		b.WriteString(e.Format)
		b.WriteString(")")
	}
	if e.Details != "" {
		b.WriteString(": ")
		b.WriteString(e.Details)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ToolingMissingError reports an external executable that is not installed.
type ToolingMissingError struct {
	Tool string
	Path string
}

func (e *ToolingMissingError) Error() string {
	path := e.Path
	if path == "" {
		path = e.Tool
	}
	return fmt.Sprintf("%s not found (%s). Install %s or add it to PATH (e.g. `apt install %s`, `brew install %s`, `choco install %s`)", e.Tool, path, e.Tool, e.Tool, e.Tool, e.Tool)
}
