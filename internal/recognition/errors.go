package recognition

import "errors"

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
)

// CaptureUnavailableError reports that no microphone capture is possible.
type CaptureUnavailableError struct {
	Reason string
	Err    error
}

func (e *CaptureUnavailableError) Error() string {
	msg := "audio capture unavailable"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CaptureUnavailableError) Unwrap() error { return e.Err }

// RecognitionError is a recoverable failure in the capture, decode or relay step.
type RecognitionError struct {
	Stage string
	Err   error
}

func (e *RecognitionError) Error() string {
	return "speech recognition failed (" + e.Stage + "): " + e.Err.Error()
}

func (e *RecognitionError) Unwrap() error { return e.Err }
