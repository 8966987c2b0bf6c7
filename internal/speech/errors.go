package speech

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied      = errors.New("speech recognition permission denied")
	ErrRecognizerUnavailable = errors.New("speech recognizer unavailable")
	ErrCaptureFailure        = errors.New("audio capture failed")
	ErrRecognitionFailure    = errors.New("speech recognition failed")
)

type ErrorKind int

const (
	KindPermissionDenied ErrorKind = iota + 1
	KindRecognizerUnavailable
	KindCaptureFailure
	KindRecognitionFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindRecognizerUnavailable:
		return "recognizer_unavailable"
	case KindCaptureFailure:
		return "capture_failure"
	case KindRecognitionFailure:
		return "recognition_failure"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindRecognizerUnavailable:
		return ErrRecognizerUnavailable
	case KindCaptureFailure:
		return ErrCaptureFailure
	case KindRecognitionFailure:
		return ErrRecognitionFailure
	default:
		return nil
	}
}

// Error is the transcription error taxonomy. Reason is set for permission
// denials, Locale for unavailable recognizers and Err for the two failure kinds.
type Error struct {
	Kind   ErrorKind
	Reason string
	Locale Locale
	Err    error
}

func PermissionDenied(reason string) *Error {
	return &Error{Kind: KindPermissionDenied, Reason: reason}
}

func RecognizerUnavailable(locale Locale) *Error {
	return &Error{Kind: KindRecognizerUnavailable, Locale: locale}
}

func CaptureFailure(err error) *Error {
	return &Error{Kind: KindCaptureFailure, Err: err}
}

func RecognitionFailure(err error) *Error {
	return &Error{Kind: KindRecognitionFailure, Err: err}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPermissionDenied:
		if e.Reason == "" {
			return ErrPermissionDenied.Error()
		}
		return fmt.Sprintf("%s (%s)", ErrPermissionDenied, e.Reason)
	case KindRecognizerUnavailable:
		return fmt.Sprintf("no speech recognizer available for locale %s", e.Locale)
	}
	sentinel := e.Kind.sentinel()
	if sentinel == nil {
		sentinel = errors.New("transcription error")
	}
	if e.Err == nil {
		return sentinel.Error()
	}
	return fmt.Sprintf("%s: %v", sentinel, e.Err)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// AsCaptureFailure keeps an existing taxonomy error unchanged and wraps
// anything else as a capture failure.
func AsCaptureFailure(err error) *Error {
	if err == nil {
		return nil
	}
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	return CaptureFailure(err)
}

func AsRecognitionFailure(err error) *Error {
	if err == nil {
		return nil
	}
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	return RecognitionFailure(err)
}
