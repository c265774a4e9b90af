package verify

import (
	"context"
	"errors"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/liveness"
	"github.com/MrCodeEU/facecheck/pkg/matcher"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
)

// ErrorCode represents a specific verification error type.
type ErrorCode string

const (
	ErrCodeDecode          ErrorCode = "DECODE"
	ErrCodeLighting        ErrorCode = "INSUFFICIENT_LIGHTING"
	ErrCodeNoFace          ErrorCode = "NO_FACE"
	ErrCodeMultipleFaces   ErrorCode = "MULTIPLE_FACES"
	ErrCodeLivenessTimeout ErrorCode = "LIVENESS_TIMEOUT"
	ErrCodeNoMatch         ErrorCode = "NO_MATCH"
	ErrCodeCanceled        ErrorCode = "CANCELED"
	ErrCodeInternal        ErrorCode = "INTERNAL"
)

// VerifyError is a structured verification error.
type VerifyError struct {
	Code    ErrorCode
	Message string
	Retry   bool
	Err     error
}

func (e *VerifyError) Error() string {
	return e.Message
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// User-friendly error messages
var errorMessages = map[ErrorCode]string{
	ErrCodeDecode:          "The image could not be read. Please try again",
	ErrCodeLighting:        "Insufficient lighting. Please move to a brighter area",
	ErrCodeNoFace:          "Please position your face in front of the camera",
	ErrCodeMultipleFaces:   "Multiple faces detected. Please ensure only you are in frame",
	ErrCodeLivenessTimeout: "Liveness check timed out. Please try again",
	ErrCodeNoMatch:         "Face does not match any registered employee",
	ErrCodeCanceled:        "Verification was canceled",
	ErrCodeInternal:        "Face verification is unavailable",
}

// retryable codes may succeed on a later frame of the same session.
var retryable = map[ErrorCode]bool{
	ErrCodeDecode:          true,
	ErrCodeLighting:        true,
	ErrCodeNoFace:          true,
	ErrCodeMultipleFaces:   true,
	ErrCodeLivenessTimeout: true,
	ErrCodeNoMatch:         true,
}

// GetErrorMessage returns a user-friendly message for an error code.
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return "Verification failed"
}

// NewVerifyError wraps err with its code and message.
func NewVerifyError(err error) *VerifyError {
	code := CodeOf(err)
	return &VerifyError{
		Code:    code,
		Message: GetErrorMessage(code),
		Retry:   retryable[code],
		Err:     err,
	}
}

// CodeOf maps a pipeline error to its code.
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCanceled
	case errors.Is(err, imaging.ErrInsufficientLighting):
		return ErrCodeLighting
	case errors.Is(err, imaging.ErrDecode):
		return ErrCodeDecode
	case errors.Is(err, recognition.ErrNoFaceDetected):
		return ErrCodeNoFace
	case errors.Is(err, recognition.ErrMultipleFaces):
		return ErrCodeMultipleFaces
	case errors.Is(err, liveness.ErrLivenessTimeout):
		return ErrCodeLivenessTimeout
	case errors.Is(err, matcher.ErrNoMatch):
		return ErrCodeNoMatch
	default:
		return ErrCodeInternal
	}
}
