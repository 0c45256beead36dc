package worker

import (
	"context"
	"errors"
	"net"

	"github.com/voxhub/asr-gateway/internal/engine"
)

type FailureClass int

const (
	// Transient: the engine was unreachable or failing; worth a bounded retry.
	Transient FailureClass = iota
	// BadInput: the engine rejected the payload; retrying cannot help.
	BadInput
	// ProcessingFailure: anything else, including unexpected response shapes.
	ProcessingFailure
)

const (
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInvalidAudio       = "INVALID_AUDIO"
	CodeProcessingFailed   = "PROCESSING_FAILED"
)

// Failure is the public face of a worker error. PublicMessage is one of a
// fixed set and never carries internal detail.
type Failure struct {
	Class         FailureClass
	Code          string
	PublicMessage string
}

func (f Failure) Retryable() bool { return f.Class == Transient }

var (
	transientFailure = Failure{
		Class:         Transient,
		Code:          CodeServiceUnavailable,
		PublicMessage: "Service is temporarily unavailable. Please try again later.",
	}
	badInputFailure = Failure{
		Class:         BadInput,
		Code:          CodeInvalidAudio,
		PublicMessage: "The audio file is not valid.",
	}
	processingFailure = Failure{
		Class:         ProcessingFailure,
		Code:          CodeProcessingFailed,
		PublicMessage: "Audio processing failed.",
	}
)

// Classify maps any engine/transport error to exactly one failure class.
func Classify(err error) Failure {
	if err == nil {
		return processingFailure
	}

	// timeouts and connection-level failures
	if errors.Is(err, context.DeadlineExceeded) {
		return transientFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transientFailure
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return transientFailure
	}

	var se *engine.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode >= 500:
			return transientFailure
		case se.StatusCode >= 400:
			return badInputFailure
		default:
			return processingFailure
		}
	}

	return processingFailure
}
