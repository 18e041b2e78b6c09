package service

import (
	"errors"

	"github.com/knovalab/knova/internal/kberr"
)

// APIError is the wire shape of every error the service returns.
type APIError struct {
	ErrorKind string            `json:"error_kind"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.ErrorKind + ": " + e.Message
}

// FromError converts any error to the caller-facing shape. Structured
// errors keep their kind and details; everything else becomes Internal
// with the message suppressed.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	var structured *kberr.Error
	if errors.As(err, &structured) {
		out := &APIError{
			ErrorKind: string(structured.Kind),
			Message:   structured.Message,
		}
		if len(structured.Details) > 0 {
			out.Details = make(map[string]string, len(structured.Details))
			for k, v := range structured.Details {
				out.Details[k] = v
			}
		}
		return out
	}

	return &APIError{
		ErrorKind: string(kberr.KindOf(err)),
		Message:   "internal error",
	}
}
