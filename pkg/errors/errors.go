package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrBadRequest       = errors.New("bad request")
	ErrInternalServer   = errors.New("internal server error")
	ErrInvalidToken     = errors.New("invalid token")
	ErrNotParticipant   = errors.New("not a participant of this conversation")
	ErrExpired          = errors.New("message can no longer be changed")
	ErrHasAttachments   = errors.New("messages with attachments cannot be edited")
	ErrValidationFailed = errors.New("validation failed")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

type APIError struct {
	Message string `json:"error"`
	Code    string `json:"code"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(err error) *APIError {
	return &APIError{
		Message: err.Error(),
		Code:    CodeFromError(err),
		Status:  HTTPStatusFromError(err),
	}
}

func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	case errors.Is(err, ErrHasAttachments):
		return http.StatusConflict
	case errors.Is(err, ErrValidationFailed), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// CodeFromError returns the stable machine-readable code clients switch on.
func CodeFromError(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken):
		return "unauthorized"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrHasAttachments):
		return "has_attachments"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}

// FromCode is the inverse of CodeFromError, used by API clients to rebuild
// typed failures from a response body.
func FromCode(code string) error {
	switch code {
	case "not_found":
		return ErrNotFound
	case "unauthorized":
		return ErrUnauthorized
	case "not_participant":
		return ErrNotParticipant
	case "forbidden":
		return ErrForbidden
	case "expired":
		return ErrExpired
	case "has_attachments":
		return ErrHasAttachments
	case "validation_failed":
		return ErrValidationFailed
	case "bad_request":
		return ErrBadRequest
	case "rate_limited":
		return ErrRateLimited
	default:
		return ErrInternalServer
	}
}
