package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryServer   ErrorCategory = "server"
	CategoryExternal ErrorCategory = "external"
)

// Relay pipeline error codes
const (
	// Remote job lifecycle
	CodeSubmission     = "SUBMISSION_ERROR"
	CodeTransient      = "TRANSIENT_NETWORK"
	CodeRemoteJob      = "REMOTE_JOB_ERROR"
	CodeWaitTimeout    = "WAIT_TIMEOUT"
	CodeLinkResolution = "LINK_RESOLUTION_ERROR"

	// Streaming relay
	CodeZeroLength      = "ZERO_LENGTH"
	CodeUnsupportedSeek = "UNSUPPORTED_SEEK"
	CodeTransfer        = "TRANSFER_ERROR"
	CodeInvalidState    = "INVALID_STATE"

	// Chat delivery
	CodeNotification = "NOTIFICATION_ERROR"

	// HTTP surface
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeTokenExpired   = "TOKEN_EXPIRED"
	CodeNotFound       = "NOT_FOUND"
	CodeInternalError  = "INTERNAL_ERROR"
	CodeDatabaseError  = "DATABASE_ERROR"
	CodeStorageError   = "STORAGE_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"-"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *AppError with the same code, so that
// errors.Is(err, errors.ZeroLength("")) matches any zero-length failure.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// ErrorResponse is the JSON structure returned to clients
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Remote job constructors

func Submission(message string) *AppError {
	return New(CodeSubmission, message, CategoryClient, http.StatusBadRequest)
}

func TransientNetwork(message string) *AppError {
	return New(CodeTransient, message, CategoryExternal, http.StatusBadGateway)
}

func RemoteJob(message string) *AppError {
	return New(CodeRemoteJob, message, CategoryExternal, http.StatusBadGateway)
}

func WaitTimeout(message string) *AppError {
	return New(CodeWaitTimeout, message, CategoryExternal, http.StatusGatewayTimeout)
}

func LinkResolution(message string) *AppError {
	return New(CodeLinkResolution, message, CategoryExternal, http.StatusBadGateway)
}

// Relay constructors

func ZeroLength(message string) *AppError {
	return New(CodeZeroLength, message, CategoryExternal, http.StatusBadGateway)
}

func UnsupportedSeek(message string) *AppError {
	return New(CodeUnsupportedSeek, message, CategoryServer, http.StatusInternalServerError)
}

func Transfer(message string) *AppError {
	return New(CodeTransfer, message, CategoryExternal, http.StatusBadGateway)
}

func InvalidState(message string) *AppError {
	return New(CodeInvalidState, message, CategoryServer, http.StatusConflict)
}

func Notification(message string) *AppError {
	return New(CodeNotification, message, CategoryExternal, http.StatusBadGateway)
}

// HTTP surface constructors

func BadRequest(message string) *AppError {
	return New(CodeInvalidRequest, message, CategoryClient, http.StatusBadRequest)
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, CategoryClient, http.StatusUnauthorized)
}

func TokenExpired() *AppError {
	return New(CodeTokenExpired, "token has expired", CategoryClient, http.StatusUnauthorized)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), CategoryClient, http.StatusNotFound)
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message, CategoryServer, http.StatusInternalServerError)
}

func StorageError(message string) *AppError {
	return New(CodeStorageError, message, CategoryServer, http.StatusInternalServerError)
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, requestID string, err error) {
	appErr, ok := As(err)
	if !ok {
		// Wrap unknown errors as internal errors
		appErr = InternalError("an unexpected error occurred").WithCause(err)
	}

	resp := ErrorResponse{
		Error: ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: requestID,
			Details:   appErr.Details,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// As returns the first *AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is is errors.Is, re-exported so callers need only one errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// CodeOf returns the code of the first *AppError in err's chain, or
// CodeInternalError for anything else.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternalError
}

// HasCode reports whether err carries an *AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// Describe renders a short diagnostic suitable for a chat message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return fmt.Sprintf("%s: %s", appErr.Code, appErr.Message)
	}
	return err.Error()
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Code == CodeTransient
}

// IsClientError returns true if the error is a client error
func IsClientError(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Category == CategoryClient
}

// IsExternalError returns true if the error is an external service error
func IsExternalError(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Category == CategoryExternal
}
