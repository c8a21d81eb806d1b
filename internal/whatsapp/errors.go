package whatsapp

import (
	"fmt"
	"net/http"
)

// APIError is a gateway error with a stable machine code. Handlers map
// it straight onto the HTTP response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func ErrSessionActive(name string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "SESSION_IS_ACTIVE",
		Message: fmt.Sprintf("session %s is already active", name),
	}
}

func ErrSessionNotFound(name string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "SESSION_NOT_FOUND",
		Message: fmt.Sprintf("session %s not found", name),
	}
}

func ErrSessionInitFailed(name string, err error) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "FAILED_TO_CREATE_SESSION",
		Message: fmt.Sprintf("failed to initialize session %s: %v", name, err),
	}
}

func ErrInvalidRecipient(to string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "INVALID_WHATSAPP_NUMBER_FORMAT",
		Message: fmt.Sprintf("invalid whatsapp number %q", to),
	}
}

func ErrMediaDataRequired(kind string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "MEDIA_DATA_REQUIRED",
		Message: fmt.Sprintf("%s message requires a url or buffer", kind),
	}
}

func ErrUnsupportedMessageType(kind string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "UNSUPPORTED_MESSAGE_TYPE",
		Message: fmt.Sprintf("unsupported message type %q", kind),
	}
}

func ErrSendFailed(err error) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "FAILED_TO_SEND_MESSAGE",
		Message: fmt.Sprintf("failed to send message: %v", err),
	}
}

func ErrDatabase(err error) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "DATABASE_QUERY_FAILED",
		Message: fmt.Sprintf("database query failed: %v", err),
	}
}
