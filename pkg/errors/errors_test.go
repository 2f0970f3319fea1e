package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewError(t *testing.T) {
	err := NewError(20001, "test error")

	if err.Code != 20001 {
		t.Errorf("Expected code 20001, got %d", err.Code)
	}
	if err.Message != "test error" {
		t.Errorf("Expected message 'test error', got '%s'", err.Message)
	}
	if err.Err != nil {
		t.Error("Expected Err to be nil")
	}
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			err:      NewError(20003, "missing"),
			expected: "[20003] missing",
		},
		{
			name:     "with wrapped error",
			err:      NewError(20005, "write").Wrap(errors.New("connection reset")),
			expected: "[20005] write: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestAppError_WrapKeepsIdentity(t *testing.T) {
	cause := errors.New("disk full")
	appErr := ErrUploadFailed.Wrap(cause)

	if appErr.Code != CodeUploadFailed {
		t.Errorf("Expected code %d, got %d", CodeUploadFailed, appErr.Code)
	}
	if errors.Unwrap(appErr) != cause {
		t.Error("Expected unwrapped error to be the original error")
	}
	if ErrUploadFailed.Err != nil {
		t.Error("Wrap must not mutate the predefined error")
	}
}

func TestAppError_WithMessage(t *testing.T) {
	appErr := ErrValidation.WithMessage("conversation id is required")

	if appErr.Code != CodeValidation {
		t.Errorf("Expected code %d, got %d", CodeValidation, appErr.Code)
	}
	if appErr.Message != "conversation id is required" {
		t.Errorf("Unexpected message '%s'", appErr.Message)
	}
	if ErrValidation.Message != "参数校验失败" {
		t.Error("WithMessage must not mutate the predefined error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   *AppError
		expected bool
	}{
		{name: "same error", err: ErrForbidden, target: ErrForbidden, expected: true},
		{name: "wrapped app error", err: ErrNotFound.Wrap(errors.New("x")), target: ErrNotFound, expected: true},
		{name: "fmt wrapped", err: fmt.Errorf("ctx: %w", ErrValidation), target: ErrValidation, expected: true},
		{name: "send failed shares write code", err: ErrSendFailed, target: ErrWriteFailed, expected: true},
		{name: "different code", err: ErrForbidden, target: ErrNotFound, expected: false},
		{name: "plain error", err: errors.New("plain"), target: ErrNotFound, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.target); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGetCodeAndMessage(t *testing.T) {
	if code := GetCode(ErrSubscriptionError); code != CodeSubscriptionError {
		t.Errorf("Expected code %d, got %d", CodeSubscriptionError, code)
	}
	if code := GetCode(errors.New("plain")); code != CodeServerError {
		t.Errorf("Expected default code %d, got %d", CodeServerError, code)
	}
	if msg := GetMessage(errors.New("plain")); msg != "服务器内部错误" {
		t.Errorf("Unexpected default message '%s'", msg)
	}
	if msg := GetMessage(ErrTooManyRequest); msg != ErrTooManyRequest.Message {
		t.Errorf("Unexpected message '%s'", msg)
	}
}
