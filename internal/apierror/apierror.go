/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound               ErrorCode = "NOT_FOUND"
	ErrNotAuthorized          ErrorCode = "NOT_AUTHORIZED"
	ErrUnauthenticated        ErrorCode = "UNAUTHENTICATED"
	ErrRateLimited            ErrorCode = "RATE_LIMITED"
	ErrInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrInsufficientFunds      ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCredentialExpired      ErrorCode = "CREDENTIAL_EXPIRED"
	ErrCredentialAlreadyUsed  ErrorCode = "CREDENTIAL_ALREADY_USED"
	ErrCredentialMismatch     ErrorCode = "CREDENTIAL_MISMATCH"
	ErrDependencyUnavailable  ErrorCode = "DEPENDENCY_UNAVAILABLE"
	ErrConflict               ErrorCode = "CONFLICT"
	ErrBadRequest             ErrorCode = "BAD_REQUEST"
	ErrInvalidInput           ErrorCode = "INVALID_INPUT"
	ErrInternalServer         ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// As unwraps err into an APIError.
func As(err error) (APIError, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return APIError{}, false
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code ErrorCode) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Code == code
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := As(err); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrNotAuthorized:
			return http.StatusForbidden
		case ErrUnauthenticated:
			return http.StatusUnauthorized
		case ErrRateLimited:
			return http.StatusTooManyRequests
		case ErrConflict, ErrInvalidStateTransition:
			return http.StatusConflict
		case ErrInsufficientFunds:
			return http.StatusPaymentRequired
		case ErrCredentialExpired:
			return http.StatusGone
		case ErrCredentialAlreadyUsed, ErrCredentialMismatch:
			return http.StatusUnprocessableEntity
		case ErrInvalidInput, ErrBadRequest:
			return http.StatusBadRequest
		case ErrDependencyUnavailable:
			return http.StatusServiceUnavailable
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
