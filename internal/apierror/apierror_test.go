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

package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	details := "Some internal error details"
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Something went wrong", details)

	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, "Something went wrong", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "INTERNAL_SERVER_ERROR: Something went wrong", apiErr.Error())
}

func TestIsCodeUnwraps(t *testing.T) {
	base := apierror.NewAPIError(apierror.ErrInsufficientFunds, "not enough", nil)
	wrapped := fmt.Errorf("funding TXN-1: %w", base)

	assert.True(t, apierror.IsCode(wrapped, apierror.ErrInsufficientFunds))
	assert.False(t, apierror.IsCode(wrapped, apierror.ErrNotFound))
	assert.False(t, apierror.IsCode(errors.New("plain"), apierror.ErrInsufficientFunds))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"NotFound", apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", nil), http.StatusNotFound},
		{"NotAuthorized", apierror.NewAPIError(apierror.ErrNotAuthorized, "Wrong party", nil), http.StatusForbidden},
		{"Unauthenticated", apierror.NewAPIError(apierror.ErrUnauthenticated, "Who are you", nil), http.StatusUnauthorized},
		{"RateLimited", apierror.NewAPIError(apierror.ErrRateLimited, "Slow down", nil), http.StatusTooManyRequests},
		{"Conflict", apierror.NewAPIError(apierror.ErrConflict, "Conflict occurred", nil), http.StatusConflict},
		{"InvalidStateTransition", apierror.NewAPIError(apierror.ErrInvalidStateTransition, "Bad move", nil), http.StatusConflict},
		{"InsufficientFunds", apierror.NewAPIError(apierror.ErrInsufficientFunds, "Too poor", nil), http.StatusPaymentRequired},
		{"CredentialExpired", apierror.NewAPIError(apierror.ErrCredentialExpired, "Expired", nil), http.StatusGone},
		{"CredentialAlreadyUsed", apierror.NewAPIError(apierror.ErrCredentialAlreadyUsed, "Used", nil), http.StatusUnprocessableEntity},
		{"CredentialMismatch", apierror.NewAPIError(apierror.ErrCredentialMismatch, "Wrong code", nil), http.StatusUnprocessableEntity},
		{"InvalidInput", apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid input", nil), http.StatusBadRequest},
		{"DependencyUnavailable", apierror.NewAPIError(apierror.ErrDependencyUnavailable, "DB down", nil), http.StatusServiceUnavailable},
		{"InternalServerError", apierror.NewAPIError(apierror.ErrInternalServer, "Internal server error", nil), http.StatusInternalServerError},
		{"Wrapped", fmt.Errorf("ctx: %w", apierror.NewAPIError(apierror.ErrNotFound, "gone", nil)), http.StatusNotFound},
		{"Unknown Error", errors.New("Unknown error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statusCode := apierror.MapErrorToHTTPStatus(tt.err)
			assert.Equal(t, tt.expected, statusCode)
		})
	}
}
