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
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/blnkfinance/prizepay/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim payout", sql.ErrConnDone)

	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, "Failed to claim payout", apiErr.Message)
	assert.Equal(t, "INTERNAL_SERVER_ERROR: Failed to claim payout", apiErr.Error())
	assert.ErrorIs(t, apiErr, sql.ErrConnDone)
}

func TestHasCode(t *testing.T) {
	conflict := apierror.NewAPIError(apierror.ErrConflict, "Payout 'pay_1' is completed, expected pending", nil)
	wrapped := fmt.Errorf("claiming payout: %w", conflict)

	assert.True(t, apierror.HasCode(wrapped, apierror.ErrConflict))
	assert.False(t, apierror.HasCode(wrapped, apierror.ErrNotFound))
	assert.False(t, apierror.HasCode(errors.New("plain"), apierror.ErrConflict))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"NotFound", apierror.NewAPIError(apierror.ErrNotFound, "Payout not found", nil), http.StatusNotFound},
		{"Conflict", apierror.NewAPIError(apierror.ErrConflict, "Already claimed", nil), http.StatusConflict},
		{"BadRequest", apierror.NewAPIError(apierror.ErrBadRequest, "Bad request", nil), http.StatusBadRequest},
		{"InvalidInput", apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid input", nil), http.StatusBadRequest},
		{"InternalServerError", apierror.NewAPIError(apierror.ErrInternalServer, "Internal server error", nil), http.StatusInternalServerError},
		{"Wrapped", fmt.Errorf("ctx: %w", apierror.NewAPIError(apierror.ErrNotFound, "missing", nil)), http.StatusNotFound},
		{"Unknown Error", errors.New("Unknown error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, apierror.MapErrorToHTTPStatus(tt.err))
		})
	}
}
