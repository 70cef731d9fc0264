// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonRetryableError_MessageIsCauseVerbatim(t *testing.T) {
	cause := errors.New("Non-retryable error")
	err := NonRetryable(cause)

	assert.Equal(t, "Non-retryable error", err.Error())
	assert.True(t, IsNonRetryable(err))
}

func TestNonRetryable_NilPassthrough(t *testing.T) {
	assert.Nil(t, NonRetryable(nil))
}

func TestIsNonRetryable_FalseForPlainError(t *testing.T) {
	assert.False(t, IsNonRetryable(errors.New("boom")))
}

func TestIsNonRetryable_FalseForNil(t *testing.T) {
	assert.False(t, IsNonRetryable(nil))
}

func TestStorageError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &StorageError{Op: "saveInstance", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "saveInstance")
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Field: "duration", Message: "must be non-negative"}
	assert.Equal(t, "validation failed on duration: must be non-negative", err.Error())
}

func TestNotFoundError_Message(t *testing.T) {
	err := &NotFoundError{Resource: "instance", ID: "abc123"}
	assert.Equal(t, "instance not found: abc123", err.Error())
}
