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

package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Milliseconds(t *testing.T) {
	d, err := Parse(1500)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)
}

func TestParse_HumanStrings(t *testing.T) {
	cases := map[string]time.Duration{
		"30 seconds": 30 * time.Second,
		"1 second":   1 * time.Second,
		"1 minute":   1 * time.Minute,
		"2 hours":    2 * time.Hour,
		"1 day":      24 * time.Hour,
		"  5 minutes ": 5 * time.Minute,
	}
	for s, want := range cases {
		got, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
}

func TestParse_NumericString(t *testing.T) {
	d, err := Parse("500")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)
}

func TestParse_Invalid(t *testing.T) {
	cases := []any{
		"not a duration",
		"5 fortnights",
		-5,
		"-5",
		true,
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.Error(t, err, c)
	}
}

func TestParse_NegativeMillisecondsRejected(t *testing.T) {
	_, err := Parse(-1)
	assert.Error(t, err)
}
