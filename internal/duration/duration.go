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

// Package duration parses the two duration shapes the engine accepts at its
// boundary: a raw millisecond count, or a human string like "30 seconds".
// Internally every wait is converted to an absolute epoch-ms deadline, so
// restarts are trivially correct with respect to sleeps (see spec §9).
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	workflowerrors "github.com/codehz/workflow/pkg/errors"
)

var humanPattern = regexp.MustCompile(`^\s*(\d+)\s*(second|minute|hour|day)s?\s*$`)

var unitMultiplier = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// Parse converts v into a time.Duration. A time.Duration is returned
// unchanged; an int, int64 or float64 is a millisecond count (a fractional
// part is truncated); a string is either a decimal integer millisecond
// count or must match `^\s*(\d+)\s*(second|minute|hour|day)s?\s*$`.
// Negative millisecond counts and anything else return a
// *errors.ValidationError.
func Parse(v any) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case int:
		return msToDuration(int64(t))
	case int64:
		return msToDuration(t)
	case float64:
		return msToDuration(int64(t))
	case string:
		return parseString(t)
	default:
		return 0, &workflowerrors.ValidationError{
			Field:   "duration",
			Message: fmt.Sprintf("unsupported duration type %T", v),
		}
	}
}

func msToDuration(ms int64) (time.Duration, error) {
	if ms < 0 {
		return 0, &workflowerrors.ValidationError{
			Field:   "duration",
			Message: "milliseconds must be non-negative",
		}
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseString(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return msToDuration(ms)
	}

	m := humanPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, &workflowerrors.ValidationError{
			Field:   "duration",
			Message: fmt.Sprintf("invalid duration %q", s),
		}
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &workflowerrors.ValidationError{
			Field:   "duration",
			Message: fmt.Sprintf("invalid duration %q", s),
		}
	}

	return time.Duration(n) * unitMultiplier[m[2]], nil
}
