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

// Package idgen generates opaque instance identifiers.
package idgen

import "github.com/google/uuid"

// New returns a short, opaque, human-readable instance ID. Entropy is
// modest by design (8 hex characters, 32 bits). Manager.Create does not
// check an ID against existing records; what a collision does is up to the
// storage backend's SaveInstance.
func New() string {
	return uuid.New().String()[:8]
}
