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

// Package config loads the conformance CLI's storage and logging settings
// from a TOML file, defaults -> file -> env, in the style of the retrieved
// pack's own config loaders (e.g. nevindra-oasis's internal/config).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config selects which storage backend the workflowd example binary runs
// against. The core engine itself takes no configuration; this exists only
// for the conformance CLI.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

// StorageConfig picks a storage.Store implementation and its parameters.
type StorageConfig struct {
	// Backend is one of "memory", "sqlite", "kv". Defaults to "memory".
	Backend string `toml:"backend"`

	// Path is the on-disk file for the sqlite/kv backends.
	Path string `toml:"path"`

	// WAL enables write-ahead logging for the sqlite backend.
	WAL bool `toml:"wal"`
}

// LoggingConfig configures internal/log.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a Config with all defaults applied: in-memory storage,
// info-level JSON logging.
func Default() Config {
	return Config{
		Storage: StorageConfig{Backend: "memory"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads config: defaults -> TOML file at path -> env vars (env wins).
// A missing or unreadable file silently falls back to defaults, since the
// conformance CLI is meant to run with zero configuration out of the box.
func Load(path string) Config {
	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = toml.Unmarshal(data, &cfg)
		}
	}

	if v := os.Getenv("WORKFLOWD_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("WORKFLOWD_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("WORKFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}
