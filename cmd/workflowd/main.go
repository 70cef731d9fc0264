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

// Command workflowd is a conformance CLI exercising the engine package
// against each storage backend: create instances of a handful of demo
// workflows, inspect their status, send events, and recover active
// instances after a restart.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codehz/workflow/engine"
	"github.com/codehz/workflow/internal/config"
	"github.com/codehz/workflow/internal/log"
	"github.com/codehz/workflow/storage"
	"github.com/codehz/workflow/storage/kv"
	"github.com/codehz/workflow/storage/memory"
	"github.com/codehz/workflow/storage/sqlite"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "workflowd",
		Short:         "Durable workflow engine conformance CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a workflowd.toml config file")

	root.AddCommand(newCreateCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newListCommand())
	root.AddCommand(newRecoverCommand())
	root.AddCommand(newSendEventCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore constructs the configured storage.Store. The returned closer is
// nil for backends (like memory) that hold no external resource.
func openStore(cfg config.StorageConfig) (storage.Store, storage.Closer, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(), nil, nil
	case "sqlite":
		be, err := sqlite.New(sqlite.Config{Path: cfg.Path, WAL: cfg.WAL})
		if err != nil {
			return nil, nil, err
		}
		return be, be, nil
	case "kv":
		be, err := kv.New(kv.Config{Path: cfg.Path})
		if err != nil {
			return nil, nil, err
		}
		return be, be, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newManager(workflowName string) (*engine.Manager, func(), error) {
	cfg := config.Load(configPath)
	logger := log.New(&log.Config{Level: cfg.Logging.Level, Format: log.Format(cfg.Logging.Format), Output: os.Stderr})

	store, closer, err := openStore(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	wf, ok := demoWorkflows[workflowName]
	if !ok {
		return nil, nil, fmt.Errorf("unknown demo workflow %q (want one of: multiply, delayed-sum, await-event)", workflowName)
	}

	m := engine.NewManager(wf, store, engine.WithLogger(logger))
	cleanup := func() {
		if closer != nil {
			_ = closer.Close()
		}
	}
	return m, cleanup, nil
}

func newCreateCommand() *cobra.Command {
	var id, payloadJSON, workflowName string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new workflow instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := newManager(workflowName)
			if err != nil {
				return err
			}
			defer cleanup()

			var payload map[string]any
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("invalid --payload JSON: %w", err)
				}
			}

			h, err := m.Create(context.Background(), engine.CreateOptions{ID: id, Payload: payload})
			if err != nil {
				return err
			}
			fmt.Println(h.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "instance ID (generated if omitted)")
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "JSON object passed as the triggering event payload")
	cmd.Flags().StringVar(&workflowName, "workflow", "multiply", "demo workflow to run: multiply, delayed-sum, await-event")
	return cmd
}

func newStatusCommand() *cobra.Command {
	var workflowName string
	cmd := &cobra.Command{
		Use:   "status <instance-id>",
		Short: "Print an instance's current record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := newManager(workflowName)
			if err != nil {
				return err
			}
			defer cleanup()

			h, err := m.Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			rec, err := h.Status(context.Background())
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(rec)
		},
	}
	cmd.Flags().StringVar(&workflowName, "workflow", "multiply", "demo workflow the manager is constructed with")
	return cmd
}

func newListCommand() *cobra.Command {
	var workflowName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every known instance summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(configPath)
			store, closer, err := openStore(cfg.Storage)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			summaries, err := store.ListInstanceSummaries(context.Background())
			if err != nil {
				return err
			}
			for _, s := range summaries {
				fmt.Printf("%s\t%s\n", s.ID, s.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowName, "workflow", "multiply", "unused, reserved for parity with other subcommands")
	return cmd
}

func newRecoverCommand() *cobra.Command {
	var workflowName string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover every active instance and optionally wait for them to settle",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := newManager(workflowName)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := m.Recover(context.Background()); err != nil {
				return err
			}
			if wait > 0 {
				time.Sleep(wait)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowName, "workflow", "multiply", "demo workflow the recovered instances run")
	cmd.Flags().DurationVar(&wait, "wait", 0, "how long to block after recovering, to let runners finish")
	return cmd
}

func newSendEventCommand() *cobra.Command {
	var workflowName string
	cmd := &cobra.Command{
		Use:   "send-event <instance-id> <event-type> <payload>",
		Short: "Send an event to a waiting (or not-yet-waiting) instance",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := newManager(workflowName)
			if err != nil {
				return err
			}
			defer cleanup()

			h, err := m.Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			return h.SendEvent(context.Background(), args[1], args[2])
		},
	}
	cmd.Flags().StringVar(&workflowName, "workflow", "await-event", "demo workflow the manager is constructed with")
	return cmd
}
