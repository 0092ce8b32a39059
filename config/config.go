// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package config holds the node-local configuration for the staged-sync
// engine: data directory layout, step size, and batch/worker-pool sizes.
// Nothing here is process-global; a *Config is passed explicitly into every
// component that needs it (spec §9, "no global state").
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full set of knobs the engine itself consumes. Anything
// related to P2P, RPC serving, or mempool admission lives in the owning
// application, not here (spec §1 out-of-scope collaborators).
type Config struct {
	// DataDir is the root directory for the KV environment and segment files.
	DataDir string `toml:"datadir"`

	// StepSize is S from spec §3: the number of TxNums per step. Defaults to
	// 8192, matching small/test networks; mainnet deployments override this
	// to a larger value via the config file.
	StepSize uint64 `toml:"step_size"`

	// BatchSize bounds how many blocks a single stage iteration processes
	// before yielding back to the coordinator (so progress commits stay
	// small enough to checkpoint frequently; §4.13).
	BatchSize uint64 `toml:"batch_size"`

	// SenderRecoveryWorkers is the worker-pool width for stage 3 (§4.12.3).
	SenderRecoveryWorkers int `toml:"sender_recovery_workers"`

	// MergeWorkers is loaded from the config file but no component reads it;
	// collate/merge concurrency is fixed by domain's defaultCollateConcurrency.
	MergeWorkers int `toml:"merge_workers"`
}

// Default returns the engine's documented defaults.
func Default() Config {
	return Config{
		DataDir:               "erigoncore-data",
		StepSize:              8192,
		BatchSize:             10_000,
		SenderRecoveryWorkers: 4,
		MergeWorkers:          2,
	}
}

// Load reads path as TOML and merges it over Default(). A missing file is
// not an error: the caller gets plain defaults, matching the common case of
// running against a fresh data directory with no config file yet.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects nonsensical configurations before any component is built.
func (c Config) Validate() error {
	if c.StepSize == 0 {
		return fmt.Errorf("config: step_size must be > 0")
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("config: batch_size must be > 0")
	}
	if c.SenderRecoveryWorkers <= 0 {
		return fmt.Errorf("config: sender_recovery_workers must be > 0")
	}
	if c.MergeWorkers <= 0 {
		return fmt.Errorf("config: merge_workers must be > 0")
	}
	return nil
}
