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

// Command erigoncore runs the staged-sync pipeline of spec §4.12-§4.13
// against a pure-Go memdb environment. It is a thin wiring layer: config,
// logger, KV environment and domains, coordinator, done.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/config"
	"github.com/erigontech/erigoncore/domain"
	"github.com/erigontech/erigoncore/evmadapter"
	"github.com/erigontech/erigoncore/internal/gologger"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/kv/memdb"
	"github.com/erigontech/erigoncore/stages"
	enginesync "github.com/erigontech/erigoncore/sync"
)

var (
	flagDataDir  string
	flagConfig   string
	flagLogLevel string
	flagIdle     time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "erigoncore",
		Short: "Staged-sync execution-layer engine",
	}
	root.PersistentFlags().StringVar(&flagDataDir, "datadir", "", "data directory (overrides config file)")
	root.PersistentFlags().StringVar(&flagConfig, "config", "erigoncore.toml", "path to the TOML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log.level", "info", "one of debug, info, warn, error")
	root.PersistentFlags().DurationVar(&flagIdle, "sync.idle", 2*time.Second, "sleep between idle rounds")

	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the schema and build identifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("erigoncore (db schema v%d)\n", kv.DBSchemaVersion)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the staged-sync coordinator against the configured block source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func parseLevel(s string) gologger.Level {
	switch s {
	case "debug":
		return gologger.LevelDebug
	case "warn":
		return gologger.LevelWarn
	case "error":
		return gologger.LevelError
	default:
		return gologger.LevelInfo
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := gologger.New(os.Stderr, parseLevel(flagLogLevel))
	log.Info("starting", "datadir", cfg.DataDir, "step_size", cfg.StepSize)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("erigoncore: create datadir: %w", err)
	}

	env, err := memdb.Open(cfg.DataDir, kv.ChaindataTablesCfg)
	if err != nil {
		return fmt.Errorf("erigoncore: open chaindata: %w", err)
	}
	defer env.Close()

	doms, err := openDomains(cfg)
	if err != nil {
		return err
	}
	defer func() {
		doms.Accounts.Close()
		doms.Storage.Close()
		doms.Code.Close()
	}()

	coord := enginesync.New(env, cfg, log, doms, noopBlockSource{}, nil, evmadapter.New(revertingEngine{}), common.U256FromUint64(1))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	target := func(context.Context) (common.BlockNum, error) {
		tx, err := env.BeginRo(ctx)
		if err != nil {
			return 0, err
		}
		defer tx.Rollback()
		head, err := stages.GetProgress(tx, stages.StageHeaders)
		return head, err
	}

	log.Info("entering sync loop")
	if err := coord.Run(ctx, target, flagIdle); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("shutting down")
	return nil
}

func openDomains(cfg config.Config) (stages.Domains, error) {
	accounts, err := domain.Open(cfg.DataDir, kv.AccountsDomain, cfg.StepSize, true)
	if err != nil {
		return stages.Domains{}, err
	}
	storage, err := domain.Open(cfg.DataDir, kv.StorageDomain, cfg.StepSize, true)
	if err != nil {
		return stages.Domains{}, err
	}
	code, err := domain.Open(cfg.DataDir, kv.CodeDomain, cfg.StepSize, false)
	if err != nil {
		return stages.Domains{}, err
	}
	return stages.Domains{Accounts: accounts, Storage: storage, Code: code}, nil
}

// noopBlockSource never has a next header, so a freshly started node simply
// idles until a real block-source implementation is wired in; this command
// only exercises the coordinator's plumbing, not chain ingestion.
type noopBlockSource struct{}

func (noopBlockSource) NextHeader(common.BlockNum) (*common.Header, bool, error) { return nil, false, nil }
func (noopBlockSource) BodyAt(common.BlockNum, common.Hash) (*common.Body, error) {
	return nil, fmt.Errorf("erigoncore: no block source configured")
}
func (noopBlockSource) ReceiptFor(common.Hash) (*common.Receipt, error) {
	return nil, fmt.Errorf("erigoncore: no block source configured")
}

// revertingEngine is a placeholder evmadapter.Engine: this command wires
// the coordinator end-to-end without depending on a concrete EVM
// implementation (spec §4.14 leaves the EVM external).
type revertingEngine struct{}

func (revertingEngine) Run(host *evmadapter.Host, msg evmadapter.Message, gas uint64) (evmadapter.CallResult, error) {
	return evmadapter.CallResult{Success: false, GasLeft: gas}, nil
}
