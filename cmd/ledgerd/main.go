// main.go - Command line front end for the UTXO ledger.
//
// Commands:
//   ledgerd init              create the ledger files and the transfer proving keys
//   ledgerd demo              define, issue and transfer an asset on a fresh ledger
//   ledgerd apply <block>     apply a CBOR-encoded block of transactions and checkpoint
//   ledgerd inspect           print counters, global hash, health and metrics
//
// Every command reads its settings from the YAML file named by --config,
// which is created with defaults when missing.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/urfave/cli.v1"
	"gopkg.in/yaml.v3"

	"utxoledger/internal/data"
	"utxoledger/internal/keys"
	"utxoledger/internal/ledger"
	"utxoledger/internal/store"
	"utxoledger/internal/xfr"
)

const version = "0.1.0"

var (
	configFlag = cli.StringFlag{
		Name:  "config, c",
		Value: "ledgerd.yaml",
		Usage: "path to the YAML configuration file",
	}
	dirFlag = cli.StringFlag{
		Name:  "dir",
		Usage: "ledger directory for the demo (default: a fresh temporary directory)",
	}
	blockOutFlag = cli.StringFlag{
		Name:  "block-out",
		Usage: "also write the demo block to this file",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "ledgerd"
	app.Usage = "confidential UTXO ledger"
	app.Version = version
	app.Flags = []cli.Flag{configFlag}
	app.Commands = []cli.Command{
		{
			Name:   "init",
			Usage:  "Create the ledger files and transfer proving keys",
			Action: initCommand,
		},
		{
			Name:   "demo",
			Usage:  "Define, issue and transfer an asset on a fresh ledger",
			Flags:  []cli.Flag{dirFlag, blockOutFlag},
			Action: demoCommand,
		},
		{
			Name:      "apply",
			Usage:     "Apply a block of transactions and checkpoint",
			ArgsUsage: "<block file>",
			Action:    applyCommand,
		},
		{
			Name:   "inspect",
			Usage:  "Print ledger counters, global hash, health and metrics",
			Action: inspectCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// daemon holds what every command needs
type daemon struct {
	cfg     *Config
	log     *Logger
	metrics *MetricsCollector
}

func newDaemon(ctx *cli.Context) (*daemon, error) {
	cfg, err := LoadConfig(ctx.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	auditPath := ""
	if cfg.EnableAudit {
		auditPath = cfg.AuditLogPath
	}
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFile, auditPath)
	if err != nil {
		return nil, err
	}
	// every line of one invocation, audit included, carries the same run id
	runID := uuid.NewString()
	logger.Logger = logger.With().Str("run_id", runID).Logger()
	logger.audit = logger.audit.With().Str("run_id", runID).Logger()
	return &daemon{cfg: cfg, log: logger, metrics: NewMetricsCollector()}, nil
}

func (d *daemon) close() {
	if d.cfg.MetricsPath != "" {
		if err := d.metrics.WriteSummary(d.cfg.MetricsPath); err != nil {
			d.log.Warn().Err(err).Msg("failed to write metrics")
		}
	}
	d.log.Close()
}

// loadSystem compiles the transfer circuit and loads or creates its keys
func (d *daemon) loadSystem() (*xfr.System, error) {
	for _, p := range []string{d.cfg.ProvingKeyPath, d.cfg.VerifyingKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	start := time.Now()
	sys, err := xfr.LoadSystem(d.cfg.ProvingKeyPath, d.cfg.VerifyingKeyPath)
	if err != nil {
		return nil, fmt.Errorf("transfer circuit setup: %w", err)
	}
	d.metrics.RecordCircuitSetup(time.Since(start))
	return sys, nil
}

// openLedger loads the ledger in dir, verifying transfers with v
func (d *daemon) openLedger(dir string, v xfr.Verifier) (*ledger.Ledger, store.Paths, error) {
	paths := store.PathsIn(dir)
	state, err := store.Load(paths, store.WithLogger(d.log.Logger))
	if err != nil {
		return nil, paths, err
	}
	l := ledger.New(state, store.NewEffectCompiler(v), ledger.Options{
		Workers:       d.cfg.MaxConcurrency,
		SnapshotEvery: d.cfg.SnapshotEvery,
		Observer:      d.metrics,
		Logger:        d.log.Logger,
	})
	return l, paths, nil
}

func initCommand(ctx *cli.Context) error {
	d, err := newDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	// Step 1: ledger files
	if err := os.MkdirAll(d.cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	paths := store.PathsIn(d.cfg.DataDir)
	if paths.Exists() {
		d.log.Info().Str("dir", d.cfg.DataDir).Msg("ledger already initialized")
	} else {
		state, err := store.New(paths, store.WithLogger(d.log.Logger))
		if err != nil {
			return err
		}
		if err := state.Close(); err != nil {
			return err
		}
	}

	// Step 2: proving keys
	if _, err := d.loadSystem(); err != nil {
		return err
	}
	d.log.Audit("ledger_initialized", map[string]interface{}{
		"data_dir":      d.cfg.DataDir,
		"verifying_key": d.cfg.VerifyingKeyPath,
	})
	fmt.Printf("ledger ready in %s\n", d.cfg.DataDir)
	return nil
}

// demoBlock builds the demo scenario: K1 defines asset A, issues 100 units
// to itself, then sends 40 to K2 and 60 back to itself.
func demoBlock(sys *xfr.System) ([]*data.Transaction, error) {
	k1, err := keys.GenerateKeyPair(nil)
	if err != nil {
		return nil, err
	}
	k2, err := keys.GenerateKeyPair(nil)
	if err != nil {
		return nil, err
	}
	code, err := data.NewAssetTypeCode(nil)
	if err != nil {
		return nil, err
	}

	define, err := data.NewDefineAsset(k1, data.Asset{Code: code, Memo: "demo asset"})
	if err != nil {
		return nil, err
	}

	minted, err := xfr.NewRecord(k1.PublicKey(), 100, code.XfrType())
	if err != nil {
		return nil, err
	}
	issue, err := data.NewIssueAsset(k1, code, 0, []xfr.Record{minted.Record})
	if err != nil {
		return nil, err
	}

	toK2, err := xfr.NewRecord(k2.PublicKey(), 40, code.XfrType())
	if err != nil {
		return nil, err
	}
	change, err := xfr.NewRecord(k1.PublicKey(), 60, code.XfrType())
	if err != nil {
		return nil, err
	}
	note, err := sys.Prove([]xfr.Opened{minted}, []xfr.Opened{toK2, change})
	if err != nil {
		return nil, err
	}
	// the minted record is the first output a fresh ledger allocates
	transfer := data.NewTransferAsset([]data.TxoRef{data.AbsoluteRef(0)}, note)
	if err := transfer.Sign(k1); err != nil {
		return nil, err
	}

	return []*data.Transaction{
		data.NewTransaction(define),
		data.NewTransaction(issue),
		data.NewTransaction(transfer),
	}, nil
}

func demoCommand(ctx *cli.Context) error {
	d, err := newDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	dir := ctx.String("dir")
	if dir == "" {
		if dir, err = os.MkdirTemp("", "ledgerd-demo-"); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	sys, err := d.loadSystem()
	if err != nil {
		return err
	}
	block, err := demoBlock(sys)
	if err != nil {
		return fmt.Errorf("building demo block: %w", err)
	}
	if out := ctx.String("block-out"); out != "" {
		if err := writeBlock(out, block); err != nil {
			return err
		}
	}

	state, err := store.New(store.PathsIn(dir), store.WithLogger(d.log.Logger))
	if err != nil {
		return err
	}
	if err := state.Close(); err != nil {
		return err
	}
	l, _, err := d.openLedger(dir, sys.Verifier())
	if err != nil {
		return err
	}
	defer l.Close()

	if err := d.runBlock(l, block); err != nil {
		return err
	}
	return printState(l)
}

func applyCommand(ctx *cli.Context) error {
	if len(ctx.Args()) != 1 {
		return fmt.Errorf("apply takes exactly one block file")
	}
	d, err := newDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	block, err := readBlock(ctx.Args().First())
	if err != nil {
		return err
	}
	vk, err := xfr.LoadVerifyingKey(d.cfg.VerifyingKeyPath)
	if err != nil {
		return fmt.Errorf("load verifying key (run init first): %w", err)
	}
	l, _, err := d.openLedger(d.cfg.DataDir, xfr.NewVerifier(vk))
	if err != nil {
		return err
	}
	defer l.Close()

	if err := d.runBlock(l, block); err != nil {
		return err
	}
	return printState(l)
}

func inspectCommand(ctx *cli.Context) error {
	d, err := newDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	l, paths, err := d.openLedger(d.cfg.DataDir, nil)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := printState(l); err != nil {
		return err
	}
	hc := NewHealthChecker(version)
	registerLedgerChecks(hc, l, paths)
	if err := printYAML("health", hc.CheckHealth()); err != nil {
		return err
	}
	return printYAML("metrics", d.metrics.GetMetricsSummary())
}

// runBlock applies one block and ends it, treating fatal ledger errors as
// the end of the process.
func (d *daemon) runBlock(l *ledger.Ledger, block []*data.Transaction) error {
	start := time.Now()
	res, err := l.ApplyBlock(context.Background(), block)
	if err != nil {
		if store.IsFatal(err) {
			d.log.Fatal().Err(err).Msg("ledger failed while applying block")
		}
		return err
	}
	d.metrics.RecordBlock(time.Since(start))

	for i, rc := range res.Receipts {
		if rc != nil {
			fmt.Printf("tx %d: applied as %d, outputs %v\n", i, rc.TxnSID, rc.Outputs)
			continue
		}
		fmt.Printf("tx %d: rejected: %v\n", i, res.Errors[i])
		d.log.Audit("tx_rejected", map[string]interface{}{
			"index": i,
			"kind":  store.KindOf(res.Errors[i]).String(),
		})
	}

	hash, err := l.EndBlock()
	if err != nil {
		if store.IsFatal(err) {
			d.log.Fatal().Err(err).Msg("ledger failed while ending block")
		}
		return err
	}
	d.log.Info().Str("global_hash", hash.String()).Int("applied", res.Applied()).Msg("block committed")
	return nil
}

type stateReport struct {
	NextTxn     uint64   `yaml:"next_txn"`
	NextTxo     uint64   `yaml:"next_txo"`
	Unspent     []uint64 `yaml:"unspent"`
	GlobalHash  string   `yaml:"global_hash"`
	CommitCount uint64   `yaml:"commit_count"`
}

func printState(l *ledger.Ledger) error {
	nextTxn, nextTxo := l.Counters()
	hash, count := l.GetGlobalHash()
	return printYAML("ledger", stateReport{
		NextTxn:     uint64(nextTxn),
		NextTxo:     uint64(nextTxo),
		Unspent:     l.GetUtxoMap().Unspent(),
		GlobalHash:  hash.String(),
		CommitCount: count,
	})
}

func printYAML(title string, v interface{}) error {
	raw, err := yaml.Marshal(map[string]interface{}{title: v})
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(raw)
	return err
}

func readBlock(path string) ([]*data.Transaction, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read block: %w", err)
	}
	var txns []data.Transaction
	if err := data.Decode(raw, &txns); err != nil {
		return nil, fmt.Errorf("failed to decode block: %w", err)
	}
	block := make([]*data.Transaction, len(txns))
	for i := range txns {
		block[i] = &txns[i]
	}
	return block, nil
}

func writeBlock(path string, block []*data.Transaction) error {
	raw, err := data.Encode(block)
	if err != nil {
		return fmt.Errorf("failed to encode block: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	return nil
}
