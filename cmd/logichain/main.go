package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caiorlm/logichain/core"
	"github.com/caiorlm/logichain/pkg/config"
)

// Exit codes for the core daemon (spec-mandated at the process boundary):
// 0 normal, 1 configuration error, 2 persistence corruption unrecoverable,
// 3 incompatible genesis.
const (
	exitOK              = 0
	exitConfigError     = 1
	exitPersistenceFail = 2
	exitGenesisMismatch = 3
)

var log = logrus.WithField("component", "daemon")

func main() {
	rootCmd := &cobra.Command{Use: "logichain"}
	rootCmd.AddCommand(startCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitConfigError)
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the LogiChain core daemon",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(run())
		},
	}
	return cmd
}

// run wires the eight core actors together, seeds or verifies genesis, and
// blocks assembling/mining blocks from the mempool until a termination
// signal arrives. It returns the process exit code rather than calling
// os.Exit directly so it can be exercised without tearing down the test
// binary.
func run() int {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Error("load configuration")
		return exitConfigError
	}

	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(lvl)
	}

	mode := core.ModeOnGrid
	if cfg.Consensus.Mode == "OFF_GRID" {
		mode = core.ModeOffGrid
	}
	caps := core.ModeCaps{
		BlockSizeCapBytes:          cfg.Consensus.BlockSizeCapBytes,
		TxCountCap:                 cfg.Consensus.TxCountCap,
		TargetBlockTimeSeconds:     cfg.Consensus.TargetBlockTimeSeconds,
		DifficultyRetargetInterval: cfg.Consensus.DifficultyRetargetInterval,
	}
	if caps.BlockSizeCapBytes == 0 {
		caps = core.DefaultCaps(mode)
	}

	persistence, err := core.OpenPersistence(cfg.Storage.DBPath, cfg.Storage.SegmentMax)
	if err != nil {
		log.WithError(err).Error("open persistence")
		return exitPersistenceFail
	}
	defer persistence.Close()

	genesisHeight := persistence.BestHeight()
	tipBlock, err := persistence.BlockAtHeight(0)
	if err != nil {
		// Fresh store: mint genesis from the configured wallets.
		tipBlock, err = seedGenesis(persistence, cfg, mode)
		if err != nil {
			log.WithError(err).Error("seed genesis")
			return exitPersistenceFail
		}
	} else if !genesisMatchesConfig(tipBlock, cfg) {
		log.Error("on-disk genesis does not match configured genesis wallets")
		return exitGenesisMismatch
	}

	tip := tipBlock
	if genesisHeight > 0 {
		if b, err := persistence.BlockAtHeight(genesisHeight); err == nil {
			tip = b
		}
	}
	tipHash := tip.Hash()
	tipWork, err := core.CumulativeWork(persistence, tip.Height)
	if err != nil {
		log.WithError(err).Error("recompute cumulative work")
		return exitPersistenceFail
	}
	forkMgr := core.NewForkManager(persistence, cfg.Consensus.ReorgWindow, tipHash, tip.Height, tipWork)

	applyParams := core.ApplyParams{
		TDriftSeconds:         cfg.Geography.TDriftSeconds,
		GPSAccuracyLimitM:     cfg.Geography.GPSAccuracyLimitM,
		MaxStepKm:             cfg.Geography.MaxStepKm,
		HalvingIntervalBlocks: cfg.Consensus.HalvingIntervalBlocks,
	}
	// Account and contract state is rebuilt by replaying every persisted
	// block through core.ApplyBlock rather than just the genesis block, so
	// a restarted daemon picks its ledger back up exactly where it left
	// off (spec §3's core ownership model) instead of starting frozen at
	// genesis.
	accounts, contracts, err := core.ReplayChain(persistence, tip.Height, applyParams)
	if err != nil {
		log.WithError(err).Error("replay chain state")
		return exitPersistenceFail
	}

	mempool := core.NewMempool(int64(cfg.Consensus.MempoolMaxBytes))
	committee := core.NewCommittee(cfg.Consensus.CommitteeSize)
	committee.RotateEpoch(0)
	grid := core.NewCoordinateGrid(cfg.Geography.MaxCoordinateOpsPerMinute)
	access := core.NewAccessController()
	for _, w := range cfg.Genesis.Wallets {
		access.GrantRole(w.Address, core.RoleEstablishment)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var eventBus *core.EventBus
	if cfg.Network.P2PPort != 0 {
		eb, err := core.NewEventBus(ctx, cfg.Network.ID, cfg.Network.ListenAddr)
		if err != nil {
			log.WithError(err).Warn("event bus disabled: p2p host failed to start")
		} else {
			eventBus = eb
			defer eventBus.Close()
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	minerAddr := miningAddress(cfg)
	log.WithFields(logrus.Fields{
		"mode":   mode,
		"height": tip.Height,
	}).Info("daemon started")

	ticker := time.NewTicker(time.Duration(caps.TargetBlockTimeSeconds) * time.Second)
	defer ticker.Stop()

	difficulty := tip.Difficulty
	retargetStart := tip.Height
	retargetStartTime := float64(time.Now().Unix())

	for {
		select {
		case <-sigs:
			log.Info("shutdown signal received")
			return exitOK
		case <-ticker.C:
			if caps.DifficultyRetargetInterval > 0 && tip.Height-retargetStart >= caps.DifficultyRetargetInterval {
				now := float64(time.Now().Unix())
				expected := float64(caps.DifficultyRetargetInterval) * caps.TargetBlockTimeSeconds
				difficulty = core.RetargetDifficulty(difficulty, now-retargetStartTime, expected)
				retargetStart = tip.Height
				retargetStartTime = now
			}
			assembled := core.AssembleBlock(tip, mempool, caps, mode, minerAddr,
				core.MiningSchedule(tip.Height+1, cfg.Consensus.HalvingIntervalBlocks, core.AmountFromUnits(50)),
				difficulty, float64(time.Now().Unix()))
			ok, err := core.Mine(ctx, assembled)
			if err != nil || !ok {
				continue
			}
			if err := core.ValidateBlock(assembled, tip, caps, float64(time.Now().Unix())); err != nil {
				log.WithError(err).Warn("mined block failed validation")
				continue
			}
			// AddBlock is the Persistence actor's only writer for this
			// block: it appends when the block extends the known tip and
			// may instead promote a heavier pending fork, so the eventual
			// canonical tip is not always the block just mined.
			if err := forkMgr.AddBlock(assembled); err != nil {
				log.WithError(err).Warn("fork manager rejected mined block")
				continue
			}
			if forkMgr.TipHash() == assembled.Hash() {
				if err := core.ApplyBlock(accounts, contracts, grid, assembled, applyParams); err != nil {
					log.WithError(err).Error("apply mined block, resyncing account/contract state from disk")
					if accounts, contracts, err = core.ReplayChain(persistence, forkMgr.TipHeight(), applyParams); err != nil {
						log.WithError(err).Error("resync after apply failure")
						return exitPersistenceFail
					}
				}
				mempool.Remove(assembled.Txs[1:])
				tip = assembled
			} else {
				// A heavier competing branch was promoted ahead of our own
				// block (spec §4.7 reorg): rather than reverse-delta an
				// unknown replaced suffix, rebuild account/contract state
				// by replaying the new canonical chain from genesis.
				newTip, err := persistence.BlockAtHeight(forkMgr.TipHeight())
				if err != nil {
					log.WithError(err).Error("load reorganized tip")
					continue
				}
				if accounts, contracts, err = core.ReplayChain(persistence, forkMgr.TipHeight(), applyParams); err != nil {
					log.WithError(err).Error("resync account/contract state after reorg")
					continue
				}
				tip = newTip
				log.WithField("height", tip.Height).Warn("reorganized onto a heavier competing chain")
			}
			if eventBus != nil {
				eventBus.Emit(core.EventBlockAppended, tip.Hash())
			}
		}
	}
}

// seedGenesis constructs and persists the height-0 block crediting each
// configured genesis wallet, matching spec §6's enumerated genesis_wallets.
// Accounts are credited by the caller's subsequent core.ReplayChain call,
// not here, so genesis seeding stays a pure persistence operation.
func seedGenesis(p *core.Persistence, cfg *config.Config, mode core.Mode) (*core.Block, error) {
	txs := make([]core.Transaction, 0, len(cfg.Genesis.Wallets)+1)
	txs = append(txs, core.Transaction{Type: core.TxMiningReward, To: "genesis", Amount: core.ZeroAmount()})
	for _, w := range cfg.Genesis.Wallets {
		txs = append(txs, core.Transaction{
			Type:   core.TxMiningReward,
			To:     w.Address,
			Amount: core.AmountFromUnits(int64(w.Units)),
		})
	}
	b := &core.Block{Height: 0, Difficulty: 0, Mode: mode, Txs: txs}
	b.MerkleRoot = b.ComputeMerkleRoot()
	if err := p.AppendBlock(b); err != nil {
		return nil, err
	}
	return b, nil
}

// genesisMatchesConfig reports whether the on-disk genesis block credits
// exactly the wallets the loaded configuration enumerates.
func genesisMatchesConfig(genesis *core.Block, cfg *config.Config) bool {
	want := make(map[string]int64, len(cfg.Genesis.Wallets))
	for _, w := range cfg.Genesis.Wallets {
		want[w.Address] = int64(w.Units)
	}
	got := make(map[string]int64, len(genesis.Txs))
	for _, tx := range genesis.Txs {
		if tx.To == "" || tx.To == "genesis" {
			continue
		}
		got[tx.To] = tx.Amount.Units().Int64()
	}
	if len(want) != len(got) {
		return false
	}
	for addr, units := range want {
		if got[addr] != units {
			return false
		}
	}
	return true
}

func miningAddress(cfg *config.Config) string {
	if len(cfg.Genesis.Wallets) > 0 {
		return cfg.Genesis.Wallets[0].Address
	}
	return fmt.Sprintf("%smined0000000000000000000", core.AddressPrefix)
}
