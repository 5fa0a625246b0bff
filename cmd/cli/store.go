package cli

// Shared helpers for CLI commands that read or append to the daemon's
// on-disk chain store directly (spec §6's ingress operations, exercised
// here without the out-of-scope HTTP/REST layer in front of them).

import (
	"os"
	"path/filepath"

	"github.com/caiorlm/logichain/core"
	"github.com/caiorlm/logichain/pkg/config"
)

func dbPathFromConfig() (string, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return "", err
	}
	return cfg.Storage.DBPath, nil
}

func openStore() (*core.Persistence, error) {
	dbPath, err := dbPathFromConfig()
	if err != nil {
		return nil, err
	}
	return core.OpenPersistence(dbPath, 0)
}

// applyParamsFromConfig builds the thresholds core.ApplyBlock needs from the
// same configuration group the daemon reads them from (cmd/logichain/main.go),
// so offline CLI replay and the live daemon never diverge on contract
// validation rules.
func applyParamsFromConfig(cfg *config.Config) core.ApplyParams {
	return core.ApplyParams{
		TDriftSeconds:         cfg.Geography.TDriftSeconds,
		GPSAccuracyLimitM:     cfg.Geography.GPSAccuracyLimitM,
		MaxStepKm:             cfg.Geography.MaxStepKm,
		HalvingIntervalBlocks: cfg.Consensus.HalvingIntervalBlocks,
	}
}

// replayState rebuilds both account balances and contract state by walking
// every block from genesis to the best height through core.ReplayChain, the
// same entry point the daemon uses on startup — so a TRANSFER, a
// CONTRACT_FINALIZE payout split, or an escrow debit all land on the exact
// same balances here as they would online (spec §5: "readers obtain
// immutable snapshots via replay").
func replayState(p *core.Persistence) (*core.AccountStore, *core.ContractRegistry, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	return core.ReplayChain(p, p.BestHeight(), applyParamsFromConfig(cfg))
}

// replayAccounts is the account-only convenience wrapper around replayState
// for callers that never need contract state.
func replayAccounts(p *core.Persistence) (*core.AccountStore, error) {
	accounts, _, err := replayState(p)
	return accounts, err
}

// pendingPoolPath is the local queue submit-transaction appends to and
// tx-pool lists from, standing in for the daemon's in-memory mempool when
// the CLI runs offline (no RPC ingress in scope here).
func pendingPoolPath() (string, error) {
	dbPath, err := dbPathFromConfig()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(dbPath, "chainstate")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "PENDING"), nil
}
