package cli

// Block ingress: submit a mined block's wire bytes to the local chain store
// (spec §6's submit_block).

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/caiorlm/logichain/core"
	"github.com/caiorlm/logichain/pkg/config"
)

func handleBlockSubmit(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	b, err := core.DecodeBlock(raw)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	p, err := openStore()
	if err != nil {
		return err
	}
	defer p.Close()

	height := p.BestHeight()
	tip, err := p.BlockAtHeight(height)
	if err != nil {
		return err
	}

	mode := core.ModeOnGrid
	if cfg.Consensus.Mode == "OFF_GRID" {
		mode = core.ModeOffGrid
	}
	caps := core.DefaultCaps(mode)
	if cfg.Consensus.BlockSizeCapBytes != 0 {
		caps.BlockSizeCapBytes = cfg.Consensus.BlockSizeCapBytes
		caps.TxCountCap = cfg.Consensus.TxCountCap
	}
	nowUnix := float64(time.Now().Unix())
	if err := core.ValidateBlock(b, tip, caps, nowUnix); err != nil {
		return err
	}

	tipHash := tip.Hash()
	tipWork, err := core.CumulativeWork(p, tip.Height)
	if err != nil {
		return err
	}
	fm := core.NewForkManager(p, cfg.Consensus.ReorgWindow, tipHash, tip.Height, tipWork)
	if err := fm.AddBlock(b); err != nil {
		return err
	}

	h := b.Hash()
	fmt.Fprintf(cmd.OutOrStdout(), "block %s accepted at height %d\n", hex.EncodeToString(h[:]), b.Height)
	return nil
}

var blockCmd = &cobra.Command{Use: "block"}

var blockSubmitCmd = &cobra.Command{
	Use:   "submit [block.bin]",
	Short: "submit a wire-encoded block to the local chain store",
	Args:  cobra.ExactArgs(1),
	RunE:  handleBlockSubmit,
}

func init() {
	blockCmd.AddCommand(blockSubmitCmd)
}

// BlockCmd is the consolidated export used by RegisterRoutes.
var BlockCmd = blockCmd
