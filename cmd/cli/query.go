package cli

// Read-only query commands mirroring spec §6's query_account / query_tip /
// query_contract ingress operations.

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caiorlm/logichain/core"
)

type accountView struct {
	Address    string      `json:"address"`
	Balance    core.Amount `json:"balance"`
	Nonce      uint64      `json:"nonce"`
	Reputation float64     `json:"reputation"`
}

func handleQueryAccount(cmd *cobra.Command, args []string) error {
	p, err := openStore()
	if err != nil {
		return err
	}
	defer p.Close()

	accounts, err := replayAccounts(p)
	if err != nil {
		return err
	}
	acc := accounts.Get(args[0])
	out, _ := json.MarshalIndent(accountView{
		Address:    acc.Address,
		Balance:    acc.Balance,
		Nonce:      acc.Nonce,
		Reputation: acc.Reputation,
	}, "", "  ")
	cmd.OutOrStdout().Write(out)
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

type tipView struct {
	Height         uint64 `json:"height"`
	Hash           string `json:"hash"`
	CumulativeWork string `json:"cumulative_work"`
}

func handleQueryTip(cmd *cobra.Command, _ []string) error {
	p, err := openStore()
	if err != nil {
		return err
	}
	defer p.Close()

	height := p.BestHeight()
	b, err := p.BlockAtHeight(height)
	if err != nil {
		return err
	}
	h := b.Hash()
	work, err := core.CumulativeWork(p, height)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(tipView{
		Height:         height,
		Hash:           hex.EncodeToString(h[:]),
		CumulativeWork: work.String(),
	}, "", "  ")
	cmd.OutOrStdout().Write(out)
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

// handleQueryContract prints a contract snapshot from a local JSON file.
// The core subsystem does not index contracts by ID in the block store
// (spec §3's contract_id index is owned by the out-of-scope service layer
// that assembles CONTRACT_CREATE/CHECKPOINT/FINALIZE payloads); this command
// inspects the snapshot that layer would hand the CLI.
func handleQueryContract(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var c core.Contract
	if err := json.Unmarshal(raw, &c); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "contract %s: state=%s checkpoints=%d counterparty=%s\n",
		c.ID, c.State.String(), len(c.Checkpoints), c.Counterparty)
	return nil
}

var queryAccountCmd = &cobra.Command{
	Use:   "query-account [address]",
	Short: "print an address's replayed balance, nonce, and reputation",
	Args:  cobra.ExactArgs(1),
	RunE:  handleQueryAccount,
}

var queryTipCmd = &cobra.Command{
	Use:   "query-tip",
	Short: "print the current chain height and tip hash",
	Args:  cobra.NoArgs,
	RunE:  handleQueryTip,
}

var queryContractCmd = &cobra.Command{
	Use:   "query-contract [snapshot.json]",
	Short: "print a contract's state from a local JSON snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  handleQueryContract,
}

// QueryCmd groups the read-only ingress operations under one route.
var QueryCmd = &cobra.Command{Use: "query"}

func init() {
	QueryCmd.AddCommand(queryAccountCmd, queryTipCmd, queryContractCmd)
}
