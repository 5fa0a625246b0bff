package cli

// Transaction ingress: craft, submit and list pending transactions against
// the local chain store (spec §6's submit_transaction, exercised here
// without the out-of-scope HTTP/REST layer in front of it).

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/caiorlm/logichain/core"
)

type txCreateFlags struct {
	from, to string
	amount   int64
	fee      int64
	nonce    uint64
	payload  string
	out      string
}

func handleTxCreate(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeyTxCreate).(txCreateFlags)
	tx := core.Transaction{
		Type:      core.TxTransfer,
		From:      f.from,
		To:        f.to,
		Amount:    core.AmountFromUnits(f.amount),
		Fee:       core.AmountFromUnits(f.fee),
		Nonce:     f.nonce,
		Timestamp: float64(time.Now().Unix()),
		Payload:   []byte(f.payload),
	}
	out, _ := json.MarshalIndent(&tx, "", "  ")
	if f.out != "" {
		if err := os.WriteFile(f.out, out, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unsigned tx written to %s\n", f.out)
		return nil
	}
	cmd.OutOrStdout().Write(out)
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

type txSubmitFlags struct{ in string }

// handleTxSubmit validates a signed transaction against the replayed
// account state and, once accepted, appends it to the local pending pool
// file the daemon's mempool would otherwise own.
func handleTxSubmit(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeyTxSubmit).(txSubmitFlags)
	raw, err := os.ReadFile(f.in)
	if err != nil {
		return err
	}
	var tx core.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return err
	}
	if len(tx.Signature) == 0 && tx.Type != core.TxMiningReward {
		return core.NewError(core.KindInvalidSignature, "transaction carries no signature")
	}
	if !tx.VerifySenderSignature() {
		return core.NewError(core.KindInvalidSignature, "signature does not recover to from-address").
			WithContext("tx_hash", tx.HashHex())
	}

	p, err := openStore()
	if err != nil {
		return err
	}
	defer p.Close()

	accounts, err := replayAccounts(p)
	if err != nil {
		return err
	}
	sender := accounts.Get(tx.From)
	if tx.Nonce != sender.Nonce+1 {
		return core.NewError(core.KindInvalidNonce, "nonce must equal sender.nonce+1")
	}
	spend, err := tx.Amount.Add(tx.Fee)
	if err != nil {
		return err
	}
	if sender.Balance.Cmp(spend) < 0 {
		return core.NewError(core.KindInsufficientBalance, "amount+fee exceeds sender balance")
	}

	path, err := pendingPoolPath()
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	line, _ := json.Marshal(&tx)
	if _, err := file.Write(append(line, '\n')); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "tx %s accepted\n", tx.HashHex())
	return nil
}

func handleTxPool(cmd *cobra.Command, _ []string) error {
	path, err := pendingPoolPath()
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var tx core.Transaction
		if err := json.Unmarshal(scanner.Bytes(), &tx); err != nil {
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), tx.HashHex())
	}
	return scanner.Err()
}

type txCtxKey int

const (
	ctxKeyTxCreate txCtxKey = iota
	ctxKeyTxSubmit
)

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "craft, submit and list pending transactions",
}

var txCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "craft an unsigned TRANSFER transaction JSON",
	Args:  cobra.NoArgs,
	RunE:  handleTxCreate,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := txCreateFlags{}
		f.from, _ = cmd.Flags().GetString("from")
		f.to, _ = cmd.Flags().GetString("to")
		f.amount, _ = cmd.Flags().GetInt64("amount")
		f.fee, _ = cmd.Flags().GetInt64("fee")
		f.nonce, _ = cmd.Flags().GetUint64("nonce")
		f.payload, _ = cmd.Flags().GetString("payload")
		f.out, _ = cmd.Flags().GetString("out")
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyTxCreate, f))
		return nil
	},
}

var txSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "validate and enqueue a signed transaction JSON",
	Args:  cobra.NoArgs,
	RunE:  handleTxSubmit,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := txSubmitFlags{}
		f.in, _ = cmd.Flags().GetString("in")
		if f.in == "" {
			return core.NewError(core.KindInvalidBlockStructure, "--in required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyTxSubmit, f))
		return nil
	},
}

var txPoolCmd = &cobra.Command{
	Use:   "pool",
	Short: "list pending transaction hashes",
	Args:  cobra.NoArgs,
	RunE:  handleTxPool,
}

func init() {
	txCreateCmd.Flags().String("from", "", "sender address")
	txCreateCmd.Flags().String("to", "", "recipient address")
	txCreateCmd.Flags().Int64("amount", 0, "amount in base units")
	txCreateCmd.Flags().Int64("fee", 0, "fee in base units")
	txCreateCmd.Flags().Uint64("nonce", 0, "sender nonce")
	txCreateCmd.Flags().String("payload", "", "optional payload")
	txCreateCmd.Flags().String("out", "", "output file (stdout if empty)")

	txSubmitCmd.Flags().String("in", "", "signed transaction JSON path")

	txCmd.AddCommand(txCreateCmd, txSubmitCmd, txPoolCmd)
}

// TransactionsCmd is the consolidated export used by RegisterRoutes.
var TransactionsCmd = txCmd
