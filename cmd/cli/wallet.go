package cli

// LogiChain wallet CLI – HD key management & transaction signing.
//
// Root command: `wallet`
// Sub-routes:
//   create   – generate a fresh mnemonic + save an encrypted wallet file
//   import   – import an existing mnemonic and save a wallet file
//   address  – derive an address at a given account index
//   sign     – sign a transaction JSON using the derived key
//
// Wallet file layout (JSON, PBKDF2-AES-256-GCM encrypted):
//   {"seed": "", "salt": <hex>, "nonce": <hex>, "cipher": <hex>}
// The seed is stored only inside cipher; the seed field is written empty.
//
// Env vars:
//   LOG_LEVEL – trace|debug|info|warn|error (default info)

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/pbkdf2"

	"github.com/caiorlm/logichain/core"
)

var (
	walletLogger = logrus.StandardLogger()
	walletOnce   sync.Once
)

func initWalletMiddleware(cmd *cobra.Command, _ []string) error {
	var err error
	walletOnce.Do(func() {
		_ = godotenv.Load()
		lvl := os.Getenv("LOG_LEVEL")
		if lvl == "" {
			lvl = "info"
		}
		l, e := logrus.ParseLevel(lvl)
		if e != nil {
			err = e
			return
		}
		walletLogger.SetLevel(l)
		core.SetWalletLogger(walletLogger)
	})
	return err
}

type keystore struct {
	Seed   string `json:"seed"`
	Salt   string `json:"salt"`
	Nonce  string `json:"nonce"`
	Cipher string `json:"cipher"`
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 150_000, 32, sha256.New)
}

func encryptSeed(seed []byte, password string) (*keystore, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	cipherText := gcm.Seal(nil, nonce, seed, nil)
	return &keystore{
		Salt:   hex.EncodeToString(salt),
		Nonce:  hex.EncodeToString(nonce),
		Cipher: hex.EncodeToString(cipherText),
	}, nil
}

func decryptSeed(ks *keystore, password string) ([]byte, error) {
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, err
	}
	cipherText, err := hex.DecodeString(ks.Cipher)
	if err != nil {
		return nil, err
	}
	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, cipherText, nil)
}

type createFlags struct {
	out      string
	pwd      string
	passphrase string
}

func handleWalletCreate(cmd *cobra.Command, _ []string) error {
	cf := cmd.Context().Value(ctxKeyCreate).(createFlags)
	mnemonic, err := core.NewMnemonic()
	if err != nil {
		return err
	}
	seed, err := core.SeedFromMnemonic(mnemonic, cf.passphrase)
	if err != nil {
		return err
	}
	_, address, err := core.NewHDWallet(seed).DeriveAccount(0)
	if err != nil {
		return err
	}
	ks, err := encryptSeed(seed, cf.pwd)
	if err != nil {
		return err
	}
	data, _ := json.MarshalIndent(ks, "", "  ")
	if cf.out != "" {
		if err := os.WriteFile(cf.out, data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wallet saved to %s\n", cf.out)
	} else {
		cmd.OutOrStdout().Write(data)
		fmt.Fprintln(cmd.OutOrStdout())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "mnemonic (WRITE IT DOWN): %s\n", mnemonic)
	fmt.Fprintf(cmd.OutOrStdout(), "first derived address: %s\n", address)
	return nil
}

type importFlags struct {
	mnemonic   string
	passphrase string
	pwd        string
	out        string
}

func handleWalletImport(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeyImport).(importFlags)
	seed, err := core.SeedFromMnemonic(f.mnemonic, f.passphrase)
	if err != nil {
		return err
	}
	ks, err := encryptSeed(seed, f.pwd)
	if err != nil {
		return err
	}
	data, _ := json.MarshalIndent(ks, "", "  ")
	if f.out != "" {
		if err := os.WriteFile(f.out, data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wallet saved to %s\n", f.out)
	} else {
		cmd.OutOrStdout().Write(data)
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

func loadWallet(path, pwd string) (*core.HDWallet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystore
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, err
	}
	seed, err := decryptSeed(&ks, pwd)
	if err != nil {
		return nil, err
	}
	return core.NewHDWallet(seed), nil
}

type addrFlags struct {
	wallet string
	pwd    string
	index  uint32
}

func handleWalletAddress(cmd *cobra.Command, _ []string) error {
	af := cmd.Context().Value(ctxKeyAddr).(addrFlags)
	w, err := loadWallet(af.wallet, af.pwd)
	if err != nil {
		return err
	}
	_, addr, err := w.DeriveAccount(af.index)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), addr)
	return nil
}

type signFlags struct {
	wallet string
	pwd    string
	index  uint32
	txIn   string
	txOut  string
}

func handleWalletSign(cmd *cobra.Command, _ []string) error {
	sf := cmd.Context().Value(ctxKeySign).(signFlags)
	w, err := loadWallet(sf.wallet, sf.pwd)
	if err != nil {
		return err
	}
	priv, _, err := w.DeriveAccount(sf.index)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(sf.txIn)
	if err != nil {
		return err
	}
	var tx core.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return err
	}
	if err := tx.SignWith(core.AlgoECDSA, priv); err != nil {
		return err
	}
	out, _ := json.MarshalIndent(&tx, "", "  ")
	if sf.txOut != "" {
		if err := os.WriteFile(sf.txOut, out, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signed tx written to %s\n", sf.txOut)
	} else {
		cmd.OutOrStdout().Write(out)
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

type ctxKey int

const (
	ctxKeyCreate ctxKey = iota
	ctxKeyImport
	ctxKeyAddr
	ctxKeySign
)

var walletCmd = &cobra.Command{
	Use:               "wallet",
	Short:             "HD wallet management & transaction signing",
	PersistentPreRunE: initWalletMiddleware,
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Args:  cobra.NoArgs,
	Short: "generate a new mnemonic and encrypted wallet file",
	RunE:  handleWalletCreate,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cf := createFlags{}
		cf.out, _ = cmd.Flags().GetString("out")
		cf.pwd, _ = cmd.Flags().GetString("password")
		cf.passphrase, _ = cmd.Flags().GetString("passphrase")
		if cf.pwd == "" {
			return errors.New("--password required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyCreate, cf))
		return nil
	},
}

var walletImportCmd = &cobra.Command{
	Use:   "import",
	Short: "import an existing mnemonic",
	Args:  cobra.NoArgs,
	RunE:  handleWalletImport,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := importFlags{}
		f.mnemonic, _ = cmd.Flags().GetString("mnemonic")
		f.passphrase, _ = cmd.Flags().GetString("passphrase")
		f.out, _ = cmd.Flags().GetString("out")
		f.pwd, _ = cmd.Flags().GetString("password")
		if f.mnemonic == "" || f.pwd == "" {
			return errors.New("--mnemonic and --password required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyImport, f))
		return nil
	},
}

var walletAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "derive an address from a wallet file",
	Args:  cobra.NoArgs,
	RunE:  handleWalletAddress,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		af := addrFlags{}
		af.wallet, _ = cmd.Flags().GetString("wallet")
		af.pwd, _ = cmd.Flags().GetString("password")
		af.index, _ = cmd.Flags().GetUint32("index")
		if af.wallet == "" || af.pwd == "" {
			return errors.New("--wallet and --password required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyAddr, af))
		return nil
	},
}

var walletSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "sign a transaction JSON with a derived key",
	Args:  cobra.NoArgs,
	RunE:  handleWalletSign,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		sf := signFlags{}
		sf.wallet, _ = cmd.Flags().GetString("wallet")
		sf.pwd, _ = cmd.Flags().GetString("password")
		sf.index, _ = cmd.Flags().GetUint32("index")
		sf.txIn, _ = cmd.Flags().GetString("in")
		sf.txOut, _ = cmd.Flags().GetString("out")
		if sf.wallet == "" || sf.pwd == "" || sf.txIn == "" {
			return errors.New("--wallet, --password and --in required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeySign, sf))
		return nil
	},
}

func init() {
	walletCreateCmd.Flags().String("out", "", "output wallet file (stdout if empty)")
	walletCreateCmd.Flags().String("password", "", "encryption password")
	walletCreateCmd.Flags().String("passphrase", "", "optional BIP-39 passphrase")

	walletImportCmd.Flags().String("mnemonic", "", "BIP-39 mnemonic words")
	walletImportCmd.Flags().String("passphrase", "", "optional BIP-39 passphrase")
	walletImportCmd.Flags().String("password", "", "encryption password")
	walletImportCmd.Flags().String("out", "", "output wallet file (stdout if empty)")

	walletAddressCmd.Flags().String("wallet", "", "wallet file path")
	walletAddressCmd.Flags().String("password", "", "wallet password")
	walletAddressCmd.Flags().Uint32("index", 0, "derivation index")

	walletSignCmd.Flags().String("wallet", "", "wallet file path")
	walletSignCmd.Flags().String("password", "", "wallet password")
	walletSignCmd.Flags().Uint32("index", 0, "derivation index")
	walletSignCmd.Flags().String("in", "", "unsigned transaction JSON path")
	walletSignCmd.Flags().String("out", "", "output signed transaction path (stdout if empty)")

	walletCmd.AddCommand(walletCreateCmd, walletImportCmd, walletAddressCmd, walletSignCmd)
}

// WalletCmd is the consolidated export used by RegisterRoutes.
var WalletCmd = walletCmd
