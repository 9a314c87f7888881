package walletkit

import (
	"encoding/hex"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	DefaultMaxFeePerGas         = int64(25e9)
	DefaultMaxPriorityFeePerGas = int64(1e6)

	DefaultReceiptTimeout = 120 * time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultSubmitAttempts = 3
	DefaultSubmitBackoff  = 500 * time.Millisecond
	DefaultInitFailureCap = 3
	DefaultDebounceWindow = 250 * time.Millisecond
)

type Config struct {
	// The url of node.
	NodeUrl string
	// The url of bundler.
	BundlerUrl string
	// The url of the paymaster sponsorship endpoint.
	// Leave empty to send unsponsored operations only.
	PaymasterUrl string
	// The entrypoint address.
	// Currently, it supports Entrypoint V0.6.0
	Entrypoint common.Address
	// The simple account factory address.
	AccountFactory common.Address
	// Salt used when deriving the smart account address.
	Salt *big.Int
	// The interval to query the receipt.
	WaitReceiptInterval time.Duration
	// How long to poll for a receipt before giving up.
	// A timeout means the outcome is unknown, not that the operation failed.
	ReceiptTimeout time.Duration
	// Submission retry policy for transient bundler failures.
	SubmitAttempts int
	SubmitBackoff  time.Duration
	// Consecutive wallet-initialization failures tolerated per owner identity.
	InitFailureCap int
	// Window used to coalesce rapid connection-state changes into one
	// initialization attempt.
	DebounceWindow time.Duration
}

// withDefaults returns a copy of the config with zero fields filled in.
func (c Config) withDefaults() Config {
	if c.Salt == nil {
		c.Salt = big.NewInt(0)
	}
	if c.WaitReceiptInterval == 0 {
		c.WaitReceiptInterval = DefaultPollInterval
	}
	if c.ReceiptTimeout == 0 {
		c.ReceiptTimeout = DefaultReceiptTimeout
	}
	if c.SubmitAttempts == 0 {
		c.SubmitAttempts = DefaultSubmitAttempts
	}
	if c.SubmitBackoff == 0 {
		c.SubmitBackoff = DefaultSubmitBackoff
	}
	if c.InitFailureCap == 0 {
		c.InitFailureCap = DefaultInitFailureCap
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	return c
}

// Call is an immutable description of one contract invocation. It is the
// input to the builder; the account contract's execute entry point carries it
// on-chain.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// UserOperation represents the base structure for operations by ERC-4337.
// Supported EntryPoint V0.6.0.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"`
	Signature            []byte         `json:"signature"`
}

// Clone returns a deep copy. Later pipeline stages augment copies instead of
// mutating operations they were handed.
func (u *UserOperation) Clone() *UserOperation {
	if u == nil {
		return nil
	}
	c := &UserOperation{Sender: u.Sender}
	c.Nonce = copyBig(u.Nonce)
	c.InitCode = copyBytes(u.InitCode)
	c.CallData = copyBytes(u.CallData)
	c.CallGasLimit = copyBig(u.CallGasLimit)
	c.VerificationGasLimit = copyBig(u.VerificationGasLimit)
	c.PreVerificationGas = copyBig(u.PreVerificationGas)
	c.MaxFeePerGas = copyBig(u.MaxFeePerGas)
	c.MaxPriorityFeePerGas = copyBig(u.MaxPriorityFeePerGas)
	c.PaymasterAndData = copyBytes(u.PaymasterAndData)
	c.Signature = copyBytes(u.Signature)
	return c
}

// copyBytes keeps nil and empty distinct so a clone compares equal to its
// source.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// ToBody converts the UserOperation to a map of strings.
// It helps to perform json request.
func (u *UserOperation) ToBody() map[string]string {
	body := make(map[string]string)
	body["sender"] = u.Sender.Hex()
	if u.Nonce != nil {
		body["nonce"] = "0x" + u.Nonce.Text(16)
	} else {
		body["nonce"] = "0x0"
	}
	body["initCode"] = "0x" + hex.EncodeToString(u.InitCode)
	body["callData"] = "0x" + hex.EncodeToString(u.CallData)
	body["callGasLimit"] = bigHexOrZero(u.CallGasLimit)
	body["verificationGasLimit"] = bigHexOrZero(u.VerificationGasLimit)
	body["preVerificationGas"] = bigHexOrZero(u.PreVerificationGas)
	body["maxFeePerGas"] = bigHexOrZero(u.MaxFeePerGas)
	body["maxPriorityFeePerGas"] = bigHexOrZero(u.MaxPriorityFeePerGas)
	body["paymasterAndData"] = "0x" + hex.EncodeToString(u.PaymasterAndData)
	body["signature"] = "0x" + hex.EncodeToString(u.Signature)
	return body
}

func bigHexOrZero(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

// GasEstimate carries the bundler's gas limits for a user operation. These
// fields are part of the signed digest, so they are merged in before signing.
type GasEstimate struct {
	CallGasLimit         *big.Int `json:"callGasLimit"`
	VerificationGasLimit *big.Int `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int `json:"preVerificationGas"`
}

// TransactionResult is the one user-visible artifact of the pipeline,
// produced only after a bundler receipt confirms inclusion.
type TransactionResult struct {
	UserOpHash  common.Hash
	TxHash      common.Hash
	BlockNumber *big.Int
	GasUsed     *big.Int
	Success     bool
}

type receipt struct {
	BlockHash         common.Hash    `json:"blockHash"`
	BlockNumber       string         `json:"blockNumber"`
	From              common.Address `json:"from"`
	CumulativeGasUsed string         `json:"cumulativeGasUsed"`
	GasUsed           string         `json:"gasUsed"`
	Logs              []*types.Log   `json:"logs"`
	TransactionHash   common.Hash    `json:"transactionHash"`
	TransactionIndex  string         `json:"transactionIndex"`
	EffectiveGasPrice string         `json:"effectiveGasPrice"`
}

type UserOpReceipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Paymaster     common.Address `json:"paymaster"`
	Nonce         string         `json:"nonce"`
	Success       bool           `json:"success"`
	ActualGasCost string         `json:"actualGasCost"`
	ActualGasUsed string         `json:"actualGasUsed"`
	Receipt       *receipt       `json:"receipt"`
	Logs          []*types.Log   `json:"logs"`
}

// Result converts a confirmed receipt into a TransactionResult.
func (r *UserOpReceipt) Result() *TransactionResult {
	res := &TransactionResult{
		UserOpHash: r.UserOpHash,
		Success:    r.Success,
		GasUsed:    HexToBigInt(r.ActualGasUsed),
	}
	if r.Receipt != nil {
		res.TxHash = r.Receipt.TransactionHash
		res.BlockNumber = HexToBigInt(r.Receipt.BlockNumber)
	}
	return res
}
